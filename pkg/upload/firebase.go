package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

const (
	DefaultFirebaseAuthURL    = "https://identitytoolkit.googleapis.com"
	DefaultFirebaseTokenURL   = "https://securetoken.googleapis.com"
	DefaultFirebaseStorageURL = "https://firebasestorage.googleapis.com"

	// renew the ID token this long before it expires
	tokenSkew = time.Minute
)

type FirebaseConfig struct {
	APIKey   string `json:"apiKey"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Bucket   string `json:"bucket"`
	Folder   string `json:"folder"`

	// RetryIntervalMs is the wait between failed sign-in attempts.
	RetryIntervalMs int `json:"retryIntervalMs"`

	AuthURL    string `json:"authURL,omitempty"`
	TokenURL   string `json:"tokenURL,omitempty"`
	StorageURL string `json:"storageURL,omitempty"`
}

// Firebase uploads into Firebase Storage as an email/password user.
type Firebase struct {
	cfg    FirebaseConfig
	client *http.Client
	now    func() time.Time

	mu           sync.Mutex
	idToken      string
	refreshToken string
	expiresAt    time.Time
	nextAttempt  time.Time
}

func NewFirebase(cfg FirebaseConfig, timeout time.Duration) (*Firebase, error) {
	if cfg.APIKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("firebase api key and bucket are required")
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultFirebaseAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultFirebaseTokenURL
	}
	if cfg.StorageURL == "" {
		cfg.StorageURL = DefaultFirebaseStorageURL
	}
	if cfg.RetryIntervalMs <= 0 {
		cfg.RetryIntervalMs = 30000
	}
	return &Firebase{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}, nil
}

// Ready reports whether a valid ID token is at hand, signing in or renewing
// the token when needed. Failed attempts are not repeated before the retry
// interval has passed.
func (f *Firebase) Ready(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := f.token(ctx)
	return err == nil
}

func (f *Firebase) token(ctx context.Context) (string, error) {
	now := f.now()
	if f.idToken != "" && now.Add(tokenSkew).Before(f.expiresAt) {
		return f.idToken, nil
	}
	if now.Before(f.nextAttempt) {
		return "", fmt.Errorf("firebase: waiting until %s before signing in again", f.nextAttempt.Format(time.TimeOnly))
	}

	var err error
	if f.refreshToken != "" {
		err = f.refresh(ctx)
		if err != nil {
			logger.Warnf("firebase: token refresh err: %s, signing in again", err)
			f.refreshToken = ""
		}
	}
	if f.refreshToken == "" {
		err = f.signIn(ctx)
	}
	if err != nil {
		f.idToken = ""
		f.nextAttempt = now.Add(time.Duration(f.cfg.RetryIntervalMs) * time.Millisecond)
		logger.Errorf("firebase: sign in err: %s", err)
		return "", err
	}
	logger.Infof("firebase: token valid until %s", f.expiresAt.Format(time.DateTime))

	return f.idToken, nil
}

type signInResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

func (f *Firebase) signIn(ctx context.Context) error {
	body, err := json.Marshal(map[string]any{
		"email":             f.cfg.Email,
		"password":          f.cfg.Password,
		"returnSecureToken": true,
	})
	if err != nil {
		return err
	}
	target := f.cfg.AuthURL + "/v1/accounts:signInWithPassword?key=" + url.QueryEscape(f.cfg.APIKey)
	var res signInResponse
	if err = f.postJSON(ctx, target, "application/json", bytes.NewReader(body), &res); err != nil {
		return err
	}
	return f.setToken(res.IDToken, res.RefreshToken, res.ExpiresIn)
}

type refreshResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
}

func (f *Firebase) refresh(ctx context.Context) error {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {f.refreshToken},
	}
	target := f.cfg.TokenURL + "/v1/token?key=" + url.QueryEscape(f.cfg.APIKey)
	var res refreshResponse
	if err := f.postJSON(ctx, target, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), &res); err != nil {
		return err
	}
	return f.setToken(res.IDToken, res.RefreshToken, res.ExpiresIn)
}

func (f *Firebase) setToken(idToken, refreshToken, expiresIn string) error {
	if idToken == "" {
		return fmt.Errorf("firebase: empty id token in response")
	}
	secs, err := strconv.Atoi(expiresIn)
	if err != nil {
		return fmt.Errorf("firebase: bad token lifetime %q", expiresIn)
	}
	f.idToken = idToken
	f.refreshToken = refreshToken
	f.expiresAt = f.now().Add(time.Duration(secs) * time.Second)
	return nil
}

type storageObject struct {
	Name           string `json:"name"`
	Bucket         string `json:"bucket"`
	DownloadTokens string `json:"downloadTokens"`
}

// Upload stores the image and returns its download URL.
func (f *Firebase) Upload(ctx context.Context, data []byte, mimeType, filename string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, err := f.token(ctx)
	if err != nil {
		return "", err
	}

	name := path.Join(f.cfg.Folder, filename)
	target := fmt.Sprintf("%s/v0/b/%s/o?uploadType=media&name=%s",
		f.cfg.StorageURL, url.PathEscape(f.cfg.Bucket), url.QueryEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("Authorization", "Firebase "+token)

	var obj storageObject
	if err = f.do(req, &obj); err != nil {
		return "", err
	}
	return f.downloadURL(obj), nil
}

func (f *Firebase) downloadURL(obj storageObject) string {
	bucket := obj.Bucket
	if bucket == "" {
		bucket = f.cfg.Bucket
	}
	u := fmt.Sprintf("%s/v0/b/%s/o/%s?alt=media", f.cfg.StorageURL, url.PathEscape(bucket), url.PathEscape(obj.Name))
	if obj.DownloadTokens != "" {
		// several tokens may be listed, any of them works
		token, _, _ := strings.Cut(obj.DownloadTokens, ",")
		u += "&token=" + url.QueryEscape(token)
	}
	return u
}

func (f *Firebase) postJSON(ctx context.Context, target, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	return f.do(req, out)
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (f *Firebase) do(req *http.Request, out any) error {
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var apiErr apiError
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%d %s", resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
