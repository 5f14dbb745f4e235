package upload

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"cat-shutter-pi/pkg/types"
)

// fakeFirebase serves the identity, token and storage endpoints.
type fakeFirebase struct {
	mu        sync.Mutex
	signIns   int
	refreshes int
	uploads   map[string][]byte
	authHdr   []string

	badPassword bool
	denyUpload  bool
	expiresIn   string
}

func newFakeFirebase(t *testing.T) (*fakeFirebase, *httptest.Server) {
	gin.SetMode(gin.TestMode)
	f := &fakeFirebase{uploads: map[string][]byte{}, expiresIn: "3600"}

	r := gin.New()
	r.POST("/v1/*action", func(c *gin.Context) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c.Query("key") != "api-key" {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": 400, "message": "API_KEY_INVALID"}})
			return
		}
		switch c.Param("action") {
		case "/accounts:signInWithPassword":
			var req struct {
				Email    string `json:"email"`
				Password string `json:"password"`
			}
			if err := c.ShouldBindJSON(&req); err != nil || f.badPassword || req.Password != "secret" {
				c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": 400, "message": "INVALID_PASSWORD"}})
				return
			}
			f.signIns++
			c.JSON(http.StatusOK, gin.H{
				"idToken":      "id-signin",
				"refreshToken": "refresh-1",
				"expiresIn":    f.expiresIn,
			})
		case "/token":
			if c.PostForm("grant_type") != "refresh_token" || c.PostForm("refresh_token") != "refresh-1" {
				c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": 400, "message": "INVALID_REFRESH_TOKEN"}})
				return
			}
			f.refreshes++
			c.JSON(http.StatusOK, gin.H{
				"id_token":      "id-refreshed",
				"refresh_token": "refresh-1",
				"expires_in":    f.expiresIn,
			})
		default:
			c.Status(http.StatusNotFound)
		}
	})
	r.POST("/v0/b/:bucket/o", func(c *gin.Context) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.authHdr = append(f.authHdr, c.GetHeader("Authorization"))
		if f.denyUpload {
			c.JSON(http.StatusForbidden, gin.H{"error": gin.H{"code": 403, "message": "Permission denied."}})
			return
		}
		data, _ := io.ReadAll(c.Request.Body)
		name := c.Query("name")
		f.uploads[name] = data
		c.JSON(http.StatusOK, gin.H{
			"name":           name,
			"bucket":         c.Param("bucket"),
			"contentType":    c.GetHeader("Content-Type"),
			"downloadTokens": "tok-1,tok-2",
		})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return f, srv
}

func newTestFirebase(t *testing.T, srv *httptest.Server, password string) *Firebase {
	fb, err := NewFirebase(FirebaseConfig{
		APIKey:     "api-key",
		Email:      "cat@example.com",
		Password:   password,
		Bucket:     "cats.appspot.com",
		Folder:     "door",
		AuthURL:    srv.URL,
		TokenURL:   srv.URL,
		StorageURL: srv.URL,
	}, time.Second)
	checkErr(t, err)
	return fb
}

func TestFirebaseUpload(t *testing.T) {
	fake, srv := newFakeFirebase(t)
	fb := newTestFirebase(t, srv, "secret")

	if !fb.Ready(context.Background()) {
		t.Fatal("not ready after sign in")
	}
	loc, err := fb.Upload(context.Background(), []byte("jpeg"), types.MimeJPEG, "cat-1.jpg")
	checkErr(t, err)

	want := srv.URL + "/v0/b/cats.appspot.com/o/door%2Fcat-1.jpg?alt=media&token=tok-1"
	if loc != want {
		t.Fatalf("locator = %s, want %s", loc, want)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.signIns != 1 {
		t.Fatalf("sign ins = %d", fake.signIns)
	}
	if string(fake.uploads["door/cat-1.jpg"]) != "jpeg" {
		t.Fatalf("uploads = %v", fake.uploads)
	}
	if fake.authHdr[0] != "Firebase id-signin" {
		t.Fatalf("authorization = %q", fake.authHdr[0])
	}
}

func TestFirebaseSignInBackoff(t *testing.T) {
	fake, srv := newFakeFirebase(t)
	fb := newTestFirebase(t, srv, "wrong")
	now := time.Unix(1_700_000_000, 0)
	fb.now = func() time.Time { return now }

	if fb.Ready(context.Background()) {
		t.Fatal("ready with a bad password")
	}
	_, err := fb.Upload(context.Background(), []byte("jpeg"), types.MimeJPEG, "cat-1.jpg")
	if err == nil {
		t.Fatal("upload without a token should fail")
	}

	// the server is fixed but the retry interval has not passed yet
	fb.cfg.Password = "secret"
	if fb.Ready(context.Background()) {
		t.Fatal("sign in retried before the retry interval")
	}
	now = now.Add(31 * time.Second)
	if !fb.Ready(context.Background()) {
		t.Fatal("not ready after the retry interval")
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.signIns != 1 {
		t.Fatalf("sign ins = %d", fake.signIns)
	}
}

func TestFirebaseRefresh(t *testing.T) {
	fake, srv := newFakeFirebase(t)
	fake.expiresIn = "120"
	fb := newTestFirebase(t, srv, "secret")
	now := time.Unix(1_700_000_000, 0)
	fb.now = func() time.Time { return now }

	if !fb.Ready(context.Background()) {
		t.Fatal("not ready")
	}
	now = now.Add(30 * time.Second)
	if !fb.Ready(context.Background()) {
		t.Fatal("not ready while the token is still valid")
	}
	now = now.Add(60 * time.Second)
	_, err := fb.Upload(context.Background(), []byte("jpeg"), types.MimeJPEG, "cat-2.jpg")
	checkErr(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.signIns != 1 || fake.refreshes != 1 {
		t.Fatalf("sign ins = %d, refreshes = %d", fake.signIns, fake.refreshes)
	}
	if fake.authHdr[0] != "Firebase id-refreshed" {
		t.Fatalf("authorization = %q", fake.authHdr[0])
	}
}

func TestFirebaseUploadDenied(t *testing.T) {
	fake, srv := newFakeFirebase(t)
	fake.denyUpload = true
	fb := newTestFirebase(t, srv, "secret")

	_, err := fb.Upload(context.Background(), []byte("jpeg"), types.MimeJPEG, "cat-1.jpg")
	if err == nil || !strings.Contains(err.Error(), "Permission denied.") {
		t.Fatalf("err = %v", err)
	}
}

func TestFirebaseConfigRequired(t *testing.T) {
	if _, err := NewFirebase(FirebaseConfig{APIKey: "k"}, time.Second); err == nil {
		t.Fatal("expected error without bucket")
	}
}
