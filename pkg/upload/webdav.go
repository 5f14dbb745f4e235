package upload

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

type WebDAVConfig struct {
	URL      string `json:"url"`
	Dir      string `json:"dir"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// WebDAV PUTs images into a collection on a WebDAV server.
type WebDAV struct {
	base     *url.URL
	dir      string
	username string
	password string
	client   *http.Client

	dirReady bool
}

func NewWebDAV(cfg WebDAVConfig, timeout time.Duration) (*WebDAV, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse webdav url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported webdav url %q", cfg.URL)
	}
	return &WebDAV{
		base:     base,
		dir:      strings.Trim(cfg.Dir, "/"),
		username: cfg.Username,
		password: cfg.Password,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

func (w *WebDAV) Ready(context.Context) bool {
	return true
}

func (w *WebDAV) Upload(ctx context.Context, data []byte, mimeType, filename string) (string, error) {
	if !w.dirReady {
		if err := w.mkdirAll(ctx); err != nil {
			return "", err
		}
		w.dirReady = true
	}

	target := w.urlFor(path.Join(w.dir, filename))
	req, err := w.newRequest(ctx, http.MethodPut, target, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mimeType)
	req.ContentLength = int64(len(data))
	resp, err := w.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return target, nil
	default:
		return "", statusErr(resp)
	}
}

func (w *WebDAV) mkdirAll(ctx context.Context) error {
	if w.dir == "" {
		return nil
	}
	var cur string
	for _, part := range strings.Split(w.dir, "/") {
		cur = path.Join(cur, part)
		req, err := w.newRequest(ctx, "MKCOL", w.urlFor(cur)+"/", nil)
		if err != nil {
			return err
		}
		resp, err := w.client.Do(req)
		if err != nil {
			return err
		}
		// 405: the collection already exists
		if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusMethodNotAllowed {
			err = statusErr(resp)
		}
		resp.Body.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *WebDAV) urlFor(p string) string {
	u := *w.base
	u.Path = path.Join(u.Path, p)
	return u.String()
}

func (w *WebDAV) newRequest(ctx context.Context, method, target string, body *bytes.Reader) (*http.Request, error) {
	var req *http.Request
	var err error
	if body == nil {
		req, err = http.NewRequestWithContext(ctx, method, target, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, target, body)
	}
	if err != nil {
		return nil, err
	}
	if w.username != "" {
		req.SetBasicAuth(w.username, w.password)
	}
	return req, nil
}
