package upload

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"

	"cat-shutter-pi/pkg/storage"
)

type LocalConfig struct {
	Dir string `json:"dir"`
}

// Local keeps images on the device, for setups without a network peer.
type Local struct {
	stg *storage.Storage
}

func NewLocal(cfg LocalConfig) (*Local, error) {
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, err
	}
	stg, err := storage.New(dir)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	images, err := stg.ListImages()
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	logger.Infof("local: %d images in %s", len(images), dir)
	return &Local{stg: stg}, nil
}

func (l *Local) Ready(context.Context) bool {
	return true
}

func (l *Local) Upload(ctx context.Context, data []byte, mimeType, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := l.stg.SaveImage(filename, data)
	if err != nil {
		return "", err
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String(), nil
}

func (l *Local) Storage() *storage.Storage {
	return l.stg
}
