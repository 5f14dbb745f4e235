package camera

import (
	"context"
	"fmt"
	"time"
)

const (
	DriverV4L2   = "v4l2"
	DriverOpenCV = "opencv"
)

type Config struct {
	Driver      string
	Device      string
	Width       int
	Height      int
	ReadTimeout time.Duration
	Settings    Settings
}

// Open starts the frame source selected by cfg.Driver. Control settings only
// apply to the V4L2 driver.
func Open(ctx context.Context, cfg Config) (ClosableSource, error) {
	switch cfg.Driver {
	case DriverOpenCV:
		return NewOpenCVSource(cfg.Device, cfg.Width, cfg.Height)
	case DriverV4L2, "":
	default:
		return nil, fmt.Errorf("unknown camera driver %q", cfg.Driver)
	}

	cam := New(ctx, cfg.Device)
	cam.UpdateSettings(cfg.Settings.Controls())
	source := NewSource(cam, cfg.Width, cfg.Height, cfg.ReadTimeout)
	if err := source.Start(); err != nil {
		return nil, err
	}
	return source, nil
}
