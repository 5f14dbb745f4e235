package camera

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"

	"cat-shutter-pi/pkg/types"
)

const (
	DefaultDevice = "/dev/video0"
)

var (
	StartedErr = errors.New("already started")
)

// Camera owns one V4L2 device streaming JPEG frames.
type Camera struct {
	devName    string
	bufferSize uint32
	ctx        context.Context

	lock   sync.Mutex
	cancel context.CancelFunc
	camera *device.Device

	settings types.CameraSettings
}

func New(ctx context.Context, devName string) *Camera {
	return &Camera{ctx: ctx, devName: devName, bufferSize: 1, settings: make(types.CameraSettings)}
}

func (c *Camera) open(width, height int) error {
	if c.camera != nil {
		return StartedErr
	}
	camera, err := device.Open(
		c.devName,
		device.WithBufferSize(c.bufferSize),
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: v4l2.PixelFmtJPEG,
			Width:       uint32(width),
			Height:      uint32(height),
		}),
	)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.devName, err)
	}
	c.camera = camera

	return nil
}

func (c *Camera) Start(width, height int) (<-chan []byte, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	logger.Infof("start camera %s in %d*%d", c.devName, width, height)
	err := c.open(width, height)
	if err != nil {
		return nil, err
	}

	newCtx, cancel := context.WithCancel(c.ctx)
	c.cancel = cancel
	if err = c.camera.Start(newCtx); err != nil {
		cancel()
		c.cancel = nil
		_ = c.camera.Close()
		c.camera = nil
		return nil, err
	}

	c.applySettings()

	return c.camera.GetOutput(), nil
}

func (c *Camera) Stop() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.cancel != nil {
		// Let the streaming goroutine see ctx.Done and stop the device before Close.
		c.cancel()
		time.Sleep(100 * time.Millisecond)
		c.cancel = nil
	}
	if c.camera != nil {
		err := c.camera.Close()
		c.camera = nil
		return err
	}
	return nil
}

func (c *Camera) UpdateSettings(settings types.CameraSettings) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.settings = maps.Clone(settings)

	c.applySettings()
}

func (c *Camera) applySettings() {
	if c.camera == nil {
		return
	}
	for k, v := range c.settings {
		if err := c.camera.SetControlValue(k, v); err != nil {
			logger.Warnf("set ctrl(%d) to %d, err: %s", k, v, err)
		}
	}
}

// GetMaxSize returns the largest JPEG frame size the device supports.
func (c *Camera) GetMaxSize() (width, height int, err error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	var camera *device.Device
	if c.camera == nil {
		camera, err = device.Open(c.devName,
			device.WithBufferSize(1),
			device.WithPixFormat(v4l2.PixFormat{
				PixelFormat: v4l2.PixelFmtJPEG,
				Width:       uint32(320),
				Height:      uint32(240),
			}))
		if err != nil {
			return
		}
		defer camera.Close()
	} else {
		camera = c.camera
	}

	sizes, err := v4l2.GetAllFormatFrameSizes(camera.Fd())
	if err != nil {
		return
	}
	for _, size := range sizes {
		if size.PixelFormat == v4l2.PixelFmtJPEG {
			width = int(size.Size.MaxWidth)
			height = int(size.Size.MaxHeight)

			return
		}
	}
	err = fmt.Errorf("unable to determine the maximum pixels of the camera")

	return
}
