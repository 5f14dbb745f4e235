package types

import (
	"context"
	"time"

	"github.com/vladimirvivien/go4vl/v4l2"
)

const (
	MimeJPEG = "image/jpeg"
)

type CameraSettings map[v4l2.CtrlID]v4l2.CtrlValue

// Frame is one image handed out by a FrameSource. The holder owns Data until
// the frame is given back with Release.
type Frame struct {
	Data   []byte
	Width  int
	Height int

	Timestamp time.Time
	Seq       uint64
}

type FrameSource interface {
	Acquire(ctx context.Context) (*Frame, error)
	Release(f *Frame)
}

type Readiness interface {
	Ready(ctx context.Context) bool
}

// Uploader stores one image and returns where it can be retrieved from.
// data is only valid until Upload returns.
type Uploader interface {
	Readiness
	Upload(ctx context.Context, data []byte, mimeType, filename string) (string, error)
}
