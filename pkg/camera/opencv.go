//go:build gocv

package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"cat-shutter-pi/pkg/types"
)

// OpenCVSource reads frames through OpenCV for cameras that V4L2 cannot drive
// directly, such as ISP-backed modules exposed only through libcamera's
// compatibility layer.
type OpenCVSource struct {
	mu  sync.Mutex
	cap *gocv.VideoCapture
	mat gocv.Mat
	seq uint64

	bufs map[*types.Frame]*gocv.NativeByteBuffer
}

func NewOpenCVSource(device string, width, height int) (ClosableSource, error) {
	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	capture.Set(gocv.VideoCaptureFrameWidth, float64(width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(height))
	capture.Set(gocv.VideoCaptureBufferSize, 1)

	return &OpenCVSource{
		cap:  capture,
		mat:  gocv.NewMat(),
		bufs: make(map[*types.Frame]*gocv.NativeByteBuffer),
	}, nil
}

func (s *OpenCVSource) Acquire(ctx context.Context) (*types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// the first grab returns the frame buffered since the last read
	s.cap.Grab(1)
	if ok := s.cap.Read(&s.mat); !ok || s.mat.Empty() {
		return nil, ErrEmptyFrame
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, s.mat)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if buf.Len() == 0 {
		buf.Close()
		return nil, ErrEmptyFrame
	}

	s.seq++
	f := &types.Frame{
		Data:      buf.GetBytes(),
		Width:     s.mat.Cols(),
		Height:    s.mat.Rows(),
		Timestamp: time.Now(),
		Seq:       s.seq,
	}
	s.bufs[f] = buf

	return f, nil
}

func (s *OpenCVSource) Release(f *types.Frame) {
	if f == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if buf, ok := s.bufs[f]; ok {
		delete(s.bufs, f)
		f.Data = nil
		buf.Close()
	}
}

func (s *OpenCVSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for f, buf := range s.bufs {
		buf.Close()
		delete(s.bufs, f)
	}
	err := s.mat.Close()
	return errors.Join(err, s.cap.Close())
}
