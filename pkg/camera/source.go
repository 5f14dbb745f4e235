package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"strings"
	"sync"
	"time"

	"cat-shutter-pi/pkg/types"
)

var (
	ErrEmptyFrame   = errors.New("camera returned empty frame")
	ErrStreamClosed = errors.New("capture stream closed")
	ErrFrameTimeout = errors.New("frame timeout")
)

// ClosableSource is a FrameSource holding a device open until Close.
type ClosableSource interface {
	types.FrameSource
	Close() error
}

type streamer interface {
	Start(width, height int) (<-chan []byte, error)
	Stop() error
}

// Source hands out single JPEG frames from a continuously running stream.
// Frames are copied into pooled buffers that return to the pool on Release.
type Source struct {
	mu sync.Mutex

	cam     streamer
	width   int
	height  int
	timeout time.Duration

	frames <-chan []byte
	seq    uint64

	pool sync.Pool
	out  map[*types.Frame]struct{}
}

func NewSource(cam streamer, width, height int, timeout time.Duration) *Source {
	return &Source{
		cam:     cam,
		width:   width,
		height:  height,
		timeout: timeout,
		out:     make(map[*types.Frame]struct{}),
	}
}

// Start begins streaming so auto exposure runs between acquisitions.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.start()
}

func (s *Source) start() error {
	if s.frames != nil {
		return nil
	}
	var err error
	for i := 0; i < 5; i++ {
		s.frames, err = s.cam.Start(s.width, s.height)
		if err == nil {
			return nil
		}
		s.frames = nil
		if !isBusyErr(err) {
			break
		}
		logger.Warnf("failed to start camera will retry %d/5: %v", i+1, err)
		time.Sleep(150 * time.Millisecond)
	}
	return err
}

func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
	return s.cam.Stop()
}

func (s *Source) Close() error {
	return s.Stop()
}

// Acquire drops frames that queued up while nobody was reading and returns
// the next one from the sensor.
func (s *Source) Acquire(ctx context.Context) (*types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.start(); err != nil {
		return nil, err
	}
	s.drain()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	var data []byte
	select {
	case frame, ok := <-s.frames:
		if !ok {
			// restarted on the next Acquire
			s.frames = nil
			_ = s.cam.Stop()
			return nil, ErrStreamClosed
		}
		data = frame
	case <-timer.C:
		return nil, ErrFrameTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unusable frame: %w", err)
	}

	buf := s.getBuf(len(data))
	copy(buf, data)
	s.seq++
	f := &types.Frame{
		Data:      buf,
		Width:     cfg.Width,
		Height:    cfg.Height,
		Timestamp: time.Now(),
		Seq:       s.seq,
	}
	s.out[f] = struct{}{}

	return f, nil
}

func (s *Source) drain() {
	for {
		select {
		case _, ok := <-s.frames:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Release returns the frame buffer. Releasing twice is a no-op.
func (s *Source) Release(f *types.Frame) {
	if f == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.out[f]; !ok {
		return
	}
	delete(s.out, f)
	buf := f.Data[:0]
	f.Data = nil
	s.pool.Put(&buf)
}

// Outstanding is the number of frames acquired and not yet released.
func (s *Source) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.out)
}

func (s *Source) getBuf(n int) []byte {
	if p, ok := s.pool.Get().(*[]byte); ok && cap(*p) >= n {
		return (*p)[:n]
	}
	return make([]byte, n)
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	str := strings.ToLower(err.Error())
	return strings.Contains(str, "busy") || strings.Contains(str, "ebusy")
}
