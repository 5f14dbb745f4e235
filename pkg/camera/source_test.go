package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"testing"
	"time"

	"github.com/vladimirvivien/go4vl/v4l2"
)

type fakeStream struct {
	ch      chan []byte
	starts  int
	stops   int
	busyFor int
}

func newFakeStream() *fakeStream {
	return &fakeStream{ch: make(chan []byte, 4)}
}

func (f *fakeStream) Start(width, height int) (<-chan []byte, error) {
	f.starts++
	if f.busyFor > 0 {
		f.busyFor--
		return nil, errors.New("VIDIOC_STREAMON: device or resource busy")
	}
	return f.ch, nil
}

func (f *fakeStream) Stop() error {
	f.stops++
	return nil
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestAcquireSkipsStaleFrame(t *testing.T) {
	fs := newFakeStream()
	s := NewSource(fs, 640, 480, time.Second)
	fs.ch <- testJPEG(t, 4, 4)

	go func() {
		time.Sleep(20 * time.Millisecond)
		fs.ch <- testJPEG(t, 8, 6)
	}()
	f, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if f.Width != 8 || f.Height != 6 {
		t.Fatalf("got %dx%d frame, want the fresh 8x6 one", f.Width, f.Height)
	}
	if f.Seq != 1 {
		t.Fatalf("seq = %d", f.Seq)
	}
	s.Release(f)
	if s.Outstanding() != 0 {
		t.Fatal("frame not released")
	}
}

func TestAcquireTimeout(t *testing.T) {
	s := NewSource(newFakeStream(), 640, 480, 20*time.Millisecond)
	if _, err := s.Acquire(context.Background()); !errors.Is(err, ErrFrameTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestAcquireRejectsBadFrames(t *testing.T) {
	fs := newFakeStream()
	s := NewSource(fs, 640, 480, time.Second)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	go func() { fs.ch <- []byte{} }()
	if _, err := s.Acquire(context.Background()); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("err = %v, want empty frame", err)
	}
	go func() { fs.ch <- []byte("not a jpeg at all") }()
	if _, err := s.Acquire(context.Background()); err == nil {
		t.Fatal("expected an error for a non-JPEG frame")
	}
	if s.Outstanding() != 0 {
		t.Fatal("rejected frames must not be outstanding")
	}
}

func TestClosedStreamRestarts(t *testing.T) {
	fs := newFakeStream()
	s := NewSource(fs, 640, 480, 50*time.Millisecond)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	close(fs.ch)
	if _, err := s.Acquire(context.Background()); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("err = %v, want stream closed", err)
	}

	fs.ch = make(chan []byte, 1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		fs.ch <- testJPEG(t, 2, 2)
	}()
	f, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	s.Release(f)
	if fs.starts != 2 || fs.stops != 1 {
		t.Fatalf("starts=%d stops=%d", fs.starts, fs.stops)
	}
}

func TestStartRetriesWhenBusy(t *testing.T) {
	fs := newFakeStream()
	fs.busyFor = 2
	s := NewSource(fs, 640, 480, time.Second)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if fs.starts != 3 {
		t.Fatalf("starts = %d, want 3", fs.starts)
	}
}

func TestDoubleReleaseAndPooling(t *testing.T) {
	fs := newFakeStream()
	s := NewSource(fs, 640, 480, time.Second)
	frame := testJPEG(t, 4, 4)

	for i := 0; i < 3; i++ {
		go func() {
			time.Sleep(5 * time.Millisecond)
			fs.ch <- frame
		}()
		f, err := s.Acquire(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(f.Data, frame) {
			t.Fatal("frame data not copied correctly")
		}
		s.Release(f)
		s.Release(f)
		if f.Data != nil {
			t.Fatal("released frame still references the buffer")
		}
	}
	if s.Outstanding() != 0 {
		t.Fatalf("outstanding = %d", s.Outstanding())
	}
}

func TestAcquireCanceled(t *testing.T) {
	s := NewSource(newFakeStream(), 640, 480, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestSettingsControls(t *testing.T) {
	b := -2
	s := DefaultSettings()
	s.Brightness = &b
	ctrls := s.Controls()
	if ctrls[ctrlExposureAuto] != exposureAuto || ctrls[ctrlAutoGain] != 1 || ctrls[ctrlAutoWhiteBalance] != 1 {
		t.Fatalf("auto corrections not enabled: %v", ctrls)
	}
	if ctrls[ctrlBrightness] != -2 {
		t.Fatalf("brightness = %d", ctrls[ctrlBrightness])
	}

	s.AutoExposure = false
	if s.Controls()[ctrlExposureAuto] != exposureManual {
		t.Fatal("manual exposure expected")
	}
}

func TestControlInfo(t *testing.T) {
	info := controlInfo(v4l2.Control{
		ID:      ctrlBrightness,
		Name:    "Brightness",
		Value:   -2,
		Minimum: -4,
		Maximum: 4,
		Step:    1,
	})
	if info.ID != ctrlBrightness || info.Name != "Brightness" || info.Value != -2 {
		t.Fatalf("info = %+v", info)
	}
	if info.Minimum != -4 || info.Maximum != 4 || info.IsMenu || info.MenuItems != nil {
		t.Fatalf("info = %+v", info)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "usb"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
