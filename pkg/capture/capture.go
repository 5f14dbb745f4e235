// Package capture runs one trigger through frame acquisition and upload,
// allowing at most one cycle in flight.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"cat-shutter-pi/pkg/clock"
	"cat-shutter-pi/pkg/types"
	"cat-shutter-pi/pkg/utils"
)

const (
	StateIdle          = "idle"
	StateFrameAcquired = "frame_acquired"
	StateUploading     = "uploading"

	eventAcquire = "acquire"
	eventUpload  = "upload"
	eventRelease = "release"
)

type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeCaptureFailure Outcome = "capture_failure"
	OutcomeUploadFailure  Outcome = "upload_failure"
)

// Trigger is the consuming side of the debouncer.
type Trigger interface {
	Consume() bool
}

type Result struct {
	ID       string
	Filename string
	Outcome  Outcome
	Locator  string
	Reason   string
	Size     int
	Duration time.Duration
}

type Options struct {
	NamePrefix string
	Ext        string
	MimeType   string
}

func DefaultOptions() Options {
	return Options{
		NamePrefix: "cat",
		Ext:        ".jpg",
		MimeType:   types.MimeJPEG,
	}
}

type Machine struct {
	fsm      *fsm.FSM
	trigger  Trigger
	source   types.FrameSource
	uploader types.Uploader
	ready    types.Readiness
	opts     Options
	since    clock.Since

	busy   atomic.Bool
	lastMs int64
	logger *zap.SugaredLogger
}

// New builds a machine. ready may be nil, in which case the uploader's own
// readiness is used.
func New(trigger Trigger, source types.FrameSource, uploader types.Uploader, ready types.Readiness, opts Options, c clock.Clock) *Machine {
	if ready == nil {
		ready = uploader
	}
	m := &Machine{
		trigger:  trigger,
		source:   source,
		uploader: uploader,
		ready:    ready,
		opts:     opts,
		since:    clock.NewSince(c),
		lastMs:   -1,
		logger:   utils.GetLogger(),
	}
	m.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventAcquire, Src: []string{StateIdle}, Dst: StateFrameAcquired},
			{Name: eventUpload, Src: []string{StateFrameAcquired}, Dst: StateUploading},
			{Name: eventRelease, Src: []string{StateFrameAcquired, StateUploading}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				m.logger.Debugf("capture: %s -> %s", e.Src, e.Dst)
			},
		},
	)

	return m
}

func (m *Machine) State() string {
	return m.fsm.Current()
}

func (m *Machine) Busy() bool {
	return m.busy.Load()
}

// Service consumes the pending trigger and runs one capture/upload cycle to
// completion. The returned Result is nil only when no cycle was started.
func (m *Machine) Service(ctx context.Context) (*Result, error) {
	if !m.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer m.busy.Store(false)

	if !m.ready.Ready(ctx) {
		return nil, ErrServiceUnready
	}
	if !m.trigger.Consume() {
		return nil, ErrNoTrigger
	}

	start := m.since.Elapsed()
	res := &Result{ID: uuid.NewString()}
	defer func() {
		res.Duration = m.since.Elapsed() - start
	}()

	if err := m.fsm.Event(ctx, eventAcquire); err != nil {
		return nil, fmt.Errorf("capture: enter %s: %w", StateFrameAcquired, err)
	}
	// The machine must get back to idle even when ctx is canceled mid-cycle.
	defer func() {
		if err := m.fsm.Event(context.WithoutCancel(ctx), eventRelease); err != nil {
			m.logger.Errorf("capture: return to idle err: %s", err)
		}
	}()

	m.logger.Info("capture: taking a photo...")
	frame, err := m.source.Acquire(ctx)
	if frame != nil {
		defer m.source.Release(frame)
	}
	if err != nil || frame == nil || len(frame.Data) == 0 {
		res.Outcome = OutcomeCaptureFailure
		res.Reason = ErrCaptureFailure.Error()
		if err != nil {
			res.Reason = err.Error()
			return res, fmt.Errorf("%w: %w", ErrCaptureFailure, err)
		}
		return res, ErrCaptureFailure
	}

	res.Filename = m.filename(start)
	res.Size = len(frame.Data)
	if err = m.fsm.Event(ctx, eventUpload); err != nil {
		return nil, fmt.Errorf("capture: enter %s: %w", StateUploading, err)
	}
	m.logger.Infof("capture: uploading %s (%s)...", res.Filename, humanize.Bytes(uint64(res.Size)))
	locator, err := m.uploader.Upload(ctx, frame.Data, m.opts.MimeType, res.Filename)
	if err != nil {
		res.Outcome = OutcomeUploadFailure
		res.Reason = err.Error()
		return res, &UploadError{Filename: res.Filename, Reason: res.Reason, Err: err}
	}
	res.Outcome = OutcomeSuccess
	res.Locator = locator

	return res, nil
}

// filename is derived from the monotonic clock. Cycles never overlap, and two
// cycles inside the same millisecond get consecutive numbers.
func (m *Machine) filename(at time.Duration) string {
	ms := at.Milliseconds()
	if ms <= m.lastMs {
		ms = m.lastMs + 1
	}
	m.lastMs = ms
	return fmt.Sprintf("%s%d%s", m.opts.NamePrefix, ms, m.opts.Ext)
}

// IsFailure reports whether err ended a started cycle (as opposed to the
// cycle never starting).
func IsFailure(err error) bool {
	var upErr *UploadError
	return errors.Is(err, ErrCaptureFailure) || errors.As(err, &upErr)
}
