package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"cat-shutter-pi/pkg/capture"
	"cat-shutter-pi/pkg/clock"
	"cat-shutter-pi/pkg/schedule"
	"cat-shutter-pi/pkg/trigger"
	"cat-shutter-pi/pkg/types"
)

type source struct {
	acquired int
	released int
	empty    bool
	// during runs inside Acquire, i.e. while a cycle or calibration holds the camera.
	during func()
}

func (s *source) Acquire(context.Context) (*types.Frame, error) {
	if s.during != nil {
		s.during()
	}
	if s.empty {
		return nil, nil
	}
	s.acquired++
	return &types.Frame{Data: []byte{0xff, 0xd8, 0xff, 0xd9}}, nil
}

func (s *source) Release(*types.Frame) {
	s.released++
}

type uploader struct {
	ready   bool
	fail    bool
	uploads int
}

func (u *uploader) Ready(context.Context) bool {
	return u.ready
}

func (u *uploader) Upload(_ context.Context, _ []byte, _, filename string) (string, error) {
	u.uploads++
	if u.fail {
		return "", errors.New("bucket not found")
	}
	return "https://x/" + filename, nil
}

type fixture struct {
	clock     *clock.Manual
	trigger   *trigger.Debouncer
	scheduler *schedule.Scheduler
	source    *source
	uploader  *uploader
	ctl       *Controller
}

func newFixture() *fixture {
	c := clock.NewManual()
	f := &fixture{
		clock:    c,
		source:   &source{},
		uploader: &uploader{ready: true},
	}
	f.trigger = trigger.New(time.Second, trigger.ActiveLow, c)
	f.scheduler = schedule.New(schedule.DefaultPolicy(), f.source, c)
	m := capture.New(f.trigger, f.source, f.uploader, nil, capture.DefaultOptions(), c)
	f.ctl = New(f.trigger, f.scheduler, m, Options{PollInterval: time.Millisecond})
	return f
}

func TestStepIdle(t *testing.T) {
	f := newFixture()
	if a := f.ctl.Step(context.Background()); a != ActionIdle {
		t.Fatalf("action = %s, want idle", a)
	}
}

func TestStepCalibrates(t *testing.T) {
	f := newFixture()
	f.clock.Advance(5 * time.Second)
	if a := f.ctl.Step(context.Background()); a != ActionCalibrated {
		t.Fatalf("action = %s, want calibrated", a)
	}
	if f.source.acquired != 1 || f.source.released != 1 {
		t.Fatalf("acquired=%d released=%d", f.source.acquired, f.source.released)
	}
}

func TestPendingTriggerBlocksCalibration(t *testing.T) {
	f := newFixture()
	f.uploader.ready = false
	f.clock.Advance(5 * time.Second)
	f.trigger.OnRawEdge(trigger.ActiveLow)

	for i := 0; i < 10; i++ {
		if a := f.ctl.Step(context.Background()); a != ActionWaitingForService {
			t.Fatalf("action = %s, want waiting-for-service", a)
		}
		f.clock.Advance(5 * time.Second)
	}
	if f.scheduler.State().Total != 0 {
		t.Fatal("calibration ran while a trigger was pending")
	}

	f.uploader.ready = true
	if a := f.ctl.Step(context.Background()); a != ActionCaptured {
		t.Fatalf("action = %s, want captured", a)
	}
	if f.ctl.Stats().Uploaded != 1 {
		t.Fatalf("stats = %+v", f.ctl.Stats())
	}
}

func TestCalibrationNeverDuringCycle(t *testing.T) {
	f := newFixture()
	calibrationsBefore := uint64(0)
	f.source.during = func() {
		// Time passes while the camera is busy; the scheduler must not
		// have run in the meantime.
		if f.scheduler.State().Total != calibrationsBefore {
			t.Error("calibration ran during a capture cycle")
		}
	}
	f.trigger.OnRawEdge(trigger.ActiveLow)
	if a := f.ctl.Step(context.Background()); a != ActionCaptured {
		t.Fatalf("action = %s", a)
	}
}

func TestTriggerDuringCycleServicedOnce(t *testing.T) {
	f := newFixture()
	f.trigger.OnRawEdge(trigger.ActiveLow)
	raised := false
	f.source.during = func() {
		if !raised {
			raised = true
			f.clock.Advance(2 * time.Second)
			f.trigger.OnRawEdge(trigger.ActiveLow)
		}
	}

	if a := f.ctl.Step(context.Background()); a != ActionCaptured {
		t.Fatalf("first step = %s", a)
	}
	if !f.trigger.Pending() {
		t.Fatal("edge during the cycle should remain pending")
	}
	if a := f.ctl.Step(context.Background()); a != ActionCaptured {
		t.Fatalf("second step = %s", a)
	}
	if f.trigger.Pending() || f.uploader.uploads != 2 {
		t.Fatalf("pending=%v uploads=%d", f.trigger.Pending(), f.uploader.uploads)
	}
	if a := f.ctl.Step(context.Background()); a == ActionCaptured {
		t.Fatal("trigger serviced twice")
	}
}

func TestFailuresAreCounted(t *testing.T) {
	f := newFixture()
	f.source.empty = true
	f.trigger.OnRawEdge(trigger.ActiveLow)
	f.ctl.Step(context.Background())

	f.source.empty = false
	f.uploader.fail = true
	f.clock.Advance(time.Second)
	f.trigger.OnRawEdge(trigger.ActiveLow)
	f.ctl.Step(context.Background())

	st := f.ctl.Stats()
	if st.Captured != 2 || st.CaptureFailures != 1 || st.UploadFailures != 1 || st.Uploaded != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if f.source.acquired != f.source.released {
		t.Fatalf("acquired=%d released=%d", f.source.acquired, f.source.released)
	}
}

func TestCalibrationFailuresAreCounted(t *testing.T) {
	f := newFixture()
	f.source.empty = true
	f.clock.Advance(5 * time.Second)
	if a := f.ctl.Step(context.Background()); a != ActionCalibrated {
		t.Fatalf("action = %s, want calibrated", a)
	}

	f.source.empty = false
	f.clock.Advance(5 * time.Second)
	f.ctl.Step(context.Background())

	st := f.ctl.Stats()
	if st.CalibrationFailures != 1 || st.Captured != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if f.scheduler.State().Total != 2 {
		t.Fatalf("calibration frames = %d", f.scheduler.State().Total)
	}
}

func TestIdleRolloverCalibratesNextIteration(t *testing.T) {
	f := newFixture()
	for i := 0; i < 60; i++ {
		f.ctl.Step(context.Background())
		f.clock.Advance(time.Second)
	}
	total := f.scheduler.State().Total
	if total != 5 {
		t.Fatalf("fast phase took %d frames, want 5", total)
	}

	f.clock.Advance(5 * time.Minute)
	if a := f.ctl.Step(context.Background()); a != ActionCalibrated {
		t.Fatalf("action = %s, want calibrated after rollover", a)
	}
	if st := f.scheduler.State(); st.Frames != 1 {
		t.Fatalf("fast-phase budget not reset: %+v", st)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	f.trigger.OnRawEdge(trigger.ActiveLow)

	if err := f.ctl.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run returned %v", err)
	}
	if f.uploader.uploads != 1 {
		t.Fatalf("uploads = %d, want 1", f.uploader.uploads)
	}
}
