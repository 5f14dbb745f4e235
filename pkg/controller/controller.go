// Package controller drives the debouncer, the calibration scheduler and the
// capture machine from a single loop.
package controller

import (
	"context"
	"errors"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"cat-shutter-pi/pkg/capture"
	"cat-shutter-pi/pkg/schedule"
	"cat-shutter-pi/pkg/trigger"
	"cat-shutter-pi/pkg/utils"
	"cat-shutter-pi/pkg/utils/ps"
)

type Action int

const (
	ActionIdle Action = iota
	ActionCalibrated
	ActionCaptured
	ActionWaitingForService
)

func (a Action) String() string {
	switch a {
	case ActionCalibrated:
		return "calibrated"
	case ActionCaptured:
		return "captured"
	case ActionWaitingForService:
		return "waiting-for-service"
	default:
		return "idle"
	}
}

type Options struct {
	PollInterval   time.Duration
	Cooldown       time.Duration
	StatusInterval time.Duration
	// DiskPath, when set, adds free space of its filesystem to the heartbeat.
	DiskPath string
}

type Stats struct {
	Captured        uint64
	CaptureFailures uint64
	UploadFailures  uint64
	Uploaded        uint64
	LastLocator     string

	CalibrationFailures uint64
}

type Controller struct {
	trigger   *trigger.Debouncer
	scheduler *schedule.Scheduler
	machine   *capture.Machine
	opts      Options

	stats   Stats
	started time.Time
	unready bool
	logger  *zap.SugaredLogger
}

func New(t *trigger.Debouncer, s *schedule.Scheduler, m *capture.Machine, opts Options) *Controller {
	return &Controller{
		trigger:   t,
		scheduler: s,
		machine:   m,
		opts:      opts,
		logger:    utils.GetLogger(),
	}
}

func (c *Controller) Stats() Stats {
	return c.stats
}

// Step runs one loop iteration: calibration first when nothing else is going
// on, then a pending trigger if the upload service is ready.
func (c *Controller) Step(ctx context.Context) Action {
	if c.machine.Busy() {
		return ActionIdle
	}

	action := ActionIdle
	if !c.trigger.Pending() && c.scheduler.Due(c.scheduler.Now()) {
		if err := c.scheduler.Calibrate(ctx); err != nil {
			c.stats.CalibrationFailures++
		}
		action = ActionCalibrated
	}

	if !c.trigger.Pending() {
		return action
	}
	res, err := c.machine.Service(ctx)
	switch {
	case errors.Is(err, capture.ErrServiceUnready):
		if !c.unready {
			c.logger.Warn("controller: trigger pending, waiting for the upload service")
			c.unready = true
		}
		return ActionWaitingForService
	case errors.Is(err, capture.ErrNoTrigger), errors.Is(err, capture.ErrBusy):
		return action
	}
	c.unready = false
	c.report(res, err)
	utils.Sleep(ctx, c.opts.Cooldown)

	return ActionCaptured
}

func (c *Controller) report(res *capture.Result, err error) {
	if res == nil {
		c.logger.Errorf("controller: capture cycle aborted: %s", err)
		return
	}
	c.stats.Captured++
	switch res.Outcome {
	case capture.OutcomeSuccess:
		c.stats.Uploaded++
		c.stats.LastLocator = res.Locator
		c.logger.Infof("capture: %s uploaded in %s, download URL: %s", res.Filename, res.Duration, res.Locator)
	case capture.OutcomeCaptureFailure:
		c.stats.CaptureFailures++
		c.logger.Errorf("capture: camera capture failed: %s", res.Reason)
	case capture.OutcomeUploadFailure:
		c.stats.UploadFailures++
		c.logger.Errorf("capture: upload of %s failed: %s", res.Filename, res.Reason)
	}
}

// Run loops until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	c.started = time.Now()
	c.logger.Infof("controller: started (poll %s, cooldown %s)", c.opts.PollInterval, c.opts.Cooldown)

	var status <-chan time.Time
	if c.opts.StatusInterval > 0 {
		t := time.NewTicker(c.opts.StatusInterval)
		defer t.Stop()
		status = t.C
	}
	poll := time.NewTimer(c.opts.PollInterval)
	defer poll.Stop()

	for {
		c.Step(ctx)

		poll.Reset(c.opts.PollInterval)
		select {
		case <-ctx.Done():
			c.logger.Info("controller: stopped")
			return ctx.Err()
		case <-c.trigger.Wake():
		case <-status:
			c.logStatus()
		case <-poll.C:
		}
	}
}

func (c *Controller) logStatus() {
	ts := c.trigger.Stats()
	cs := c.scheduler.State()
	c.logger.Infof("controller: up %s, triggers %d accepted / %d dropped, captures %d (%d uploaded, %d capture failures, %d upload failures), calibration frames %d (%d failed)",
		time.Since(c.started).Round(time.Second), ts.Accepted, ts.Dropped,
		c.stats.Captured, c.stats.Uploaded, c.stats.CaptureFailures, c.stats.UploadFailures, cs.Total, c.stats.CalibrationFailures)

	if m, err := ps.MemoryStatus(); err == nil {
		c.logger.Debugf("controller: memory %s / %s (%.1f%%)", humanize.Bytes(m.Used), humanize.Bytes(m.Total), m.UsedPercent)
	}
	if cpu, err := ps.CPUStatus(); err == nil {
		c.logger.Debugf("controller: cpu %.1f%%", cpu.Percent)
	}
	if c.opts.DiskPath != "" {
		if d, err := ps.DiskUsage(c.opts.DiskPath); err == nil {
			c.logger.Debugf("controller: disk %s / %s (%.1f%%)", humanize.Bytes(d.Used), humanize.Bytes(d.Total), d.UsedPercent)
		}
	}
}
