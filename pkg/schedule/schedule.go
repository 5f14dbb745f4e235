// Package schedule decides when the idle loop pulls a throwaway frame so the
// camera's auto exposure, gain and white balance keep up with the scene.
//
// Frames are taken in epochs. An epoch opens with a burst of up to
// MaxFastFrames frames spaced FastInterval apart; once the burst budget is
// spent nothing is taken until SlowInterval has passed since the epoch
// started, which rolls the epoch over and resets the budget.
package schedule

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"cat-shutter-pi/pkg/clock"
	"cat-shutter-pi/pkg/types"
	"cat-shutter-pi/pkg/utils"
)

var ErrNoFrame = errors.New("camera returned no frame")

type Policy struct {
	FastInterval  time.Duration
	MaxFastFrames int
	SlowInterval  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		FastInterval:  5 * time.Second,
		MaxFastFrames: 5,
		SlowInterval:  5 * time.Minute,
	}
}

type State struct {
	// Frames taken in the current epoch.
	Frames     int
	Last       time.Duration
	EpochStart time.Duration
	// Total counts every calibration frame since start.
	Total uint64
}

type Scheduler struct {
	policy Policy
	source types.FrameSource
	since  clock.Since
	state  State
	logger *zap.SugaredLogger
}

func New(policy Policy, source types.FrameSource, c clock.Clock) *Scheduler {
	return &Scheduler{
		policy: policy,
		source: source,
		since:  clock.NewSince(c),
		logger: utils.GetLogger(),
	}
}

// Now is the scheduler's monotonic time.
func (s *Scheduler) Now() time.Duration {
	return s.since.Elapsed()
}

func (s *Scheduler) State() State {
	return s.state
}

// Due reports whether a calibration frame should be taken at now.
func (s *Scheduler) Due(now time.Duration) bool {
	if s.rolledOver(now) {
		return true
	}
	return now-s.state.Last >= s.policy.FastInterval && s.state.Frames < s.policy.MaxFastFrames
}

func (s *Scheduler) rolledOver(now time.Duration) bool {
	return now-s.state.EpochStart >= s.policy.SlowInterval
}

// Calibrate takes one frame and gives it straight back. A failed acquisition
// still uses up a slot so a broken sensor is not polled in a tight loop.
func (s *Scheduler) Calibrate(ctx context.Context) error {
	now := s.Now()
	if s.rolledOver(now) {
		s.logger.Debugf("calibration: epoch rolled over after %s, %d frames taken", now-s.state.EpochStart, s.state.Frames)
		s.state.Frames = 0
		s.state.EpochStart = now
	}
	s.state.Frames++
	s.state.Total++
	s.state.Last = now

	frame, err := s.source.Acquire(ctx)
	if err != nil {
		s.logger.Warnf("calibration: acquire frame err: %s", err)
		return err
	}
	if frame == nil {
		s.logger.Warnf("calibration: acquire frame err: %s", ErrNoFrame)
		return ErrNoFrame
	}
	s.source.Release(frame)
	s.logger.Debugf("calibration: correcting exposure (%d/%d in epoch)", s.state.Frames, s.policy.MaxFastFrames)

	return nil
}
