package input

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Signal turns SIGUSR1 into an edge at Level, for bench testing without a
// sensor attached.
type Signal struct {
	Level int
}

func (s *Signal) Watch(ctx context.Context, h EdgeHandler) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	defer signal.Stop(ch)
	logger.Infof("input: send SIGUSR1 to pid %d to trigger a capture", os.Getpid())

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
			h(s.Level)
		}
	}
}
