package utils

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// SignalContext returns a context that is canceled on SIGTERM or SIGINT.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		defer cancel()
		signalCh := make(chan os.Signal, 1)
		signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(signalCh)
		select {
		case s := <-signalCh:
			logger.Infof("received signal %s, shutting down", s)
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
