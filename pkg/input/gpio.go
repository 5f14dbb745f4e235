package input

import (
	"context"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// GPIO watches one line of a GPIO character device. Both edges are
// requested; the level handed to the handler follows the edge direction.
type GPIO struct {
	Chip   string `json:"chip"`
	Offset int    `json:"offset"`
	PullUp bool   `json:"pullUp"`
}

func (g *GPIO) Watch(ctx context.Context, h EdgeHandler) error {
	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		gpiocdev.WithConsumer("cat-shutter-pi"),
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			h(edgeLevel(evt.Type))
		}),
	}
	if g.PullUp {
		opts = append(opts, gpiocdev.WithPullUp)
	}
	line, err := gpiocdev.RequestLine(g.Chip, g.Offset, opts...)
	if err != nil {
		return fmt.Errorf("request %s line %d: %w", g.Chip, g.Offset, err)
	}
	logger.Infof("input: watching %s line %d", g.Chip, g.Offset)

	<-ctx.Done()
	return line.Close()
}

func edgeLevel(t gpiocdev.LineEventType) int {
	if t == gpiocdev.LineEventFallingEdge {
		return 0
	}
	return 1
}
