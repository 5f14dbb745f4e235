// Package input delivers raw sensor edges to a handler running on the
// watcher's own goroutine. Handlers must not block.
package input

import "context"

// EdgeHandler receives the line level right after an edge.
type EdgeHandler func(level int)

type Watcher interface {
	// Watch delivers edges until ctx is done.
	Watch(ctx context.Context, h EdgeHandler) error
}
