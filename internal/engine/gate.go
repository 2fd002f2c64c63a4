package engine

import (
	"context"

	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

// Gate is the admission control for instance tasks: at most limit holders at
// once, admitted in the order they ask. It is a counting semaphore, not a
// worker pool; each instance runs in its own goroutine once admitted.
type Gate struct {
	slots chan struct{}
}

func NewGate(limit int) *Gate {
	if limit < 1 {
		limit = 1
	}
	return &Gate{slots: make(chan struct{}, limit)}
}

// Acquire blocks until a slot frees up or the context is cancelled, so a
// run-level cancellation never deadlocks pending admissions.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case g.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return schema.NewError(schema.ErrCodeCancelled, "run cancelled while waiting for admission").
			WithCause(ctx.Err())
	}
}

func (g *Gate) Release() {
	<-g.slots
}
