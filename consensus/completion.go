package consensus

import "sync"

// completion is a single-fulfillment signal scoped to one session. Either
// the quorum path or the timeout path may complete it; the second attempt is
// a no-op, never an error.
type completion struct {
	once sync.Once
	ch   chan struct{}
}

func newCompletion() *completion {
	return &completion{ch: make(chan struct{})}
}

// complete fulfills the signal. Returns true only for the first caller.
func (c *completion) complete() bool {
	first := false
	c.once.Do(func() {
		first = true
		close(c.ch)
	})
	return first
}

// done returns a channel closed on fulfillment.
func (c *completion) done() <-chan struct{} {
	return c.ch
}
