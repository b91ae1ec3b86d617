package probe

import (
	"context"
	"sync"
	"time"
)

// countdown releases waiters once it has been counted down n times.
type countdown struct {
	mu    sync.Mutex
	count int
	done  chan struct{}
}

func newCountdown(n int) *countdown {
	c := &countdown{count: n, done: make(chan struct{})}
	if n <= 0 {
		close(c.done)
	}
	return c
}

func (c *countdown) CountDown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.count <= 0 {
		return
	}
	c.count--
	if c.count == 0 {
		close(c.done)
	}
}

func (c *countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Wait blocks until the count reaches zero, the timeout elapses or ctx is
// done, and maps the reason onto a probe Result.
func (c *countdown) Wait(ctx context.Context, timeout time.Duration) Result {
	tc := time.NewTimer(timeout)
	defer tc.Stop()

	select {
	case <-c.done:
		return ResultOK
	case <-tc.C:
		return ResultTimeOut
	case <-ctx.Done():
		return ResultInterrupted
	}
}
