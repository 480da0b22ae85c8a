package pipeline

import (
	"context"
	"log"
	"sync"
	"time"
)

// taskGroup supervises fire-and-forget background work (enrichment, safety
// scans, notifications) so shutdown can wait for it with a bound instead of
// leaking goroutines.
type taskGroup struct {
	wg sync.WaitGroup

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func newTaskGroup() *taskGroup {
	ctx, cancel := context.WithCancel(context.Background())
	return &taskGroup{ctx: ctx, cancel: cancel}
}

// Go runs fn in a supervised goroutine. The context is cancelled on
// StopWait. Panics are contained: one bad task must not take the pipeline
// down.
func (g *taskGroup) Go(name string, fn func(ctx context.Context)) {
	g.mu.Lock()
	ctx := g.ctx
	g.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[ERROR] Task %s panicked: %v", name, r)
			}
		}()
		fn(ctx)
	}()
}

// StopWait cancels outstanding tasks and waits up to timeout for them to
// finish. Returns false if tasks were still running at the deadline.
func (g *taskGroup) StopWait(timeout time.Duration) bool {
	g.mu.Lock()
	g.cancel()
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		log.Printf("[ERROR] Background tasks did not finish within %s", timeout)
		return false
	}
}
