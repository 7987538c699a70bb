// Package tasks runs fire-and-forget side effects on a bounded, supervised
// goroutine group.
package tasks

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ecotionbuddy/binhub/internal/logging"
	"golang.org/x/sync/errgroup"
)

// Group runs background tasks with a concurrency limit and a per-task
// timeout. Task errors are logged and never propagate.
type Group struct {
	g       errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	log     *slog.Logger

	mu     sync.Mutex
	closed bool
}

// New returns a Group allowing at most maxInFlight concurrent tasks.
func New(maxInFlight int, timeout time.Duration, log *slog.Logger) *Group {
	ctx, cancel := context.WithCancel(context.Background())
	g := &Group{
		ctx:     ctx,
		cancel:  cancel,
		timeout: timeout,
		log:     logging.OrDiscard(log).With("component", "tasks"),
	}
	if maxInFlight > 0 {
		g.g.SetLimit(maxInFlight)
	}
	return g
}

// Go schedules fn. It returns false, without running fn, when the group is
// full or shut down.
func (g *Group) Go(name string, fn func(ctx context.Context) error) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	ok := g.g.TryGo(func() error {
		ctx := g.ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		start := time.Now()
		if err := fn(ctx); err != nil {
			g.log.Warn("task failed", "task", name, "error", err, "elapsed", time.Since(start))
			return nil
		}
		g.log.Debug("task done", "task", name, "elapsed", time.Since(start))
		return nil
	})
	if !ok {
		g.log.Warn("task group full, dropping task", "task", name)
	}
	return ok
}

// Shutdown stops accepting tasks and waits for running ones. If ctx ends
// first, running tasks are cancelled and ctx's error is returned once they
// exit.
func (g *Group) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.g.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.cancel()
		return nil
	case <-ctx.Done():
		g.cancel()
		<-done
		return ctx.Err()
	}
}
