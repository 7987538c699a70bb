package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ecotionbuddy/binhub/internal/logging"
	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Reaper periodically ends sessions nobody has touched for a while.
type Reaper struct {
	m       *Manager
	timeout time.Duration
	cron    *cron.Cron
	log     *slog.Logger
}

// NewReaper validates schedule and returns a stopped Reaper.
func NewReaper(m *Manager, schedule string, timeout time.Duration, log *slog.Logger) (*Reaper, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("session: idle timeout must be positive")
	}
	r := &Reaper{
		m:       m,
		timeout: timeout,
		cron:    cron.New(cron.WithParser(cronParser)),
		log:     logging.OrDiscard(log).With("component", "session.reaper"),
	}
	if _, err := r.cron.AddFunc(schedule, func() { r.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("session: reap schedule %q: %w", schedule, err)
	}
	return r, nil
}

// RunOnce ends idle sessions immediately.
func (r *Reaper) RunOnce(ctx context.Context) int {
	n, err := r.m.EndIdle(ctx, r.timeout)
	if err != nil {
		r.log.Error("reap failed", "error", err)
		return 0
	}
	if n > 0 {
		r.log.Info("ended idle sessions", "count", n, "timeout", r.timeout)
	}
	return n
}

// Start begins the schedule in its own goroutine.
func (r *Reaper) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running reap to finish.
func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
}
