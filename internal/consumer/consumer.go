// Package consumer ingests disposal events from the broker, stores them and
// turns them into reward claims.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ecotionbuddy/binhub/internal/apperr"
	"github.com/ecotionbuddy/binhub/internal/broker"
	"github.com/ecotionbuddy/binhub/internal/eventlog"
	"github.com/ecotionbuddy/binhub/internal/ledger"
	"github.com/ecotionbuddy/binhub/internal/logging"
	"github.com/ecotionbuddy/binhub/internal/models"
	"github.com/ecotionbuddy/binhub/internal/session"
	"gorm.io/gorm"
)

// DefaultReconnectDelay is the fixed wait between broker connection attempts.
const DefaultReconnectDelay = 5 * time.Second

// Config holds consumer settings.
type Config struct {
	Topic          string
	ReconnectDelay time.Duration
	DisposalPoints int
}

// Consumer is the long-running event subscriber.
type Consumer struct {
	src    broker.Source
	db     *gorm.DB
	ledger *ledger.Ledger
	cfg    Config
	log    *slog.Logger
	now    func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// New returns a Consumer. Run starts it.
func New(src broker.Source, db *gorm.DB, l *ledger.Ledger, cfg Config, log *slog.Logger) *Consumer {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	return &Consumer{
		src:    src,
		db:     db,
		ledger: l,
		cfg:    cfg,
		log:    logging.OrDiscard(log).With("component", "consumer"),
		now:    time.Now,
		stop:   make(chan struct{}),
	}
}

// Stop asks Run to return. It is safe to call more than once.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Consumer) stopping(ctx context.Context) bool {
	select {
	case <-c.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// wait sleeps for the reconnect delay. It returns false if stopped first.
func (c *Consumer) wait(ctx context.Context) bool {
	t := time.NewTimer(c.cfg.ReconnectDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

// Run subscribes and handles events until Stop is called or ctx ends. Broker
// errors are retried after the reconnect delay; Run only returns nil.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("consumer starting", "topic", c.cfg.Topic)
	for !c.stopping(ctx) {
		sub, err := c.src.Subscribe(ctx, c.cfg.Topic)
		if err != nil {
			c.log.Warn("subscribe failed, retrying", "error", err, "delay", c.cfg.ReconnectDelay)
			if !c.wait(ctx) {
				break
			}
			continue
		}
		c.log.Info("subscribed", "topic", c.cfg.Topic)

		err = c.consume(ctx, sub)
		sub.Close()
		if err == nil {
			break
		}
		c.log.Warn("broker connection lost, reconnecting", "error", err, "delay", c.cfg.ReconnectDelay)
		if !c.wait(ctx) {
			break
		}
	}
	c.log.Info("consumer stopped")
	return nil
}

// consume handles messages until the subscription fails (error) or the
// consumer is stopped (nil).
func (c *Consumer) consume(ctx context.Context, sub broker.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stop:
			return nil
		case err := <-sub.Err():
			if err == nil {
				err = broker.ErrConnectionLost
			}
			return err
		case msg := <-sub.Messages():
			if err := c.Handle(ctx, msg.Payload); err != nil {
				if errors.Is(err, apperr.ErrInvalid) {
					c.log.Warn("dropping malformed event", "error", err)
				} else {
					c.log.Error("event handling failed", "error", err)
				}
			}
		}
	}
}

// Handle stores one raw event and applies its reward. Events without a
// resolvable session are stored but earn nothing.
func (c *Consumer) Handle(ctx context.Context, payload []byte) error {
	obj, err := eventlog.Decode(payload)
	if err != nil {
		return err
	}
	f := eventlog.Extract(obj)
	if f.Action == "" {
		f.Action = models.ActionDisposal
	}

	now := c.now()
	ev := eventlog.New(models.OriginDevice, payload, f, now)
	if err := eventlog.Append(c.db, ev); err != nil {
		return err
	}

	if f.SessionID == "" {
		c.log.Debug("event without session reference", "event", ev.ID)
		return nil
	}
	sess, err := session.Get(c.db, f.SessionID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			c.log.Info("event for unknown session", "event", ev.ID, "session", f.SessionID)
			return nil
		}
		return err
	}

	if ev.UserID == "" && sess.UserID != "" {
		if err := eventlog.SetUser(c.db, ev.ID, sess.UserID); err != nil {
			return err
		}
	}

	claim := c.claimFor(sess, ev, f)
	var applyErr error
	if err := c.ledger.Apply(claim); err != nil {
		if errors.Is(err, ledger.ErrDuplicate) {
			c.log.Info("duplicate event skipped", "event_key", f.EventID, "session", sess.ID)
			return nil
		}
		applyErr = fmt.Errorf("consumer: apply claim for session %s: %w", sess.ID, err)
	}

	// The disposal happened whatever the award outcome.
	if err := session.RecordDisposal(c.db, sess.ID, now); err != nil {
		return errors.Join(applyErr, err)
	}
	return applyErr
}

func (c *Consumer) claimFor(sess *models.Session, ev *models.Event, f eventlog.Fields) *models.Claim {
	sid := sess.ID
	eid := ev.ID
	binID := f.BinID
	if binID == "" {
		binID = sess.BinID
	}
	claim := &models.Claim{
		UserID:    sess.UserID,
		BinID:     binID,
		SessionID: &sid,
		EventID:   &eid,
		Label:     f.Label,
		Status:    models.ClaimSkipped,
		Source:    models.SourceDisposal,
		TS:        ev.ReceivedAt,
	}
	if c.ledger.Accepted(f.Label) {
		claim.Points = c.cfg.DisposalPoints
		claim.Status = models.ClaimAwarded
	}
	if f.EventID != "" {
		key := models.SourceDisposal + ":" + f.EventID
		claim.IdempotencyKey = &key
	}
	return claim
}
