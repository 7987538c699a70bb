// Package claimstream publishes committed claims to a Kafka topic for
// downstream consumers (leaderboards, analytics).
package claimstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ecotionbuddy/binhub/internal/logging"
	"github.com/ecotionbuddy/binhub/internal/models"
	"github.com/segmentio/kafka-go"
)

const defaultBuffer = 256

// writer is the subset of *kafka.Writer used here.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Record is the JSON written for each claim.
type Record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	BinID     string    `json:"binId,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Points    int       `json:"points"`
	Label     string    `json:"label,omitempty"`
	Status    string    `json:"status"`
	Source    string    `json:"source"`
	TS        time.Time `json:"ts"`
}

// RecordFor converts a claim to its stream record.
func RecordFor(c models.Claim) Record {
	r := Record{
		ID:     c.ID,
		UserID: c.UserID,
		BinID:  c.BinID,
		Points: c.Points,
		Label:  c.Label,
		Status: c.Status,
		Source: c.Source,
		TS:     c.TS,
	}
	if c.SessionID != nil {
		r.SessionID = *c.SessionID
	}
	return r
}

// Stream buffers claims and writes them to Kafka from one goroutine. Offer
// never blocks; claims are dropped when the buffer is full.
type Stream struct {
	w    writer
	ch   chan models.Claim
	log  *slog.Logger
	once sync.Once
	done chan struct{}
}

// New returns a Stream writing to topic on brokers.
func New(brokers []string, topic string, log *slog.Logger) *Stream {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return newStream(w, defaultBuffer, log)
}

func newStream(w writer, buffer int, log *slog.Logger) *Stream {
	return &Stream{
		w:    w,
		ch:   make(chan models.Claim, buffer),
		log:  logging.OrDiscard(log).With("component", "claimstream"),
		done: make(chan struct{}),
	}
}

// Offer queues a claim for publishing.
func (s *Stream) Offer(c models.Claim) bool {
	select {
	case s.ch <- c:
		return true
	default:
		s.log.Warn("claim stream buffer full, dropping claim", "claim", c.ID)
		return false
	}
}

// Run writes queued claims until ctx is cancelled, then flushes what is
// already buffered and closes the writer.
func (s *Stream) Run(ctx context.Context) error {
	defer close(s.done)
	for {
		select {
		case c := <-s.ch:
			s.write(ctx, c)
		case <-ctx.Done():
			s.drain()
			if err := s.w.Close(); err != nil {
				return fmt.Errorf("claimstream: close writer: %w", err)
			}
			return nil
		}
	}
}

// Wait blocks until Run has returned.
func (s *Stream) Wait() {
	<-s.done
}

func (s *Stream) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case c := <-s.ch:
			s.write(ctx, c)
		default:
			return
		}
	}
}

func (s *Stream) write(ctx context.Context, c models.Claim) {
	value, err := json.Marshal(RecordFor(c))
	if err != nil {
		s.log.Error("marshal claim", "claim", c.ID, "error", err)
		return
	}
	msg := kafka.Message{Key: []byte(c.UserID), Value: value, Time: c.TS}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		s.log.Warn("publish claim failed", "claim", c.ID, "error", err)
	}
}
