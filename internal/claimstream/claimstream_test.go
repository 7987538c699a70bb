package claimstream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ecotionbuddy/binhub/internal/models"
	"github.com/segmentio/kafka-go"
)

type mockWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *mockWriter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

func TestRecordFor(t *testing.T) {
	sid := "s1"
	ts := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	r := RecordFor(models.Claim{ID: "c1", UserID: "alice", SessionID: &sid, Points: 50, Status: models.ClaimAwarded, Source: models.SourceDisposal, TS: ts})
	if r.SessionID != "s1" || r.Points != 50 || !r.TS.Equal(ts) {
		t.Errorf("record = %+v", r)
	}
}

func TestStream_WritesOffered(t *testing.T) {
	mw := &mockWriter{}
	s := newStream(mw, 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	s.Offer(models.Claim{ID: "c1", UserID: "alice", Points: 50})
	deadline := time.Now().Add(time.Second)
	for mw.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	s.Wait()

	if mw.count() != 1 {
		t.Fatalf("written = %d, want 1", mw.count())
	}
	if string(mw.msgs[0].Key) != "alice" {
		t.Errorf("key = %q", mw.msgs[0].Key)
	}
	var r Record
	if err := json.Unmarshal(mw.msgs[0].Value, &r); err != nil || r.ID != "c1" {
		t.Errorf("value = %s, %v", mw.msgs[0].Value, err)
	}
	if !mw.closed {
		t.Error("writer not closed on shutdown")
	}
}

func TestStream_DrainsOnShutdown(t *testing.T) {
	mw := &mockWriter{}
	s := newStream(mw, 8, nil)
	s.Offer(models.Claim{ID: "c1"})
	s.Offer(models.Claim{ID: "c2"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Run(ctx)

	if mw.count() != 2 {
		t.Errorf("written = %d, want 2 after drain", mw.count())
	}
}

func TestStream_OfferFull(t *testing.T) {
	s := newStream(&mockWriter{}, 1, nil)
	if !s.Offer(models.Claim{ID: "a"}) {
		t.Fatal("first offer refused")
	}
	if s.Offer(models.Claim{ID: "b"}) {
		t.Error("offer accepted with full buffer")
	}
}

func TestStream_WriteErrorContinues(t *testing.T) {
	mw := &mockWriter{err: errors.New("leader not available")}
	s := newStream(mw, 4, nil)
	s.Offer(models.Claim{ID: "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx); err != nil {
		t.Errorf("Run = %v", err)
	}
}
