package broker

import (
	"context"
	"sync"
)

// Memory is an in-process broker implementing Publisher and Source. It is
// used by tests and by `serve --no-broker` local runs.
type Memory struct {
	mu         sync.Mutex
	subs       map[string][]*memSub
	published  []Message
	publishErr error
	subErr     error
}

// NewMemory returns an empty in-process broker.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string][]*memSub)}
}

// SetPublishError makes subsequent Publish calls fail with err (nil clears).
func (m *Memory) SetPublishError(err error) {
	m.mu.Lock()
	m.publishErr = err
	m.mu.Unlock()
}

// SetSubscribeError makes subsequent Subscribe calls fail with err (nil
// clears).
func (m *Memory) SetSubscribeError(err error) {
	m.mu.Lock()
	m.subErr = err
	m.mu.Unlock()
}

// Publish records the message and delivers it to current subscribers.
func (m *Memory) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	if m.publishErr != nil {
		err := m.publishErr
		m.mu.Unlock()
		return err
	}
	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}
	m.published = append(m.published, msg)
	subs := append([]*memSub(nil), m.subs[topic]...)
	m.mu.Unlock()

	for _, s := range subs {
		select {
		case s.msgs <- msg:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Published returns a copy of every message published so far.
func (m *Memory) Published() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.published...)
}

// Subscribe registers a subscription on topic.
func (m *Memory) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subErr != nil {
		return nil, m.subErr
	}
	s := &memSub{
		owner: m,
		topic: topic,
		msgs:  make(chan Message, 64),
		errs:  make(chan error, 1),
		done:  make(chan struct{}),
	}
	m.subs[topic] = append(m.subs[topic], s)
	return s, nil
}

// Subscribers returns the number of open subscriptions on topic.
func (m *Memory) Subscribers(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[topic])
}

// Drop simulates a lost connection: every open subscription receives err and
// is removed.
func (m *Memory) Drop(err error) {
	m.mu.Lock()
	var all []*memSub
	for topic, subs := range m.subs {
		all = append(all, subs...)
		delete(m.subs, topic)
	}
	m.mu.Unlock()
	for _, s := range all {
		select {
		case s.errs <- err:
		default:
		}
	}
}

func (m *Memory) remove(s *memSub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subs[s.topic]
	for i, cur := range subs {
		if cur == s {
			m.subs[s.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

type memSub struct {
	owner *Memory
	topic string
	msgs  chan Message
	errs  chan error
	done  chan struct{}
	once  sync.Once
}

func (s *memSub) Messages() <-chan Message { return s.msgs }
func (s *memSub) Err() <-chan error        { return s.errs }

func (s *memSub) Close() {
	s.once.Do(func() {
		close(s.done)
		s.owner.remove(s)
	})
}
