// Package notify pushes classified photos to chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Photo is one classified upload to announce.
type Photo struct {
	Name        string
	ContentType string
	Data        []byte
	URL         string
	Caption     string
}

// Sink delivers a photo to one chat destination.
type Sink interface {
	Name() string
	Push(ctx context.Context, p Photo) error
}

// Multi fans a photo out to every sink. One sink failing does not stop the
// others; all failures are joined.
type Multi []Sink

// Name implements Sink.
func (m Multi) Name() string {
	names := make([]string, len(m))
	for i, s := range m {
		names[i] = s.Name()
	}
	return strings.Join(names, ",")
}

// Push implements Sink.
func (m Multi) Push(ctx context.Context, p Photo) error {
	var errs []error
	for _, s := range m {
		if err := s.Push(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("notify: %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Caption formats the message posted with a photo.
func Caption(label string, confidence float64, binID, sessionID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "♻️ %s (%.0f%%)", label, confidence*100)
	if binID != "" {
		fmt.Fprintf(&b, " · bin %s", binID)
	}
	if sessionID != "" {
		fmt.Fprintf(&b, " · session %s", sessionID)
	}
	return b.String()
}
