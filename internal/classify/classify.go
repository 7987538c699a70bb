// Package classify turns an uploaded photo into a waste label by calling an
// external model server.
package classify

import (
	"context"
	"log/slog"

	"github.com/ecotionbuddy/binhub/internal/logging"
)

// Unknown is the label reported when classification is unavailable.
const Unknown = "unknown"

// DefaultClassNames is the class order of the stock trash model.
var DefaultClassNames = []string{"cardboard", "glass", "metal", "paper", "plastic", "trash"}

// Result is a label and its confidence in [0, 1].
type Result struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classifier produces a label for raw image bytes.
type Classifier interface {
	Classify(ctx context.Context, image []byte) (Result, error)
}

// Gateway wraps a Classifier and never fails: a missing classifier or any
// error degrades to Unknown with zero confidence.
type Gateway struct {
	c   Classifier
	log *slog.Logger
}

// NewGateway returns a Gateway. c may be nil when classification is
// disabled.
func NewGateway(c Classifier, log *slog.Logger) *Gateway {
	return &Gateway{c: c, log: logging.OrDiscard(log).With("component", "classify")}
}

// Enabled reports whether a classifier is configured.
func (g *Gateway) Enabled() bool {
	return g.c != nil
}

// Classify returns the label for image.
func (g *Gateway) Classify(ctx context.Context, image []byte) Result {
	if g.c == nil {
		return Result{Label: Unknown}
	}
	res, err := g.c.Classify(ctx, image)
	if err != nil {
		g.log.Warn("classification failed", "error", err)
		return Result{Label: Unknown}
	}
	g.log.Debug("classified", "label", res.Label, "confidence", res.Confidence)
	return res
}
