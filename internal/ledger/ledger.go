// Package ledger records point claims and keeps user balances.
package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ecotionbuddy/binhub/internal/apperr"
	"github.com/ecotionbuddy/binhub/internal/logging"
	"github.com/ecotionbuddy/binhub/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrDuplicate is returned when a claim's idempotency key was already used.
var ErrDuplicate = fmt.Errorf("ledger: duplicate claim: %w", apperr.ErrConflict)

// DefaultAcceptedLabels are the classification outcomes that earn points.
var DefaultAcceptedLabels = []string{"compatible", "accepted", "true", "1", "yes"}

// Credit atomically adds delta to userID's balance, creating the user when
// absent, and recomputes the level.
func Credit(db *gorm.DB, userID string, delta int) error {
	if userID == "" {
		return fmt.Errorf("ledger: user id is required: %w", apperr.ErrInvalid)
	}
	return db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		u := models.User{
			ID:     uuid.NewString(),
			UserID: userID,
			Points: delta,
			Level:  models.LevelFor(delta),
		}
		result := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"points":     gorm.Expr("users.points + ?", delta),
				"updated_at": now,
			}),
		}).Create(&u)
		if result.Error != nil {
			return fmt.Errorf("ledger: credit %s: %w", userID, result.Error)
		}

		var cur models.User
		if err := tx.Where("user_id = ?", userID).First(&cur).Error; err != nil {
			return fmt.Errorf("ledger: reload %s: %w", userID, err)
		}
		if level := models.LevelFor(cur.Points); level != cur.Level {
			if err := tx.Model(&models.User{}).Where("user_id = ?", userID).Update("level", level).Error; err != nil {
				return fmt.Errorf("ledger: level for %s: %w", userID, err)
			}
		}
		return nil
	})
}

// Record appends a claim, assigning id and timestamp when empty.
func Record(db *gorm.DB, c *models.Claim) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.TS.IsZero() {
		c.TS = time.Now()
	}
	if err := db.Create(c).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) && c.IdempotencyKey != nil {
			return fmt.Errorf("%w: key %s", ErrDuplicate, *c.IdempotencyKey)
		}
		return fmt.Errorf("ledger: record claim: %w", err)
	}
	return nil
}

// Apply records c and, for an awarded claim with positive points and a user,
// credits the balance in the same transaction.
func Apply(db *gorm.DB, c *models.Claim) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := Record(tx, c); err != nil {
			return err
		}
		if c.Status == models.ClaimAwarded && c.Points > 0 && c.UserID != "" {
			return Credit(tx, c.UserID, c.Points)
		}
		return nil
	})
}

// History returns a user's claims, newest first.
func History(db *gorm.DB, userID string, limit int) ([]models.Claim, error) {
	q := db.Where("user_id = ?", userID).Order("ts DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.Claim
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("ledger: history for %s: %w", userID, err)
	}
	return out, nil
}

// Count returns the number of claims recorded for a user.
func Count(db *gorm.DB, userID string) (int, error) {
	var n int64
	if err := db.Model(&models.Claim{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("ledger: count for %s: %w", userID, err)
	}
	return int(n), nil
}

// Balance returns a user's current points, or apperr.ErrNotFound.
func Balance(db *gorm.DB, userID string) (int, error) {
	var u models.User
	if err := db.Where("user_id = ?", userID).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("ledger: user %s: %w", userID, apperr.ErrNotFound)
		}
		return 0, fmt.Errorf("ledger: balance for %s: %w", userID, err)
	}
	return u.Points, nil
}

// Ledger applies claims and notifies an optional observer after each
// committed claim.
type Ledger struct {
	db       *gorm.DB
	accepted map[string]bool
	onClaim  func(models.Claim)
	log      *slog.Logger
}

// New returns a Ledger treating acceptedLabels (case-insensitive) as
// reward-worthy. An empty list uses DefaultAcceptedLabels.
func New(db *gorm.DB, acceptedLabels []string, log *slog.Logger) *Ledger {
	if len(acceptedLabels) == 0 {
		acceptedLabels = DefaultAcceptedLabels
	}
	accepted := make(map[string]bool, len(acceptedLabels))
	for _, l := range acceptedLabels {
		accepted[strings.ToLower(strings.TrimSpace(l))] = true
	}
	return &Ledger{
		db:       db,
		accepted: accepted,
		log:      logging.OrDiscard(log).With("component", "ledger"),
	}
}

// OnClaim registers fn to be called with every committed claim.
func (l *Ledger) OnClaim(fn func(models.Claim)) {
	l.onClaim = fn
}

// Accepted reports whether label earns points.
func (l *Ledger) Accepted(label string) bool {
	return l.accepted[strings.ToLower(strings.TrimSpace(label))]
}

// Apply records c (crediting when awarded) and notifies the observer.
func (l *Ledger) Apply(c *models.Claim) error {
	if err := Apply(l.db, c); err != nil {
		return err
	}
	l.log.Info("claim recorded", "claim", c.ID, "user", c.UserID, "points", c.Points, "status", c.Status, "source", c.Source)
	if l.onClaim != nil {
		l.onClaim(*c)
	}
	return nil
}

// Manual awards points outside the disposal pipeline.
func (l *Ledger) Manual(userID, binID string, points int) (*models.Claim, error) {
	if userID == "" {
		return nil, fmt.Errorf("ledger: userId is required: %w", apperr.ErrInvalid)
	}
	c := &models.Claim{
		UserID: userID,
		BinID:  binID,
		Points: points,
		Status: models.ClaimAwarded,
		Source: models.SourceManual,
	}
	if err := l.Apply(c); err != nil {
		return nil, err
	}
	return c, nil
}
