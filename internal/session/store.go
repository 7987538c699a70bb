// Package session tracks user/bin interaction windows and drives the
// activate/deactivate commands sent to bin devices.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/ecotionbuddy/binhub/internal/apperr"
	"github.com/ecotionbuddy/binhub/internal/models"
	"gorm.io/gorm"
)

// Create inserts a new session row. A unique violation on the active bin
// column is reported as apperr.ErrConflict.
func Create(db *gorm.DB, s *models.Session) error {
	if err := db.Create(s).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("session: bin %s already has an active session: %w", s.BinID, apperr.ErrConflict)
		}
		return fmt.Errorf("session: create: %w", err)
	}
	return nil
}

// Get returns a session by id.
func Get(db *gorm.DB, id string) (*models.Session, error) {
	var s models.Session
	if err := db.Where("id = ?", id).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("session: %s: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("session: get %s: %w", id, err)
	}
	return &s, nil
}

// ActiveForBin returns the most recently started active session for a bin,
// or nil when the bin has none.
func ActiveForBin(db *gorm.DB, binID string) (*models.Session, error) {
	var s models.Session
	err := db.Where("bin_id = ? AND status = ?", binID, models.SessionActive).
		Order("started_at DESC").
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: active for bin %s: %w", binID, err)
	}
	return &s, nil
}

// ListActive returns all active sessions, oldest first.
func ListActive(db *gorm.DB) ([]models.Session, error) {
	var out []models.Session
	if err := db.Where("status = ?", models.SessionActive).Order("started_at").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("session: list active: %w", err)
	}
	return out, nil
}

// Touch refreshes lastActionAt on an active session. It reports whether a
// row was updated.
func Touch(db *gorm.DB, id string, at time.Time) (bool, error) {
	result := db.Model(&models.Session{}).
		Where("id = ? AND status = ?", id, models.SessionActive).
		Update("last_action_at", at)
	if result.Error != nil {
		return false, fmt.Errorf("session: touch %s: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// RecordDisposal bumps the disposal counter and lastActionAt. Ended sessions
// are counted too since device events may arrive after the session closed.
func RecordDisposal(db *gorm.DB, id string, at time.Time) error {
	result := db.Model(&models.Session{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"disposal_count": gorm.Expr("disposal_count + ?", 1),
			"last_action_at": at,
		})
	if result.Error != nil {
		return fmt.Errorf("session: record disposal %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("session: %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// MarkEnded moves an active session to ended. It reports false, without
// error, when the session was already ended.
func MarkEnded(db *gorm.DB, id, reason string, at time.Time) (bool, error) {
	result := db.Model(&models.Session{}).
		Where("id = ? AND status = ?", id, models.SessionActive).
		Updates(map[string]interface{}{
			"status":         models.SessionEnded,
			"ended_at":       at,
			"end_reason":     reason,
			"active_bin":     nil,
			"last_action_at": at,
		})
	if result.Error != nil {
		return false, fmt.Errorf("session: end %s: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// IdleSince returns active sessions whose last action is before cutoff.
func IdleSince(db *gorm.DB, cutoff time.Time) ([]models.Session, error) {
	var out []models.Session
	err := db.Where("status = ? AND last_action_at < ?", models.SessionActive, cutoff).
		Order("last_action_at").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("session: idle since %v: %w", cutoff, err)
	}
	return out, nil
}

// CountEnded counts a user's sessions that ended at or after since.
func CountEnded(db *gorm.DB, userID string, since time.Time) (int, error) {
	var n int64
	err := db.Model(&models.Session{}).
		Where("user_id = ? AND status = ? AND ended_at >= ?", userID, models.SessionEnded, since).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("session: count ended for %s: %w", userID, err)
	}
	return int(n), nil
}
