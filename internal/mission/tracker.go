package mission

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ecotionbuddy/binhub/internal/apperr"
	"github.com/ecotionbuddy/binhub/internal/eventlog"
	"github.com/ecotionbuddy/binhub/internal/ledger"
	"github.com/ecotionbuddy/binhub/internal/logging"
	"github.com/ecotionbuddy/binhub/internal/models"
	"github.com/ecotionbuddy/binhub/internal/session"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// scanActions are the event actions counted by scan missions.
var scanActions = []string{models.ActionScan, models.ActionDisposal}

// Report is the outcome of one CheckProgress call.
type Report struct {
	Completed    []models.MissionInstance `json:"completed_missions"`
	Updated      []models.MissionInstance `json:"updated_missions"`
	Expired      []models.MissionInstance `json:"expired_missions"`
	PointsEarned int                      `json:"points_earned"`
}

// UserMissions groups a user's instances by status.
type UserMissions struct {
	Active    []models.MissionInstance `json:"active_missions"`
	Completed []models.MissionInstance `json:"completed_missions"`
	Expired   []models.MissionInstance `json:"expired_missions"`
}

// Tracker starts missions and evaluates their progress on demand.
type Tracker struct {
	db      *gorm.DB
	onClaim func(models.Claim)
	log     *slog.Logger
	now     func() time.Time
}

// NewTracker returns a Tracker.
func NewTracker(db *gorm.DB, log *slog.Logger) *Tracker {
	return &Tracker{
		db:  db,
		log: logging.OrDiscard(log).With("component", "mission"),
		now: time.Now,
	}
}

// OnClaim registers fn to be called with each committed reward claim.
func (t *Tracker) OnClaim(fn func(models.Claim)) {
	t.onClaim = fn
}

func (t *Tracker) requireUser(userID string) error {
	var n int64
	if err := t.db.Model(&models.User{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		return fmt.Errorf("mission: look up user %s: %w", userID, err)
	}
	if n == 0 {
		return fmt.Errorf("mission: user %s: %w", userID, apperr.ErrNotFound)
	}
	return nil
}

// Start begins missionID for userID.
func (t *Tracker) Start(userID, missionID string) (*models.MissionInstance, error) {
	def, ok := Lookup(missionID)
	if !ok {
		return nil, fmt.Errorf("mission: %s: %w", missionID, apperr.ErrNotFound)
	}
	if err := t.requireUser(userID); err != nil {
		return nil, err
	}
	// An overdue instance must not block a restart.
	if _, err := t.expireOverdue(userID); err != nil {
		return nil, err
	}

	reqs, err := json.Marshal(def.Requirements)
	if err != nil {
		return nil, fmt.Errorf("mission: marshal requirements: %w", err)
	}
	now := t.now()
	key := models.ActiveMissionKey(userID, missionID)
	mi := &models.MissionInstance{
		ID:           uuid.NewString(),
		UserID:       userID,
		MissionID:    def.ID,
		Title:        def.Title,
		Description:  def.Description,
		Type:         def.Type,
		Target:       def.Target,
		RewardPoints: def.RewardPoints,
		DurationDays: def.DurationDays,
		Requirements: string(reqs),
		Status:       models.MissionActive,
		ActiveKey:    &key,
		StartedAt:    now,
		ExpiresAt:    now.AddDate(0, 0, def.DurationDays),
	}
	if err := t.db.Create(mi).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("mission: %s already active for %s: %w", missionID, userID, apperr.ErrConflict)
		}
		return nil, fmt.Errorf("mission: start %s: %w", missionID, err)
	}
	t.log.Info("mission started", "user", userID, "mission", missionID, "expires", mi.ExpiresAt)
	return mi, nil
}

func (t *Tracker) active(userID string) ([]models.MissionInstance, error) {
	var out []models.MissionInstance
	err := t.db.Where("user_id = ? AND status = ?", userID, models.MissionActive).
		Order("started_at").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("mission: active for %s: %w", userID, err)
	}
	return out, nil
}

func (t *Tracker) expireOverdue(userID string) ([]models.MissionInstance, error) {
	active, err := t.active(userID)
	if err != nil {
		return nil, err
	}
	now := t.now()
	var expired []models.MissionInstance
	for _, mi := range active {
		if !now.After(mi.ExpiresAt) {
			continue
		}
		ok, err := t.expire(&mi, now)
		if err != nil {
			return nil, err
		}
		if ok {
			expired = append(expired, mi)
		}
	}
	return expired, nil
}

func (t *Tracker) expire(mi *models.MissionInstance, now time.Time) (bool, error) {
	result := t.db.Model(&models.MissionInstance{}).
		Where("id = ? AND status = ?", mi.ID, models.MissionActive).
		Updates(map[string]interface{}{
			"status":     models.MissionExpired,
			"expired_at": now,
			"active_key": nil,
		})
	if result.Error != nil {
		return false, fmt.Errorf("mission: expire %s: %w", mi.ID, result.Error)
	}
	mi.Status = models.MissionExpired
	mi.ExpiredAt = &now
	mi.ActiveKey = nil
	return result.RowsAffected > 0, nil
}

// progress computes an instance's current count from events and sessions
// since it started.
func (t *Tracker) progress(mi *models.MissionInstance) (int, error) {
	var reqs map[string]string
	if mi.Requirements != "" {
		if err := json.Unmarshal([]byte(mi.Requirements), &reqs); err != nil {
			return 0, fmt.Errorf("mission: requirements of %s: %w", mi.ID, err)
		}
	}
	category := reqs["category"]

	switch mi.Type {
	case TypeScan:
		return eventlog.Count(t.db, mi.UserID, mi.StartedAt, scanActions, category)
	case TypeCollect:
		if category == "" {
			return eventlog.Count(t.db, mi.UserID, mi.StartedAt, scanActions, "")
		}
		return eventlog.Count(t.db, mi.UserID, mi.StartedAt, nil, category)
	case TypeVariety:
		return eventlog.DistinctLabels(t.db, mi.UserID, mi.StartedAt)
	case TypeSession:
		return session.CountEnded(t.db, mi.UserID, mi.StartedAt)
	default:
		return 0, fmt.Errorf("mission: unknown type %q", mi.Type)
	}
}

// complete marks mi completed and credits its reward once. The returned claim
// is nil when another caller completed it first.
func (t *Tracker) complete(mi *models.MissionInstance, progress int, now time.Time) (*models.Claim, error) {
	var claim *models.Claim
	err := t.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.MissionInstance{}).
			Where("id = ? AND status = ?", mi.ID, models.MissionActive).
			Updates(map[string]interface{}{
				"status":       models.MissionCompleted,
				"progress":     progress,
				"completed_at": now,
				"active_key":   nil,
			})
		if result.Error != nil {
			return fmt.Errorf("mission: complete %s: %w", mi.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}

		key := models.SourceMission + ":" + mi.ID
		claim = &models.Claim{
			UserID:         mi.UserID,
			Points:         mi.RewardPoints,
			Label:          mi.MissionID,
			Status:         models.ClaimAwarded,
			Source:         models.SourceMission,
			IdempotencyKey: &key,
			TS:             now,
		}
		return ledger.Apply(tx, claim)
	})
	if err != nil {
		return nil, err
	}
	if claim != nil {
		mi.Status = models.MissionCompleted
		mi.Progress = progress
		mi.CompletedAt = &now
		mi.ActiveKey = nil
	}
	return claim, nil
}

// CheckProgress evaluates every active mission of userID. Each instance is
// handled independently: expired ones are closed without reward, completed
// ones are rewarded once, others get their progress refreshed.
func (t *Tracker) CheckProgress(userID string) (*Report, error) {
	if err := t.requireUser(userID); err != nil {
		return nil, err
	}
	active, err := t.active(userID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Completed: []models.MissionInstance{},
		Updated:   []models.MissionInstance{},
		Expired:   []models.MissionInstance{},
	}
	now := t.now()
	for i := range active {
		mi := active[i]
		if now.After(mi.ExpiresAt) {
			ok, err := t.expire(&mi, now)
			if err != nil {
				t.log.Warn("expire failed", "instance", mi.ID, "error", err)
				continue
			}
			if ok {
				report.Expired = append(report.Expired, mi)
			}
			continue
		}

		p, err := t.progress(&mi)
		if err != nil {
			t.log.Warn("progress failed", "instance", mi.ID, "error", err)
			continue
		}
		if p > mi.Target {
			p = mi.Target
		}

		if p >= mi.Target {
			claim, err := t.complete(&mi, p, now)
			if err != nil {
				t.log.Warn("completion failed", "instance", mi.ID, "error", err)
				continue
			}
			if claim == nil {
				continue
			}
			report.Completed = append(report.Completed, mi)
			report.PointsEarned += claim.Points
			t.log.Info("mission completed", "user", userID, "mission", mi.MissionID, "reward", claim.Points)
			if t.onClaim != nil {
				t.onClaim(*claim)
			}
			continue
		}

		if p != mi.Progress {
			if err := t.db.Model(&models.MissionInstance{}).
				Where("id = ? AND status = ?", mi.ID, models.MissionActive).
				Update("progress", p).Error; err != nil {
				t.log.Warn("progress update failed", "instance", mi.ID, "error", err)
				continue
			}
			mi.Progress = p
			report.Updated = append(report.Updated, mi)
		}
	}
	return report, nil
}

// ForUser lists a user's missions grouped by status. Overdue active
// instances are expired first.
func (t *Tracker) ForUser(userID string) (*UserMissions, error) {
	if err := t.requireUser(userID); err != nil {
		return nil, err
	}
	if _, err := t.expireOverdue(userID); err != nil {
		return nil, err
	}

	var all []models.MissionInstance
	if err := t.db.Where("user_id = ?", userID).Order("started_at DESC").Find(&all).Error; err != nil {
		return nil, fmt.Errorf("mission: list for %s: %w", userID, err)
	}
	out := &UserMissions{
		Active:    []models.MissionInstance{},
		Completed: []models.MissionInstance{},
		Expired:   []models.MissionInstance{},
	}
	for _, mi := range all {
		switch mi.Status {
		case models.MissionActive:
			out.Active = append(out.Active, mi)
		case models.MissionCompleted:
			out.Completed = append(out.Completed, mi)
		case models.MissionExpired:
			out.Expired = append(out.Expired, mi)
		}
	}
	return out, nil
}
