// Package account manages user registration and the read-only user views
// (profile, claim history).
package account

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/ecotionbuddy/binhub/internal/apperr"
	"github.com/ecotionbuddy/binhub/internal/ledger"
	"github.com/ecotionbuddy/binhub/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RecentClaims is how many claims a profile embeds.
const RecentClaims = 10

// Profile is the public view of a user.
type Profile struct {
	UserID            string         `json:"userId"`
	Name              string         `json:"name"`
	Email             string         `json:"email,omitempty"`
	Points            int            `json:"points"`
	Level             int            `json:"level"`
	ClaimsCount       int            `json:"claimsCount"`
	RecentClaims      []models.Claim `json:"recentClaims"`
	ActiveMissions    []string       `json:"activeMissions"`
	CompletedMissions []string       `json:"completedMissions"`
}

// HistoryItem is one claim rendered for the app's history screen.
type HistoryItem struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	PointsEarned int    `json:"pointsEarned"`
	Timestamp    int64  `json:"timestamp"` // unix millis
	Category     string `json:"category"`
}

// Register creates a user. A placeholder row created by an earlier reward
// (no name, no email) is claimed instead of conflicting.
func Register(db *gorm.DB, userID, name, email string) (*models.User, error) {
	userID = strings.TrimSpace(userID)
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if userID == "" || name == "" || email == "" {
		return nil, fmt.Errorf("account: userId, name and email are required: %w", apperr.ErrInvalid)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("account: invalid email %q: %w", email, apperr.ErrInvalid)
	}

	var user models.User
	err := db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ?", userID).First(&user).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			user = models.User{
				ID:     uuid.NewString(),
				UserID: userID,
				Name:   name,
				Email:  &email,
				Level:  1,
			}
			return tx.Create(&user).Error
		case err != nil:
			return err
		case user.Name != "" || user.Email != nil:
			return fmt.Errorf("account: user %s already registered: %w", userID, apperr.ErrConflict)
		}
		user.Name = name
		user.Email = &email
		return tx.Model(&models.User{}).Where("id = ?", user.ID).
			Updates(map[string]interface{}{"name": name, "email": email}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("account: email %s already registered: %w", email, apperr.ErrConflict)
		}
		if errors.Is(err, apperr.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("account: register %s: %w", userID, err)
	}
	return &user, nil
}

// Get returns a user by its public id.
func Get(db *gorm.DB, userID string) (*models.User, error) {
	var u models.User
	if err := db.Where("user_id = ?", userID).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("account: user %s: %w", userID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("account: get %s: %w", userID, err)
	}
	return &u, nil
}

// GetProfile assembles the profile view for userID.
func GetProfile(db *gorm.DB, userID string) (*Profile, error) {
	u, err := Get(db, userID)
	if err != nil {
		return nil, err
	}
	count, err := ledger.Count(db, userID)
	if err != nil {
		return nil, err
	}
	recent, err := ledger.History(db, userID, RecentClaims)
	if err != nil {
		return nil, err
	}
	active, err := missionIDs(db, userID, models.MissionActive)
	if err != nil {
		return nil, err
	}
	completed, err := missionIDs(db, userID, models.MissionCompleted)
	if err != nil {
		return nil, err
	}

	p := &Profile{
		UserID:            u.UserID,
		Name:              u.Name,
		Points:            u.Points,
		Level:             u.Level,
		ClaimsCount:       count,
		RecentClaims:      recent,
		ActiveMissions:    active,
		CompletedMissions: completed,
	}
	if u.Email != nil {
		p.Email = *u.Email
	}
	return p, nil
}

func missionIDs(db *gorm.DB, userID, status string) ([]string, error) {
	ids := []string{}
	err := db.Model(&models.MissionInstance{}).
		Where("user_id = ? AND status = ?", userID, status).
		Order("started_at").
		Pluck("mission_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("account: %s missions for %s: %w", status, userID, err)
	}
	return ids, nil
}

// History returns a user's claims as history items, newest first. Unknown
// users get an empty history.
func History(db *gorm.DB, userID string, limit int) ([]HistoryItem, error) {
	claims, err := ledger.History(db, userID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]HistoryItem, 0, len(claims))
	for _, c := range claims {
		items = append(items, historyItem(c))
	}
	return items, nil
}

func historyItem(c models.Claim) HistoryItem {
	item := HistoryItem{
		ID:           c.ID,
		Type:         c.Source,
		PointsEarned: c.Points,
		Timestamp:    c.TS.UnixMilli(),
		Category:     c.Label,
	}
	switch c.Source {
	case models.SourceDisposal:
		item.Title = "Disposal"
		if c.Status == models.ClaimSkipped {
			item.Description = fmt.Sprintf("%s not accepted at %s", labelOr(c.Label), binOr(c.BinID))
		} else {
			item.Description = fmt.Sprintf("%s disposed at %s", labelOr(c.Label), binOr(c.BinID))
		}
	case models.SourceMission:
		item.Title = "Mission completed"
		item.Description = "Reward for " + c.Label
		item.Category = "mission"
	default:
		item.Title = "Points claimed"
		item.Description = "Manual claim"
	}
	return item
}

func labelOr(label string) string {
	if label == "" {
		return "item"
	}
	return label
}

func binOr(bin string) string {
	if bin == "" {
		return "a bin"
	}
	return bin
}
