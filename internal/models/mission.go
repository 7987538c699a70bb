package models

import "time"

// Mission instance status values.
const (
	MissionActive    = "active"
	MissionCompleted = "completed"
	MissionExpired   = "expired"
)

// MissionInstance is one user's attempt at a mission. The definition fields
// are copied in at start so later catalogue edits don't change running
// missions.
type MissionInstance struct {
	ID           string     `gorm:"primaryKey;size:36" json:"instance_id"`
	UserID       string     `gorm:"size:64;not null;index:idx_user_status" json:"user_id"`
	MissionID    string     `gorm:"size:64;not null" json:"id"`
	Title        string     `gorm:"size:128" json:"title"`
	Description  string     `gorm:"type:text" json:"description"`
	Type         string     `gorm:"size:16" json:"type"`
	Target       int        `json:"target"`
	RewardPoints int        `json:"reward_points"`
	DurationDays int        `json:"duration_days"`
	Requirements string     `gorm:"type:text" json:"-"` // JSON object
	Status       string     `gorm:"size:16;default:active;index:idx_user_status" json:"status"`
	ActiveKey    *string    `gorm:"size:160;uniqueIndex" json:"-"` // "user:mission" while active
	Progress     int        `json:"progress"`
	StartedAt    time.Time  `json:"started_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ExpiredAt    *time.Time `json:"expired_at,omitempty"`
}

// ActiveMissionKey is the unique key held by an active instance.
func ActiveMissionKey(userID, missionID string) string {
	return userID + ":" + missionID
}
