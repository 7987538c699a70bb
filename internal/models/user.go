package models

import "time"

// Level system constants.
const (
	PointsPerLevel = 10000
	MaxLevel       = 50
)

// User is a hub account. Points are only ever changed by atomic increments.
type User struct {
	ID        string    `gorm:"primaryKey;size:36" json:"-"`
	UserID    string    `gorm:"size:64;not null;uniqueIndex" json:"userId"`
	Name      string    `gorm:"size:128" json:"name"`
	Email     *string   `gorm:"size:255;uniqueIndex" json:"email,omitempty"`
	Points    int       `gorm:"default:0" json:"points"`
	Level     int       `gorm:"default:1" json:"level"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LevelFor derives the level for a point balance.
func LevelFor(points int) int {
	if points < 0 {
		points = 0
	}
	level := points/PointsPerLevel + 1
	if level > MaxLevel {
		level = MaxLevel
	}
	return level
}
