package models

import "time"

// Session status values.
const (
	SessionActive = "active"
	SessionEnded  = "ended"
)

// Session is a bounded user/bin interaction window. It correlates an upload
// and its classification with the disposal-completion event that follows.
type Session struct {
	ID            string     `gorm:"primaryKey;size:36" json:"sessionId"`
	UserID        string     `gorm:"size:64;not null;index" json:"userId"`
	BinID         string     `gorm:"size:64;not null;index:idx_bin_status" json:"binId"`
	DeviceID      string     `gorm:"size:64" json:"deviceId"`
	Status        string     `gorm:"size:16;default:active;index:idx_bin_status" json:"status"`
	ActiveBin     *string    `gorm:"size:64;uniqueIndex" json:"-"` // = BinID while active and exclusive, NULL otherwise
	CountdownMs   int        `json:"countdownMs"`
	DisposalCount int        `gorm:"default:0" json:"disposalCount"`
	EndReason     string     `gorm:"size:32" json:"endReason,omitempty"`
	StartedAt     time.Time  `gorm:"index" json:"startedAt"`
	LastActionAt  time.Time  `gorm:"index" json:"lastActionAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
}

// Active reports whether the session has not been ended.
func (s *Session) Active() bool {
	return s.Status == SessionActive
}
