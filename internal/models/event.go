package models

import "time"

// Event origins.
const (
	OriginDevice = "device"
	OriginClient = "client"
)

// Event actions counted by missions.
const (
	ActionDisposal = "disposal"
	ActionScan     = "scan"
)

// Event is a raw device or client event. Payload holds the JSON exactly as
// received; the other columns are extracted for querying.
type Event struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	Origin     string    `gorm:"size:16;not null;index" json:"origin"`
	SessionID  string    `gorm:"size:36;index" json:"sessionId,omitempty"`
	UserID     string    `gorm:"size:64;index:idx_user_received" json:"userId,omitempty"`
	BinID      string    `gorm:"size:64" json:"binId,omitempty"`
	DeviceID   string    `gorm:"size:64" json:"deviceId,omitempty"`
	Action     string    `gorm:"size:32" json:"action,omitempty"`
	Label      string    `gorm:"size:64" json:"label,omitempty"`
	Payload    string    `gorm:"type:text" json:"payload"`
	ReceivedAt time.Time `gorm:"index:idx_user_received" json:"receivedAt"`
}
