package models

import "time"

// Claim status values.
const (
	ClaimAwarded = "awarded"
	ClaimSkipped = "skipped"
)

// Claim sources.
const (
	SourceDisposal = "disposal"
	SourceManual   = "manual"
	SourceMission  = "mission"
)

// Claim is an append-only ledger entry recording points awarded (or
// explicitly skipped) for one outcome.
type Claim struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	UserID         string    `gorm:"size:64;index:idx_user_ts" json:"userId"`
	BinID          string    `gorm:"size:64" json:"binId,omitempty"`
	SessionID      *string   `gorm:"size:36;index" json:"sessionId,omitempty"`
	EventID        *string   `gorm:"size:36" json:"eventId,omitempty"`
	Points         int       `json:"points"`
	Label          string    `gorm:"size:64" json:"label,omitempty"`
	Status         string    `gorm:"size:16;not null" json:"status"`
	Source         string    `gorm:"size:16;not null" json:"source"`
	IdempotencyKey *string   `gorm:"size:128;uniqueIndex" json:"-"`
	TS             time.Time `gorm:"column:ts;index:idx_user_ts" json:"ts"`
}
