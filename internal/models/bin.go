package models

import "time"

// Bin maps a physical waste bin to the device that controls its lid.
// Rows are seeded from configuration and read-only at runtime.
type Bin struct {
	BinID     string    `gorm:"primaryKey;size:64" json:"binId"`
	DeviceID  string    `gorm:"size:64;not null" json:"deviceId"`
	Label     string    `gorm:"size:128" json:"label,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
