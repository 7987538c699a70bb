package models

import "time"

// Image is the record of one uploaded photo. It is written once, after the
// file is stored and classified, and never updated.
type Image struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	DeviceID    string    `gorm:"size:64;index" json:"deviceId,omitempty"`
	BinID       string    `gorm:"size:64;index" json:"binId,omitempty"`
	SessionID   *string   `gorm:"size:36;index" json:"sessionId,omitempty"`
	StorageRef  string    `gorm:"size:255;not null" json:"storageRef"`
	URL         string    `gorm:"size:512" json:"url"`
	Size        int64     `json:"size"`
	ContentType string    `gorm:"size:64" json:"contentType"`
	Label       string    `gorm:"size:64" json:"label"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `gorm:"index" json:"createdAt"`
}
