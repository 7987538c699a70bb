// Package eventlog stores raw device and client events verbatim and answers
// the counting queries missions are evaluated from.
package eventlog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ecotionbuddy/binhub/internal/apperr"
	"github.com/ecotionbuddy/binhub/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// DefaultLimit is used by Latest when limit is not positive.
	DefaultLimit = 20
	// MaxLimit caps Latest.
	MaxLimit = 200
)

// Fields are the well-known keys pulled out of an event payload.
type Fields struct {
	SessionID string
	UserID    string
	BinID     string
	DeviceID  string
	Action    string
	Label     string
	EventID   string // idempotency key, from eventId or messageId
}

// Decode parses raw as a JSON object. Anything else is apperr.ErrInvalid.
func Decode(raw []byte) (map[string]interface{}, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("eventlog: payload is not a JSON object: %v: %w", err, apperr.ErrInvalid)
	}
	if obj == nil {
		return nil, fmt.Errorf("eventlog: payload is null: %w", apperr.ErrInvalid)
	}
	return obj, nil
}

// Extract reads the well-known fields. The session reference may be sent as
// sessionId or sid.
func Extract(obj map[string]interface{}) Fields {
	return Fields{
		SessionID: first(obj, "sessionId", "sid"),
		UserID:    first(obj, "userId"),
		BinID:     first(obj, "binId"),
		DeviceID:  first(obj, "deviceId"),
		Action:    first(obj, "action"),
		Label:     first(obj, "label"),
		EventID:   first(obj, "eventId", "messageId"),
	}
}

func first(obj map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s := scalar(obj[k]); s != "" {
			return s
		}
	}
	return ""
}

// scalar renders a JSON scalar as text: true → "true", 1 → "1".
func scalar(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// New builds an Event for origin from a raw payload and its fields.
func New(origin string, raw []byte, f Fields, at time.Time) *models.Event {
	return &models.Event{
		ID:         uuid.NewString(),
		Origin:     origin,
		SessionID:  f.SessionID,
		UserID:     f.UserID,
		BinID:      f.BinID,
		DeviceID:   f.DeviceID,
		Action:     f.Action,
		Label:      f.Label,
		Payload:    string(raw),
		ReceivedAt: at,
	}
}

// Append stores an event.
func Append(db *gorm.DB, e *models.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now()
	}
	if err := db.Create(e).Error; err != nil {
		return fmt.Errorf("eventlog: append: %w", err)
	}
	return nil
}

// SetUser fills in the user an event was attributed to.
func SetUser(db *gorm.DB, id, userID string) error {
	if err := db.Model(&models.Event{}).Where("id = ?", id).Update("user_id", userID).Error; err != nil {
		return fmt.Errorf("eventlog: set user on %s: %w", id, err)
	}
	return nil
}

// Latest returns the newest events first.
func Latest(db *gorm.DB, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	var out []models.Event
	if err := db.Order("received_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("eventlog: latest: %w", err)
	}
	return out, nil
}

// Count counts a user's events received at or after since. Empty actions or
// label mean no filter on that column.
func Count(db *gorm.DB, userID string, since time.Time, actions []string, label string) (int, error) {
	q := db.Model(&models.Event{}).Where("user_id = ? AND received_at >= ?", userID, since)
	if len(actions) > 0 {
		q = q.Where("action IN ?", actions)
	}
	if label != "" {
		q = q.Where("label = ?", label)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("eventlog: count for %s: %w", userID, err)
	}
	return int(n), nil
}

// DistinctLabels counts the distinct non-empty labels in a user's events
// since the given time.
func DistinctLabels(db *gorm.DB, userID string, since time.Time) (int, error) {
	var labels []string
	err := db.Model(&models.Event{}).
		Where("user_id = ? AND received_at >= ? AND label <> ''", userID, since).
		Group("label").
		Pluck("label", &labels).Error
	if err != nil {
		return 0, fmt.Errorf("eventlog: distinct labels for %s: %w", userID, err)
	}
	return len(labels), nil
}
