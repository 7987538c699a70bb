package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ecotionbuddy/binhub/internal/apperr"
	"github.com/ecotionbuddy/binhub/internal/ctrl"
	"github.com/ecotionbuddy/binhub/internal/logging"
	"github.com/ecotionbuddy/binhub/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// End reasons.
const (
	ReasonClientEnd   = "client_end"
	ReasonIdleTimeout = "idle_timeout"
)

// DeviceResolver picks the device that serves a bin.
type DeviceResolver interface {
	Resolve(explicit, binID string) string
}

// Commander sends control commands to devices.
type Commander interface {
	Send(ctx context.Context, deviceID string, cmd ctrl.Command) error
}

// Options configures a Manager.
type Options struct {
	CountdownMs int  // default countdown for Start
	Exclusive   bool // reject a second active session on the same bin
}

// Manager runs the session state machine: none → active → ended.
type Manager struct {
	db      *gorm.DB
	devices DeviceResolver
	cmd     Commander
	opts    Options
	log     *slog.Logger
	now     func() time.Time
}

// NewManager returns a Manager.
func NewManager(db *gorm.DB, devices DeviceResolver, cmd Commander, opts Options, log *slog.Logger) *Manager {
	return &Manager{
		db:      db,
		devices: devices,
		cmd:     cmd,
		opts:    opts,
		log:     logging.OrDiscard(log).With("component", "session"),
		now:     time.Now,
	}
}

// StartRequest holds the inputs of Start. DeviceID and CountdownMs are
// optional.
type StartRequest struct {
	UserID      string
	BinID       string
	DeviceID    string
	CountdownMs int
}

// Start opens a session and asks the device to activate. A failed publish is
// logged; the session stays active.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*models.Session, error) {
	if req.UserID == "" || req.BinID == "" {
		return nil, fmt.Errorf("session: userId and binId are required: %w", apperr.ErrInvalid)
	}
	countdown := req.CountdownMs
	if countdown <= 0 {
		countdown = m.opts.CountdownMs
	}

	now := m.now()
	s := &models.Session{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		BinID:        req.BinID,
		DeviceID:     m.devices.Resolve(req.DeviceID, req.BinID),
		Status:       models.SessionActive,
		CountdownMs:  countdown,
		StartedAt:    now,
		LastActionAt: now,
	}
	if m.opts.Exclusive {
		bin := req.BinID
		s.ActiveBin = &bin
	}
	if err := Create(m.db, s); err != nil {
		return nil, err
	}
	m.log.Info("session started", "session", s.ID, "user", s.UserID, "bin", s.BinID, "device", s.DeviceID)

	if err := m.cmd.Send(ctx, s.DeviceID, ctrl.Activate(s.ID, s.BinID, countdown)); err != nil {
		m.log.Warn("activate publish failed", "session", s.ID, "device", s.DeviceID, "error", err)
	}
	return s, nil
}

// End closes a session. The deactivate command is only sent on the
// active → ended transition, which is reported by ended. An empty reason
// defaults to ReasonClientEnd.
func (m *Manager) End(ctx context.Context, id, reason string) (s *models.Session, ended bool, err error) {
	if reason == "" {
		reason = ReasonClientEnd
	}
	if _, err := Get(m.db, id); err != nil {
		return nil, false, err
	}

	ended, err = MarkEnded(m.db, id, reason, m.now())
	if err != nil {
		return nil, false, err
	}
	s, err = Get(m.db, id)
	if err != nil {
		return nil, false, err
	}
	if !ended {
		return s, false, nil
	}

	m.log.Info("session ended", "session", id, "reason", reason, "disposals", s.DisposalCount)
	if err := m.cmd.Send(ctx, s.DeviceID, ctrl.Deactivate(id)); err != nil {
		m.log.Warn("deactivate publish failed", "session", id, "device", s.DeviceID, "error", err)
	}
	return s, true, nil
}

// Get returns a session by id.
func (m *Manager) Get(id string) (*models.Session, error) {
	return Get(m.db, id)
}

// AttachBin returns the active session for binID and refreshes its
// lastActionAt. It returns "" when the bin has no active session.
func (m *Manager) AttachBin(binID string) (string, error) {
	if binID == "" {
		return "", nil
	}
	s, err := ActiveForBin(m.db, binID)
	if err != nil || s == nil {
		return "", err
	}
	if _, err := Touch(m.db, s.ID, m.now()); err != nil {
		return "", err
	}
	return s.ID, nil
}

// Touch refreshes lastActionAt on an explicitly referenced session.
func (m *Manager) Touch(id string) (bool, error) {
	return Touch(m.db, id, m.now())
}

// EndIdle ends every active session idle for longer than timeout and returns
// how many were ended.
func (m *Manager) EndIdle(ctx context.Context, timeout time.Duration) (int, error) {
	idle, err := IdleSince(m.db, m.now().Add(-timeout))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range idle {
		_, ended, err := m.End(ctx, s.ID, ReasonIdleTimeout)
		if err != nil {
			m.log.Warn("idle end failed", "session", s.ID, "error", err)
			continue
		}
		if ended {
			n++
		}
	}
	return n, nil
}
