// Package device resolves which camera/lid controller serves a bin.
package device

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ecotionbuddy/binhub/internal/logging"
	"github.com/ecotionbuddy/binhub/internal/models"
	"gorm.io/gorm"
)

// Registry looks up bin → device mappings from the bins table.
type Registry struct {
	db       *gorm.DB
	fallback string
	log      *slog.Logger
}

// NewRegistry returns a Registry that falls back to defaultDevice when a bin
// has no mapping.
func NewRegistry(db *gorm.DB, defaultDevice string, log *slog.Logger) *Registry {
	return &Registry{
		db:       db,
		fallback: defaultDevice,
		log:      logging.OrDiscard(log).With("component", "device"),
	}
}

// Default returns the fallback device id.
func (r *Registry) Default() string {
	return r.fallback
}

// Lookup returns the device mapped to binID. ok is false when the bin is
// unknown.
func (r *Registry) Lookup(binID string) (deviceID string, ok bool, err error) {
	if binID == "" {
		return "", false, nil
	}
	var bin models.Bin
	if err := r.db.Where("bin_id = ?", binID).First(&bin).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("device: lookup bin %s: %w", binID, err)
	}
	return bin.DeviceID, true, nil
}

// Resolve picks the device for a command: an explicit id wins, then the
// bin's mapping, then the configured default. Lookup failures degrade to the
// default.
func (r *Registry) Resolve(explicit, binID string) string {
	if explicit != "" {
		return explicit
	}
	id, ok, err := r.Lookup(binID)
	if err != nil {
		r.log.Warn("bin lookup failed, using default device", "bin", binID, "error", err)
		return r.fallback
	}
	if ok {
		return id
	}
	return r.fallback
}

// List returns all mapped bins ordered by id.
func (r *Registry) List() ([]models.Bin, error) {
	var bins []models.Bin
	if err := r.db.Order("bin_id").Find(&bins).Error; err != nil {
		return nil, fmt.Errorf("device: list bins: %w", err)
	}
	return bins, nil
}
