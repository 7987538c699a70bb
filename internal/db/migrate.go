package db

import (
	"fmt"
	"sort"

	"github.com/ecotionbuddy/binhub/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every GORM model managed by the hub.
func AllModels() []interface{} {
	return []interface{}{
		&models.Session{},
		&models.Bin{},
		&models.Image{},
		&models.Event{},
		&models.Claim{},
		&models.User{},
		&models.MissionInstance{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedBins upserts Bin rows from the configured bin to device mapping.
func SeedBins(db *gorm.DB, bins map[string]string) error {
	ids := make([]string, 0, len(bins))
	for id := range bins {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		bin := models.Bin{BinID: id, DeviceID: bins[id]}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bin_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"device_id", "updated_at"}),
		}).Create(&bin)
		if result.Error != nil {
			return fmt.Errorf("db: seed bin %q: %w", id, result.Error)
		}
	}
	return nil
}
