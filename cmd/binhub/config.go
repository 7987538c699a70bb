package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/ecotionbuddy/binhub/internal/config"
	"github.com/ecotionbuddy/binhub/internal/db"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

const defaultConfigPath = "binhub.yaml"

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", defaultConfigPath, "path to binhub config file")
}

// loadConfig reads the config file. A missing default file falls back to
// built-in defaults plus environment overrides; an explicit --config must
// exist.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		return config.FromEnv()
	}
	return nil, fmt.Errorf("load config: %w", err)
}

func connectFromConfig(cmd *cobra.Command, configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return nil, nil, err
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}
	return cfg, gormDB, nil
}
