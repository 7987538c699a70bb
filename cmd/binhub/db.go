package main

import (
	"fmt"

	"github.com/ecotionbuddy/binhub/internal/db"
	"github.com/ecotionbuddy/binhub/internal/device"
	"github.com/spf13/cobra"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	cmd.AddCommand(newDBBinsCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the hub tables",
		Long:  "Migrates all tables and seeds the bin to device mapping from the devices section of the config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(cmd, configPath)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)
	fmt.Fprintf(out, "Connected to %s database\n", cfg.Database.Driver)

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	if err := db.SeedBins(gormDB, cfg.Devices.Bins); err != nil {
		return err
	}
	fmt.Fprintf(out, "Seeded %d bins\n", len(cfg.Devices.Bins))
	return nil
}

func newDBBinsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "bins",
		Short: "List the bin to device mapping",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBBins(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runDBBins(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(cmd, configPath)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)

	reg := device.NewRegistry(gormDB, cfg.Devices.DefaultDevice, nil)
	bins, err := reg.List()
	if err != nil {
		return err
	}
	if len(bins) == 0 {
		fmt.Fprintf(out, "No bins mapped; every bin uses %s\n", reg.Default())
		return nil
	}
	fmt.Fprintf(out, "%-16s %-20s %s\n", "BIN", "DEVICE", "LABEL")
	for _, b := range bins {
		fmt.Fprintf(out, "%-16s %-20s %s\n", b.BinID, b.DeviceID, b.Label)
	}
	fmt.Fprintf(out, "\nDefault device: %s\n", reg.Default())
	return nil
}
