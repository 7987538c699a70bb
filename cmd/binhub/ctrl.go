package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ecotionbuddy/binhub/internal/broker"
	"github.com/ecotionbuddy/binhub/internal/config"
	"github.com/ecotionbuddy/binhub/internal/ctrl"
	"github.com/ecotionbuddy/binhub/internal/db"
	"github.com/ecotionbuddy/binhub/internal/device"
	"github.com/spf13/cobra"
)

func newCtrlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ctrl",
		Short: "Send lid control commands to bin devices",
		Long:  "Publishes activate, open and deactivate commands on the device control topics, for commissioning and debugging bins.",
	}

	cmd.AddCommand(newCtrlOpenCmd())
	cmd.AddCommand(newCtrlActivateCmd())
	cmd.AddCommand(newCtrlDeactivateCmd())
	return cmd
}

type ctrlFlags struct {
	configPath string
	deviceID   string
	binID      string
	sessionID  string
	countdown  int
}

func (f *ctrlFlags) register(cmd *cobra.Command) {
	addConfigFlag(cmd, &f.configPath)
	cmd.Flags().StringVar(&f.deviceID, "device", "", "device id (default: resolved from --bin)")
	cmd.Flags().StringVar(&f.binID, "bin", "", "bin id")
	cmd.Flags().StringVar(&f.sessionID, "session", "", "session id")
}

func newCtrlOpenCmd() *cobra.Command {
	f := &ctrlFlags{}
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open a bin lid",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCtrl(cmd, f, ctrl.Open(f.binID, f.sessionID))
		},
	}
	f.register(cmd)
	return cmd
}

func newCtrlActivateCmd() *cobra.Command {
	f := &ctrlFlags{}
	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Start the activation countdown on a bin",
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.sessionID == "" {
				return fmt.Errorf("--session is required")
			}
			return runCtrl(cmd, f, ctrl.Activate(f.sessionID, f.binID, f.countdown))
		},
	}
	f.register(cmd)
	cmd.Flags().IntVar(&f.countdown, "countdown", 3000, "countdown in milliseconds")
	return cmd
}

func newCtrlDeactivateCmd() *cobra.Command {
	f := &ctrlFlags{}
	cmd := &cobra.Command{
		Use:   "deactivate",
		Short: "Deactivate a bin",
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.sessionID == "" {
				return fmt.Errorf("--session is required")
			}
			return runCtrl(cmd, f, ctrl.Deactivate(f.sessionID))
		},
	}
	f.register(cmd)
	return cmd
}

func runCtrl(cmd *cobra.Command, f *ctrlFlags, c ctrl.Command) error {
	if f.deviceID == "" && f.binID == "" {
		return fmt.Errorf("--device or --bin is required")
	}
	cfg, err := loadConfig(cmd, f.configPath)
	if err != nil {
		return err
	}
	deviceID, err := resolveDevice(cfg, f.deviceID, f.binID)
	if err != nil {
		return err
	}

	pub := broker.NewPublisher(mqttOptions(cfg, nil))
	defer pub.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.PublishTimeout()+5*time.Second)
	defer cancel()
	return sendCommand(ctx, cmd.OutOrStdout(), pub, cfg.MQTT.CtrlTopicPrefix, deviceID, c)
}

// resolveDevice returns explicit if set, otherwise the device mapped to
// binID in the database, falling back to the configured default.
func resolveDevice(cfg *config.Config, explicit, binID string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return "", fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}
	defer db.Close(gormDB)
	return device.NewRegistry(gormDB, cfg.Devices.DefaultDevice, nil).Resolve("", binID), nil
}

func sendCommand(ctx context.Context, out io.Writer, pub broker.Publisher, prefix, deviceID string, c ctrl.Command) error {
	if err := ctrl.NewPublisher(pub, prefix).Send(ctx, deviceID, c); err != nil {
		return err
	}
	fmt.Fprintf(out, "Sent %s to %s\n", c.Action, ctrl.Topic(prefix, deviceID))
	return nil
}
