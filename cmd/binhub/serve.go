package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ecotionbuddy/binhub/internal/api"
	"github.com/ecotionbuddy/binhub/internal/broker"
	"github.com/ecotionbuddy/binhub/internal/claimstream"
	"github.com/ecotionbuddy/binhub/internal/classify"
	"github.com/ecotionbuddy/binhub/internal/config"
	"github.com/ecotionbuddy/binhub/internal/consumer"
	"github.com/ecotionbuddy/binhub/internal/ctrl"
	"github.com/ecotionbuddy/binhub/internal/db"
	"github.com/ecotionbuddy/binhub/internal/device"
	"github.com/ecotionbuddy/binhub/internal/imagestore"
	"github.com/ecotionbuddy/binhub/internal/ledger"
	"github.com/ecotionbuddy/binhub/internal/logging"
	"github.com/ecotionbuddy/binhub/internal/mirror"
	"github.com/ecotionbuddy/binhub/internal/mission"
	"github.com/ecotionbuddy/binhub/internal/models"
	"github.com/ecotionbuddy/binhub/internal/notify"
	"github.com/ecotionbuddy/binhub/internal/notify/discord"
	"github.com/ecotionbuddy/binhub/internal/notify/slack"
	"github.com/ecotionbuddy/binhub/internal/session"
	"github.com/ecotionbuddy/binhub/internal/tasks"
	"github.com/ecotionbuddy/binhub/internal/upload"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		noBroker   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hub: HTTP API, event consumer and session reaper",
		Long: `Runs the HTTP API, the disposal event consumer and the idle session reaper
until interrupted.

With --no-broker the hub uses an in-process broker instead of MQTT, which is
enough to exercise the API locally without bin hardware.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, addr, noBroker)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&noBroker, "no-broker", false, "use an in-process broker instead of MQTT")
	return cmd
}

func runServe(cmd *cobra.Command, configPath, addr string, noBroker bool) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	log := logging.New(cfg.Log, cmd.ErrOrStderr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	a, err := newApp(ctx, cfg, log, noBroker)
	if err != nil {
		return err
	}
	defer a.close()

	gin.SetMode(gin.ReleaseMode)
	return a.run(ctx)
}

// app is the wired hub.
type app struct {
	cfg *config.Config
	log *slog.Logger
	db  *gorm.DB

	publisher broker.Publisher
	source    broker.Source
	closePub  func()

	sessions *session.Manager
	reaper   *session.Reaper
	tasks    *tasks.Group
	ledger   *ledger.Ledger
	missions *mission.Tracker
	stream   *claimstream.Stream
	consumer *consumer.Consumer
	handler  *gin.Engine
}

func mqttOptions(cfg *config.Config, log *slog.Logger) broker.Options {
	return broker.Options{
		Host:     cfg.MQTT.Host,
		Port:     cfg.MQTT.Port,
		ClientID: cfg.MQTT.ClientID,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		QoS:      byte(cfg.MQTT.QoS),
		Timeout:  cfg.PublishTimeout(),
		Logger:   log,
	}
}

// newApp connects the database and constructs every component.
func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger, noBroker bool) (*app, error) {
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}
	a := &app{cfg: cfg, log: log, db: gormDB, closePub: func() {}}
	if err := a.build(ctx, noBroker); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context, noBroker bool) error {
	cfg, log := a.cfg, a.log

	if err := db.AutoMigrate(a.db); err != nil {
		return err
	}
	if err := db.SeedBins(a.db, cfg.Devices.Bins); err != nil {
		return err
	}

	if noBroker {
		mem := broker.NewMemory()
		a.publisher, a.source = mem, mem
		log.Warn("using in-process broker; devices will not receive commands")
	} else {
		opts := mqttOptions(cfg, log)
		pub := broker.NewPublisher(opts)
		a.publisher, a.source, a.closePub = pub, broker.NewSource(opts), pub.Close
	}

	commands := ctrl.NewPublisher(a.publisher, cfg.MQTT.CtrlTopicPrefix)
	devices := device.NewRegistry(a.db, cfg.Devices.DefaultDevice, log)
	a.sessions = session.NewManager(a.db, devices, commands, session.Options{
		CountdownMs: cfg.Session.CountdownMs,
		Exclusive:   cfg.Session.Exclusive(),
	}, log)

	reaper, err := session.NewReaper(a.sessions, cfg.Session.ReapSchedule, cfg.IdleTimeout(), log)
	if err != nil {
		return err
	}
	a.reaper = reaper

	var classifier classify.Classifier
	if cfg.Classifier.Enabled {
		classifier = classify.NewHTTPClassifier(cfg.Classifier.URL, cfg.Classifier.InputSize,
			cfg.Classifier.ClassNames, time.Duration(cfg.Classifier.TimeoutSec)*time.Second)
	}

	sink, err := notifySink(cfg.Notify)
	if err != nil {
		return err
	}
	target, err := mirrorTarget(ctx, cfg.Mirror)
	if err != nil {
		return err
	}

	images := imagestore.New(a.db, cfg.Server.UploadDir, cfg.Server.PublicBaseURL)
	a.tasks = tasks.New(cfg.Tasks.MaxInFlight, cfg.TaskTimeout(), log)
	uploads := upload.New(upload.Deps{
		Store:      images,
		Sessions:   a.sessions,
		Classifier: classify.NewGateway(classifier, log),
		Devices:    devices,
		Commander:  commands,
		Tasks:      a.tasks,
		Notify:     sink,
		Mirror:     target,
	}, log)

	a.ledger = ledger.New(a.db, cfg.Rewards.AcceptedLabels, log)
	a.missions = mission.NewTracker(a.db, log)
	if len(cfg.Stream.Brokers) > 0 {
		a.stream = claimstream.New(cfg.Stream.Brokers, cfg.Stream.Topic, log)
		offer := func(c models.Claim) { a.stream.Offer(c) }
		a.ledger.OnClaim(offer)
		a.missions.OnClaim(offer)
	}

	a.consumer = consumer.New(a.source, a.db, a.ledger, consumer.Config{
		Topic:          cfg.MQTT.EventsTopic,
		ReconnectDelay: cfg.ReconnectDelay(),
		DisposalPoints: cfg.Rewards.DisposalPoints,
	}, log)

	a.handler = api.NewRouter(api.Deps{
		DB:                a.db,
		Sessions:          a.sessions,
		Uploads:           uploads,
		Images:            images,
		Ledger:            a.ledger,
		Missions:          a.missions,
		ManualClaimPoints: cfg.Rewards.ManualClaimPoints,
		MaxUploadBytes:    cfg.Server.MaxUploadBytes,
		Log:               log,
	})
	return nil
}

// notifySink returns the configured chat sinks, or nil when none are set.
func notifySink(cfg config.NotifyConfig) (notify.Sink, error) {
	var sinks notify.Multi
	if cfg.Slack.BotToken != "" {
		s, err := slack.New(slack.Opts{BotToken: cfg.Slack.BotToken, Channel: cfg.Slack.Channel})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Discord.BotToken != "" {
		s, err := discord.New(discord.Opts{BotToken: cfg.Discord.BotToken, ChannelID: cfg.Discord.Channel})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return sinks, nil
}

// mirrorTarget returns the configured mirrors, or nil when none are set.
func mirrorTarget(ctx context.Context, cfg config.MirrorConfig) (mirror.Target, error) {
	var targets mirror.Multi
	if cfg.Dir != "" {
		targets = append(targets, mirror.Dir{Path: cfg.Dir})
	}
	if cfg.S3.Bucket != "" {
		s3, err := mirror.NewS3(ctx, mirror.S3Opts{
			Bucket:   cfg.S3.Bucket,
			Prefix:   cfg.S3.Prefix,
			Region:   cfg.S3.Region,
			Endpoint: cfg.S3.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		targets = append(targets, s3)
	}
	if len(targets) == 0 {
		return nil, nil
	}
	return targets, nil
}

// run serves until ctx is cancelled, then stops the consumer, the reaper,
// the task group and the claim stream in that order.
func (a *app) run(ctx context.Context) error {
	streamCtx, stopStream := context.WithCancel(context.Background())
	defer stopStream()
	if a.stream != nil {
		go func() {
			if err := a.stream.Run(streamCtx); err != nil {
				a.log.Warn("claim stream stopped", "error", err)
			}
		}()
	}

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		a.consumer.Run(consumerCtx)
	}()

	a.reaper.Start()

	err := api.Start(ctx, api.StartOpts{
		Addr:            a.cfg.Server.Addr,
		Handler:         a.handler,
		ShutdownTimeout: shutdownTimeout,
		Log:             a.log,
	})

	a.consumer.Stop()
	stopConsumer()
	<-consumerDone
	a.reaper.Stop()

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.tasks.Shutdown(sctx); err != nil {
		a.log.Warn("background tasks cancelled", "error", err)
	}
	if a.stream != nil {
		stopStream()
		a.stream.Wait()
	}
	a.log.Info("hub stopped")
	return err
}

func (a *app) close() {
	a.closePub()
	if err := db.Close(a.db); err != nil {
		a.log.Warn("close database", "error", err)
	}
}
