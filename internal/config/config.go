// Package config provides YAML-based configuration loading for the bin hub.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level hub configuration, loaded from binhub.yaml.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Devices    DevicesConfig    `yaml:"devices"`
	Session    SessionConfig    `yaml:"session"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Rewards    RewardsConfig    `yaml:"rewards"`
	Notify     NotifyConfig     `yaml:"notify"`
	Mirror     MirrorConfig     `yaml:"mirror"`
	Stream     StreamConfig     `yaml:"stream"`
	Tasks      TasksConfig      `yaml:"tasks"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds HTTP listener and upload storage settings.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	PublicBaseURL  string `yaml:"public_base_url"`
	UploadDir      string `yaml:"upload_dir"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// DatabaseConfig selects the gorm dialect and its connection settings.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "mysql" or "sqlite"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Path     string `yaml:"path"` // sqlite file path
}

// MQTTConfig holds broker connection and topic settings.
type MQTTConfig struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	ClientID          string `yaml:"client_id"`
	Username          string `yaml:"username"`
	Password          string `yaml:"password"`
	EventsTopic       string `yaml:"events_topic"`
	CtrlTopicPrefix   string `yaml:"ctrl_topic_prefix"`
	QoS               int    `yaml:"qos"`
	ReconnectDelaySec int    `yaml:"reconnect_delay_sec"`
	PublishTimeoutSec int    `yaml:"publish_timeout_sec"`
}

// DevicesConfig is the static bin → device mapping.
type DevicesConfig struct {
	DefaultDevice string            `yaml:"default_device"`
	Bins          map[string]string `yaml:"bins"`
}

// SessionConfig tunes the session lifecycle.
type SessionConfig struct {
	CountdownMs    int    `yaml:"countdown_ms"`
	ExclusiveBin   bool   `yaml:"exclusive_bin"`
	IdleTimeoutMin int    `yaml:"idle_timeout_min"`
	ReapSchedule   string `yaml:"reap_schedule"`
}

// ClassifierConfig points at the external classification service.
type ClassifierConfig struct {
	Enabled    bool     `yaml:"enabled"`
	URL        string   `yaml:"url"`
	TimeoutSec int      `yaml:"timeout_sec"`
	InputSize  int      `yaml:"input_size"`
	ClassNames []string `yaml:"class_names"`
}

// RewardsConfig holds point amounts and the accepted label set.
type RewardsConfig struct {
	DisposalPoints    int      `yaml:"disposal_points"`
	ManualClaimPoints int      `yaml:"manual_claim_points"`
	AcceptedLabels    []string `yaml:"accepted_labels"`
}

// NotifyConfig enables chat photo push sinks. Empty tokens disable a sink.
type NotifyConfig struct {
	Slack   ChatSinkConfig `yaml:"slack"`
	Discord ChatSinkConfig `yaml:"discord"`
}

// ChatSinkConfig is a bot token plus the channel photos are posted to.
type ChatSinkConfig struct {
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel"`
}

// MirrorConfig enables copies of uploaded images. Empty values disable a sink.
type MirrorConfig struct {
	Dir string   `yaml:"dir"`
	S3  S3Config `yaml:"s3"`
}

// S3Config names the bucket used by the S3 mirror.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// StreamConfig enables publishing claims to Kafka.
type StreamConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// TasksConfig bounds the background side-effect task group.
type TasksConfig struct {
	MaxInFlight int `yaml:"max_in_flight"`
	TimeoutSec  int `yaml:"timeout_sec"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Load reads a YAML config file from path and returns a validated Config.
// Environment overrides are applied after parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return parse(data, os.Getenv)
}

// FromEnv returns the default configuration with environment overrides
// applied, for running without a config file.
func FromEnv() (*Config, error) {
	return parse(nil, os.Getenv)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	return parse(data, func(string) string { return "" })
}

func parse(data []byte, getenv func(string) string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets deployments override the broker and database location
// without editing the file.
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("MQTT_HOST"); v != "" {
		c.MQTT.Host = v
	}
	if v := getenv("MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: MQTT_PORT %q is not a number", v)
		}
		c.MQTT.Port = port
	}
	if v := getenv("DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := getenv("DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := getenv("DB_HOST"); v != "" {
		c.Database.Host = v
	}
	return nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
	if c.Server.UploadDir == "" {
		c.Server.UploadDir = "uploads"
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 10 << 20
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "binhub.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "ecotionbuddy"
		}
	}
	if c.MQTT.Host == "" {
		c.MQTT.Host = "localhost"
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "binhub"
	}
	if c.MQTT.EventsTopic == "" {
		c.MQTT.EventsTopic = "ecotionbuddy/events/disposal_complete"
	}
	if c.MQTT.CtrlTopicPrefix == "" {
		c.MQTT.CtrlTopicPrefix = "ecotionbuddy/ctrl"
	}
	if c.MQTT.QoS == 0 {
		c.MQTT.QoS = 1
	}
	if c.MQTT.ReconnectDelaySec == 0 {
		c.MQTT.ReconnectDelaySec = 5
	}
	if c.MQTT.PublishTimeoutSec == 0 {
		c.MQTT.PublishTimeoutSec = 5
	}
	if c.Devices.DefaultDevice == "" {
		c.Devices.DefaultDevice = "esp32cam-01"
	}
	if c.Session.CountdownMs == 0 {
		c.Session.CountdownMs = 3000
	}
	if c.Session.IdleTimeoutMin == 0 {
		c.Session.IdleTimeoutMin = 15
	}
	if c.Session.ReapSchedule == "" {
		c.Session.ReapSchedule = "*/5 * * * *"
	}
	if c.Classifier.TimeoutSec == 0 {
		c.Classifier.TimeoutSec = 10
	}
	if c.Classifier.InputSize == 0 {
		c.Classifier.InputSize = 224
	}
	if len(c.Classifier.ClassNames) == 0 {
		c.Classifier.ClassNames = []string{"cardboard", "glass", "metal", "paper", "plastic", "trash"}
	}
	if c.Rewards.DisposalPoints == 0 {
		c.Rewards.DisposalPoints = 50
	}
	if c.Rewards.ManualClaimPoints == 0 {
		c.Rewards.ManualClaimPoints = 10
	}
	if len(c.Rewards.AcceptedLabels) == 0 {
		c.Rewards.AcceptedLabels = []string{"compatible", "accepted", "true", "1", "yes"}
	}
	if c.Stream.Topic == "" {
		c.Stream.Topic = "ecotionbuddy.claims"
	}
	if c.Tasks.MaxInFlight == 0 {
		c.Tasks.MaxInFlight = 16
	}
	if c.Tasks.TimeoutSec == 0 {
		c.Tasks.TimeoutSec = 30
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be mysql or sqlite", c.Database.Driver))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1 or 2")
	}
	if c.Classifier.Enabled && c.Classifier.URL == "" {
		errs = append(errs, "classifier.url is required when classifier.enabled is true")
	}
	if c.Rewards.DisposalPoints < 0 {
		errs = append(errs, "rewards.disposal_points must not be negative")
	}
	if c.Mirror.S3.Bucket != "" && c.Mirror.S3.Region == "" {
		errs = append(errs, "mirror.s3.region is required when mirror.s3.bucket is set")
	}
	for bin, dev := range c.Devices.Bins {
		if strings.TrimSpace(dev) == "" {
			errs = append(errs, fmt.Sprintf("devices.bins[%s] has no device id", bin))
		}
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ReconnectDelay is the fixed backoff between broker reconnect attempts.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.MQTT.ReconnectDelaySec) * time.Second
}

// PublishTimeout bounds a single command publish.
func (c *Config) PublishTimeout() time.Duration {
	return time.Duration(c.MQTT.PublishTimeoutSec) * time.Second
}

// IdleTimeout is how long an active session may go without activity before
// the reaper ends it.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Session.IdleTimeoutMin) * time.Minute
}

// TaskTimeout bounds each background side-effect task.
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.Tasks.TimeoutSec) * time.Second
}

// Exclusive reports whether at most one active session per bin is enforced.
// Concurrent sessions on a bin are allowed unless exclusive_bin is set.
func (s SessionConfig) Exclusive() bool {
	return s.ExclusiveBin
}
