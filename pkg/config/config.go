package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cuemby/burrow/pkg/channel"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/sink"
	"github.com/cuemby/burrow/pkg/user"
	"gopkg.in/yaml.v3"
)

// Config is the top-level server configuration
type Config struct {
	HTTPAddr string `yaml:"httpAddr"`
	// GRPCAddr enables the gRPC health endpoint when set.
	GRPCAddr string `yaml:"grpcAddr"`

	Log     LogConfig     `yaml:"log"`
	Channel ChannelConfig `yaml:"channel"`
	Sink    SinkConfig    `yaml:"sink"`
	API     APIConfig     `yaml:"api"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig selects log level and format
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ChannelConfig sizes every channel engine
type ChannelConfig struct {
	QueueSize  int    `yaml:"queueSize"`
	BufferSize int    `yaml:"bufferSize"`
	LagPolicy  string `yaml:"lagPolicy"`
}

// SinkConfig sizes user mailboxes
type SinkConfig struct {
	MailboxSize int `yaml:"mailboxSize"`
	// StopTimeout bounds how long deleting a user waits on a stuck sink.
	StopTimeout time.Duration `yaml:"stopTimeout"`
}

// APIConfig tunes the HTTP API
type APIConfig struct {
	// PublishRate is the sustained publish requests per second allowed per
	// app. Zero disables rate limiting.
	PublishRate  float64 `yaml:"publishRate"`
	PublishBurst int     `yaml:"publishBurst"`

	// DeleteUserOnDisconnect deletes a user when its event stream closes.
	DeleteUserOnDisconnect bool          `yaml:"deleteUserOnDisconnect"`
	HeartbeatInterval      time.Duration `yaml:"heartbeatInterval"`

	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string `yaml:"corsOrigins"`
}

// MetricsConfig controls the stats collector
type MetricsConfig struct {
	CollectInterval time.Duration `yaml:"collectInterval"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr: "127.0.0.1:8080",
		Log: LogConfig{
			Level: string(log.InfoLevel),
		},
		Channel: ChannelConfig{
			QueueSize:  channel.DefaultQueueSize,
			BufferSize: events.DefaultCapacity,
			LagPolicy:  string(events.SkipToOldest),
		},
		Sink: SinkConfig{
			MailboxSize: sink.DefaultMailboxSize,
			StopTimeout: user.DefaultStopTimeout,
		},
		API: APIConfig{
			PublishBurst:           50,
			DeleteUserOnDisconnect: true,
			HeartbeatInterval:      15 * time.Second,
		},
		Metrics: MetricsConfig{
			CollectInterval: manager.DefaultCollectInterval,
		},
	}
}

// Load reads configuration from a YAML file on top of the defaults. If path
// is empty, returns defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML configuration on top of the defaults
func Parse(b []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting
func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("httpAddr is required")
	}
	if c.Channel.QueueSize <= 0 {
		return fmt.Errorf("channel.queueSize must be positive, got %d", c.Channel.QueueSize)
	}
	if c.Channel.BufferSize <= 0 {
		return fmt.Errorf("channel.bufferSize must be positive, got %d", c.Channel.BufferSize)
	}
	if _, err := events.ParseLagPolicy(c.Channel.LagPolicy); err != nil {
		return fmt.Errorf("channel.lagPolicy: %w", err)
	}
	if c.Sink.MailboxSize <= 0 {
		return fmt.Errorf("sink.mailboxSize must be positive, got %d", c.Sink.MailboxSize)
	}
	if c.Sink.StopTimeout <= 0 {
		return fmt.Errorf("sink.stopTimeout must be positive, got %s", c.Sink.StopTimeout)
	}
	if c.API.PublishRate < 0 {
		return fmt.Errorf("api.publishRate must not be negative, got %v", c.API.PublishRate)
	}
	if c.API.PublishRate > 0 && c.API.PublishBurst <= 0 {
		return fmt.Errorf("api.publishBurst must be positive when rate limiting, got %d", c.API.PublishBurst)
	}
	if c.API.HeartbeatInterval <= 0 {
		return fmt.Errorf("api.heartbeatInterval must be positive, got %s", c.API.HeartbeatInterval)
	}
	if c.Metrics.CollectInterval <= 0 {
		return fmt.Errorf("metrics.collectInterval must be positive, got %s", c.Metrics.CollectInterval)
	}
	return nil
}

// ManagerConfig converts the channel and sink sections for manager.NewManager.
// The configuration must have passed Validate.
func (c Config) ManagerConfig() manager.Config {
	policy, _ := events.ParseLagPolicy(c.Channel.LagPolicy)
	return manager.Config{
		Channel: channel.Config{
			QueueSize:  c.Channel.QueueSize,
			BufferSize: c.Channel.BufferSize,
			LagPolicy:  policy,
		},
		MailboxSize: c.Sink.MailboxSize,
		StopTimeout: c.Sink.StopTimeout,
	}
}

// LoggerConfig converts the log section for log.Init
func (c Config) LoggerConfig() log.Config {
	return log.Config{
		Level:      log.ParseLevel(c.Log.Level),
		JSONOutput: c.Log.JSON,
	}
}
