// Package config loads the agent configuration with precedence
// defaults → YAML file → REPLICA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/replica/internal/core/observability/log"
	"github.com/zeusync/replica/internal/core/protocol/websocket"
	"github.com/zeusync/replica/internal/core/reachability"
	"github.com/zeusync/replica/internal/core/replica"
	"github.com/zeusync/replica/internal/core/replica/resolver"
)

const DefaultPath = "config/replica.yaml"

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root configuration. It is read-only after Load returns.
type Config struct {
	Sync      SyncConfig      `yaml:"sync"`
	Transport TransportConfig `yaml:"transport"`
	Network   NetworkConfig   `yaml:"network"`
	Journal   JournalConfig   `yaml:"journal"`
	Log       LogConfig       `yaml:"log"`
}

type SyncConfig struct {
	MaxRetries       int               `yaml:"max_retries"`
	RetryDelay       Duration          `yaml:"retry_delay"`
	ConflictStrategy resolver.Strategy `yaml:"conflict_strategy"`
	SyncOnReconnect  bool              `yaml:"sync_on_reconnect"`
	BatchSize        int               `yaml:"batch_size"`
	AckMode          replica.AckMode   `yaml:"ack_mode"`
}

type TransportConfig struct {
	URL                  string   `yaml:"url"`
	HandshakeTimeout     Duration `yaml:"handshake_timeout"`
	WriteTimeout         Duration `yaml:"write_timeout"`
	ReadTimeout          Duration `yaml:"read_timeout"`
	PingInterval         Duration `yaml:"ping_interval"`
	ReconnectInterval    Duration `yaml:"reconnect_interval"`
	MaxReconnectInterval Duration `yaml:"max_reconnect_interval"`
	MaxReconnectAttempts int      `yaml:"max_reconnect_attempts"`
	MaxMessageSize       int      `yaml:"max_message_size"`
	EnableCompression    bool     `yaml:"enable_compression"`
}

// NetworkConfig configures the reachability monitor. An empty Address checks
// the host of the transport URL.
type NetworkConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Address  string   `yaml:"address"`
	Interval Duration `yaml:"interval"`
	Timeout  Duration `yaml:"timeout"`
}

// JournalConfig configures state persistence. An empty Path disables it.
type JournalConfig struct {
	Path         string   `yaml:"path"`
	SaveInterval Duration `yaml:"save_interval"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns a Config with every default applied.
func Default() *Config {
	syncCfg := replica.DefaultConfig()
	transport := websocket.DefaultConfig()
	network := reachability.DefaultConfig()

	return &Config{
		Sync: SyncConfig{
			MaxRetries:       int(syncCfg.MaxRetries),
			RetryDelay:       Duration(syncCfg.RetryDelay),
			ConflictStrategy: syncCfg.ConflictStrategy,
			SyncOnReconnect:  syncCfg.SyncOnReconnect,
			BatchSize:        syncCfg.BatchSize,
			AckMode:          syncCfg.AckMode,
		},
		Transport: TransportConfig{
			URL:                  transport.URL,
			HandshakeTimeout:     Duration(transport.HandshakeTimeout),
			WriteTimeout:         Duration(transport.WriteTimeout),
			ReadTimeout:          Duration(transport.ReadTimeout),
			PingInterval:         Duration(transport.PingInterval),
			ReconnectInterval:    Duration(transport.ReconnectInterval),
			MaxReconnectInterval: Duration(transport.MaxReconnectInterval),
			MaxReconnectAttempts: transport.MaxReconnectAttempts,
			MaxMessageSize:       transport.MaxMessageSize,
			EnableCompression:    transport.EnableCompression,
		},
		Network: NetworkConfig{
			Enabled:  true,
			Interval: Duration(network.Interval),
			Timeout:  Duration(network.Timeout),
		},
		Journal: JournalConfig{
			Path:         "data/replica.db",
			SaveInterval: Duration(30 * time.Second),
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// Load builds the configuration. An empty path falls back to
// REPLICA_CONFIG_PATH and then DefaultPath. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = getEnv("REPLICA_CONFIG_PATH", DefaultPath)
	}

	cfg := Default()
	if err := loadYAMLFile(cfg, path); err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// applyEnvOverrides applies non-empty REPLICA_* variables. Malformed
// numbers, booleans and durations are ignored; unknown strategy and ack
// mode names are rejected.
func applyEnvOverrides(cfg *Config) error {
	// Sync
	if n, ok := envInt("REPLICA_MAX_RETRIES"); ok {
		cfg.Sync.MaxRetries = n
	}
	if d, ok := envDuration("REPLICA_RETRY_DELAY"); ok {
		cfg.Sync.RetryDelay = d
	}
	if v := os.Getenv("REPLICA_CONFLICT_STRATEGY"); v != "" {
		s, err := resolver.ParseStrategy(v)
		if err != nil {
			return fmt.Errorf("REPLICA_CONFLICT_STRATEGY: %w", err)
		}
		cfg.Sync.ConflictStrategy = s
	}
	if b, ok := envBool("REPLICA_SYNC_ON_RECONNECT"); ok {
		cfg.Sync.SyncOnReconnect = b
	}
	if n, ok := envInt("REPLICA_BATCH_SIZE"); ok {
		cfg.Sync.BatchSize = n
	}
	if v := os.Getenv("REPLICA_ACK_MODE"); v != "" {
		m, err := replica.ParseAckMode(v)
		if err != nil {
			return fmt.Errorf("REPLICA_ACK_MODE: %w", err)
		}
		cfg.Sync.AckMode = m
	}

	// Transport
	if v := os.Getenv("REPLICA_SERVER_URL"); v != "" {
		cfg.Transport.URL = v
	}
	if d, ok := envDuration("REPLICA_RECONNECT_INTERVAL"); ok {
		cfg.Transport.ReconnectInterval = d
	}
	if n, ok := envInt("REPLICA_MAX_RECONNECT_ATTEMPTS"); ok {
		cfg.Transport.MaxReconnectAttempts = n
	}

	// Network
	if b, ok := envBool("REPLICA_NETWORK_ENABLED"); ok {
		cfg.Network.Enabled = b
	}
	if v := os.Getenv("REPLICA_NETWORK_ADDRESS"); v != "" {
		cfg.Network.Address = v
	}
	if d, ok := envDuration("REPLICA_NETWORK_INTERVAL"); ok {
		cfg.Network.Interval = d
	}

	// Journal
	if v := os.Getenv("REPLICA_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
	if d, ok := envDuration("REPLICA_JOURNAL_SAVE_INTERVAL"); ok {
		cfg.Journal.SaveInterval = d
	}

	// Log
	if v := os.Getenv("REPLICA_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("REPLICA_LOG_ENCODING"); v != "" {
		cfg.Log.Encoding = v
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Sync.MaxRetries < 1 {
		return fmt.Errorf("%w: sync.max_retries must be at least 1", ErrInvalidConfig)
	}
	if c.Sync.RetryDelay <= 0 {
		return fmt.Errorf("%w: sync.retry_delay must be positive", ErrInvalidConfig)
	}
	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("%w: sync.batch_size must be at least 1", ErrInvalidConfig)
	}

	u, err := url.Parse(c.Transport.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%w: transport.url %q is not a ws:// or wss:// url", ErrInvalidConfig, c.Transport.URL)
	}
	if c.Transport.MaxReconnectAttempts < 0 {
		return fmt.Errorf("%w: transport.max_reconnect_attempts must not be negative", ErrInvalidConfig)
	}

	if c.Network.Enabled {
		if c.Network.Interval <= 0 {
			return fmt.Errorf("%w: network.interval must be positive", ErrInvalidConfig)
		}
		if c.Network.Address != "" {
			if _, _, err = net.SplitHostPort(c.Network.Address); err != nil {
				return fmt.Errorf("%w: network.address: %v", ErrInvalidConfig, err)
			}
		}
	}

	if c.Journal.Path != "" && c.Journal.SaveInterval < 0 {
		return fmt.Errorf("%w: journal.save_interval must not be negative", ErrInvalidConfig)
	}

	if _, err = log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalidConfig, err)
	}
	if c.Log.Encoding != "json" && c.Log.Encoding != "console" {
		return fmt.Errorf("%w: log.encoding must be json or console", ErrInvalidConfig)
	}
	return nil
}

// ReplicaConfig maps the sync section onto the store configuration.
func (c *Config) ReplicaConfig() replica.Config {
	return replica.Config{
		MaxRetries:       uint32(c.Sync.MaxRetries),
		RetryDelay:       c.Sync.RetryDelay.Std(),
		ConflictStrategy: c.Sync.ConflictStrategy,
		SyncOnReconnect:  c.Sync.SyncOnReconnect,
		BatchSize:        c.Sync.BatchSize,
		AckMode:          c.Sync.AckMode,
	}
}

func (c *Config) TransportConfig() websocket.Config {
	t := c.Transport
	return websocket.Config{
		URL:                  t.URL,
		HandshakeTimeout:     t.HandshakeTimeout.Std(),
		WriteTimeout:         t.WriteTimeout.Std(),
		ReadTimeout:          t.ReadTimeout.Std(),
		PingInterval:         t.PingInterval.Std(),
		ReconnectInterval:    t.ReconnectInterval.Std(),
		MaxReconnectInterval: t.MaxReconnectInterval.Std(),
		MaxReconnectAttempts: t.MaxReconnectAttempts,
		MaxMessageSize:       t.MaxMessageSize,
		EnableCompression:    t.EnableCompression,
	}
}

// NetworkConfig returns the reachability settings. Without an explicit address the
// transport host is dialed, on port 80 or 443 when the url names none.
func (c *Config) NetworkConfig() reachability.Config {
	address := c.Network.Address
	if address == "" {
		if u, err := url.Parse(c.Transport.URL); err == nil {
			port := u.Port()
			if port == "" {
				port = "80"
				if u.Scheme == "wss" {
					port = "443"
				}
			}
			address = net.JoinHostPort(u.Hostname(), port)
		}
	}
	return reachability.Config{
		Address:  address,
		Interval: c.Network.Interval.Std(),
		Timeout:  c.Network.Timeout.Std(),
	}
}

func (c *Config) LogConfig() log.Config {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		level = log.LevelInfo
	}
	return log.Config{
		Level:    level,
		Encoding: c.Log.Encoding,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	return b, err == nil
}

func envDuration(key string) (Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	return Duration(d), err == nil
}
