package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the system-wide settings coordinator for both the client
// core and the reference relay.
type Config struct {
	Transport *TransportConfig `json:"transport"`
	Typing    *TypingConfig    `json:"typing"`
	Stream    *StreamConfig    `json:"stream"`
	Relay     *RelayConfig     `json:"relay"`
}

// TransportConfig tunes the client's websocket channel.
type TransportConfig struct {
	DialTimeout  time.Duration `json:"dial_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// TypingConfig tunes the typing coordinator. IdleTimeout is the local
// debounce window; RemoteTTL is how long a remote pulse stays alive
// without renewal; SweepInterval is the janitor tick.
type TypingConfig struct {
	IdleTimeout   time.Duration `json:"idle_timeout"`
	RemoteTTL     time.Duration `json:"remote_ttl"`
	SweepInterval time.Duration `json:"sweep_interval"`
}

// StreamConfig tunes the message stream. AckTimeout bounds how long an
// optimistic send may stay pending before it is surfaced as failed.
type StreamConfig struct {
	AckTimeout time.Duration `json:"ack_timeout"`
}

// RelayConfig configures the reference relay backend.
type RelayConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	AuthToken    string        `json:"auth_token"` // empty disables token checks
	DatabasePath string        `json:"database_path"`
	DBTimeout    time.Duration `json:"db_timeout"`
}

// DefaultConfig returns production-ready defaults. The 2-second typing
// idle window and 6-second remote TTL keep a lost stop-pulse from
// sticking an indicator for more than a few seconds.
func DefaultConfig() *Config {
	return &Config{
		Transport: &TransportConfig{
			DialTimeout:  10 * time.Second,
			WriteTimeout: 5 * time.Second,
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			BufferSize:   100,
		},
		Typing: &TypingConfig{
			IdleTimeout:   2 * time.Second,
			RemoteTTL:     6 * time.Second,
			SweepInterval: time.Second,
		},
		Stream: &StreamConfig{
			AckTimeout: 10 * time.Second,
		},
		Relay: &RelayConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			AuthToken:    "",
			DatabasePath: "./chatsync.db",
			DBTimeout:    30 * time.Second,
		},
	}
}

// Validate ensures the configuration cannot produce a broken runtime.
func (c *Config) Validate() error {
	if c.Transport == nil {
		return fmt.Errorf("transport configuration is required")
	}
	if c.Transport.DialTimeout <= 0 {
		return fmt.Errorf("transport dial timeout must be positive")
	}
	if c.Transport.WriteTimeout <= 0 {
		return fmt.Errorf("transport write timeout must be positive")
	}
	if c.Transport.PingInterval <= 0 {
		return fmt.Errorf("transport ping interval must be positive")
	}
	if c.Transport.ReadTimeout <= 0 {
		return fmt.Errorf("transport read timeout must be positive")
	}
	if c.Transport.BufferSize <= 0 {
		return fmt.Errorf("transport buffer size must be positive")
	}

	if c.Typing == nil {
		return fmt.Errorf("typing configuration is required")
	}
	if c.Typing.IdleTimeout <= 0 {
		return fmt.Errorf("typing idle timeout must be positive")
	}
	if c.Typing.RemoteTTL <= 0 {
		return fmt.Errorf("typing remote TTL must be positive")
	}
	if c.Typing.SweepInterval <= 0 {
		return fmt.Errorf("typing sweep interval must be positive")
	}

	if c.Stream == nil {
		return fmt.Errorf("stream configuration is required")
	}
	if c.Stream.AckTimeout <= 0 {
		return fmt.Errorf("stream ack timeout must be positive")
	}

	if c.Relay == nil {
		return fmt.Errorf("relay configuration is required")
	}
	if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
		return fmt.Errorf("relay port must be between 1 and 65535")
	}
	if c.Relay.Host == "" {
		return fmt.Errorf("relay host cannot be empty")
	}
	if c.Relay.ReadTimeout <= 0 {
		return fmt.Errorf("relay read timeout must be positive")
	}
	if c.Relay.WriteTimeout <= 0 {
		return fmt.Errorf("relay write timeout must be positive")
	}
	if c.Relay.DatabasePath == "" {
		return fmt.Errorf("relay database path cannot be empty")
	}
	if c.Relay.DBTimeout <= 0 {
		return fmt.Errorf("relay database timeout must be positive")
	}

	return nil
}

// LoadFromEnv overlays environment variables on the defaults.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if v := os.Getenv("CHATSYNC_RELAY_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			config.Relay.Port = p
		}
	}
	if v := os.Getenv("CHATSYNC_RELAY_HOST"); v != "" {
		config.Relay.Host = v
	}
	if v := os.Getenv("CHATSYNC_RELAY_AUTH_TOKEN"); v != "" {
		config.Relay.AuthToken = v
	}
	if v := os.Getenv("CHATSYNC_DATABASE_PATH"); v != "" {
		config.Relay.DatabasePath = v
	}
	if v := os.Getenv("CHATSYNC_DATABASE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Relay.DBTimeout = d
		}
	}
	if v := os.Getenv("CHATSYNC_DIAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Transport.DialTimeout = d
		}
	}
	if v := os.Getenv("CHATSYNC_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Transport.WriteTimeout = d
		}
	}
	if v := os.Getenv("CHATSYNC_PING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Transport.PingInterval = d
		}
	}
	if v := os.Getenv("CHATSYNC_TYPING_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Typing.IdleTimeout = d
		}
	}
	if v := os.Getenv("CHATSYNC_TYPING_REMOTE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Typing.RemoteTTL = d
		}
	}
	if v := os.Getenv("CHATSYNC_ACK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Stream.AckTimeout = d
		}
	}

	return config
}

// ConfigFile mirrors Config for JSON parsing, with durations as strings.
type ConfigFile struct {
	Transport *TransportConfigFile `json:"transport"`
	Typing    *TypingConfigFile    `json:"typing"`
	Stream    *StreamConfigFile    `json:"stream"`
	Relay     *RelayConfigFile     `json:"relay"`
}

type TransportConfigFile struct {
	DialTimeout  string `json:"dial_timeout"`
	WriteTimeout string `json:"write_timeout"`
	PingInterval string `json:"ping_interval"`
	ReadTimeout  string `json:"read_timeout"`
	BufferSize   int    `json:"buffer_size"`
}

type TypingConfigFile struct {
	IdleTimeout   string `json:"idle_timeout"`
	RemoteTTL     string `json:"remote_ttl"`
	SweepInterval string `json:"sweep_interval"`
}

type StreamConfigFile struct {
	AckTimeout string `json:"ack_timeout"`
}

type RelayConfigFile struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	AuthToken    string `json:"auth_token"`
	DatabasePath string `json:"database_path"`
	DBTimeout    string `json:"db_timeout"`
}

// LoadFromFile reads a JSON config and overlays it on the defaults.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	if file.Transport != nil {
		setDuration(&config.Transport.DialTimeout, file.Transport.DialTimeout)
		setDuration(&config.Transport.WriteTimeout, file.Transport.WriteTimeout)
		setDuration(&config.Transport.PingInterval, file.Transport.PingInterval)
		setDuration(&config.Transport.ReadTimeout, file.Transport.ReadTimeout)
		if file.Transport.BufferSize > 0 {
			config.Transport.BufferSize = file.Transport.BufferSize
		}
	}
	if file.Typing != nil {
		setDuration(&config.Typing.IdleTimeout, file.Typing.IdleTimeout)
		setDuration(&config.Typing.RemoteTTL, file.Typing.RemoteTTL)
		setDuration(&config.Typing.SweepInterval, file.Typing.SweepInterval)
	}
	if file.Stream != nil {
		setDuration(&config.Stream.AckTimeout, file.Stream.AckTimeout)
	}
	if file.Relay != nil {
		if file.Relay.Host != "" {
			config.Relay.Host = file.Relay.Host
		}
		if file.Relay.Port > 0 {
			config.Relay.Port = file.Relay.Port
		}
		if file.Relay.AuthToken != "" {
			config.Relay.AuthToken = file.Relay.AuthToken
		}
		if file.Relay.DatabasePath != "" {
			config.Relay.DatabasePath = file.Relay.DatabasePath
		}
		setDuration(&config.Relay.ReadTimeout, file.Relay.ReadTimeout)
		setDuration(&config.Relay.WriteTimeout, file.Relay.WriteTimeout)
		setDuration(&config.Relay.DBTimeout, file.Relay.DBTimeout)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence resolves configuration as file > environment
// > defaults. File errors are ignored so environment/defaults still work.
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
	}

	return config
}

func setDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}
