package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the chat server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Paths    PathsConfig    `yaml:"paths"`
	Log      LogConfig      `yaml:"log"`
	Presence PresenceConfig `yaml:"presence"`
	Chat     ChatConfig     `yaml:"chat"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// ServerConfig holds network listener settings.
type ServerConfig struct {
	Listen            string        `yaml:"listen"`
	MaxSessions       int           `yaml:"max_sessions"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
}

// PathsConfig holds filesystem paths for data.
type PathsConfig struct {
	Data     string `yaml:"data"`
	Database string `yaml:"database"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// PresenceConfig selects the membership transport and liveness timings.
type PresenceConfig struct {
	Backend   string        `yaml:"backend"` // "memory" or "redis"
	RedisURL  string        `yaml:"redis_url"`
	Heartbeat time.Duration `yaml:"heartbeat"`
	MemberTTL time.Duration `yaml:"member_ttl"`
}

// ChatConfig tunes the per-session coordinator.
type ChatConfig struct {
	PageSize         int           `yaml:"page_size"`
	FetchWorkers     int           `yaml:"fetch_workers"`
	BackfillAttempts int           `yaml:"backfill_attempts"`
	BackfillBackoff  time.Duration `yaml:"backfill_backoff"`
}

// NotifyConfig selects where mention notifications are queued.
type NotifyConfig struct {
	Backend     string `yaml:"backend"` // "outbox" or "asynq"
	RedisURL    string `yaml:"redis_url"`
	Queue       string `yaml:"queue"`
	MaxRetry    int    `yaml:"max_retry"`
	ChannelHint string `yaml:"channel_hint"`
	RunWorker   bool   `yaml:"run_worker"`
}

// Default returns the configuration used when a key is absent from the file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:            ":8080",
			MaxSessions:       256,
			ReadHeaderTimeout: 2 * time.Second,
			AllowedOrigins:    []string{"*"},
		},
		Paths: PathsConfig{
			Data:     "./data",
			Database: "./data/twilight_chat.db",
		},
		Log: LogConfig{
			Level: "info",
		},
		Presence: PresenceConfig{
			Backend:   "memory",
			Heartbeat: 30 * time.Second,
			MemberTTL: 75 * time.Second,
		},
		Chat: ChatConfig{
			PageSize:         50,
			FetchWorkers:     4,
			BackfillAttempts: 3,
			BackfillBackoff:  2 * time.Second,
		},
		Notify: NotifyConfig{
			Backend:     "outbox",
			Queue:       "notifications",
			MaxRetry:    5,
			ChannelHint: "push",
		},
	}
}

// Load reads and parses a YAML config file, then applies environment
// overrides. A .env file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	_ = godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv overrides selected keys from TWILIGHT_* variables.
func (c *Config) applyEnv() error {
	if v := os.Getenv("TWILIGHT_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("TWILIGHT_DATABASE"); v != "" {
		c.Paths.Database = v
	}
	if v := os.Getenv("TWILIGHT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("TWILIGHT_REDIS_URL"); v != "" {
		c.Presence.RedisURL = v
		c.Notify.RedisURL = v
	}
	if v := os.Getenv("TWILIGHT_PRESENCE_BACKEND"); v != "" {
		c.Presence.Backend = v
	}
	if v := os.Getenv("TWILIGHT_NOTIFY_BACKEND"); v != "" {
		c.Notify.Backend = v
	}
	if v := os.Getenv("TWILIGHT_MAX_SESSIONS"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("TWILIGHT_MAX_SESSIONS: %w", err)
		}
		c.Server.MaxSessions = n
	}
	return nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Presence.Backend {
	case "memory":
	case "redis":
		if c.Presence.RedisURL == "" {
			return fmt.Errorf("presence backend redis requires presence.redis_url")
		}
	default:
		return fmt.Errorf("unknown presence backend %q", c.Presence.Backend)
	}

	switch c.Notify.Backend {
	case "outbox":
	case "asynq":
		if c.Notify.RedisURL == "" {
			return fmt.Errorf("notify backend asynq requires notify.redis_url")
		}
	default:
		return fmt.Errorf("unknown notify backend %q", c.Notify.Backend)
	}

	if c.Presence.Heartbeat <= 0 {
		return fmt.Errorf("presence.heartbeat must be positive")
	}
	if c.Presence.MemberTTL < c.Presence.Heartbeat {
		return fmt.Errorf("presence.member_ttl (%s) must be at least the heartbeat (%s)",
			c.Presence.MemberTTL, c.Presence.Heartbeat)
	}
	if c.Server.MaxSessions <= 0 {
		return fmt.Errorf("server.max_sessions must be positive")
	}
	if c.Chat.PageSize <= 0 {
		c.Chat.PageSize = 50
	}
	if c.Chat.FetchWorkers <= 0 {
		c.Chat.FetchWorkers = 1
	}
	return nil
}

// Save validates c and writes it to path as YAML.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
