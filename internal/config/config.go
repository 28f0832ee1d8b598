// Package config loads agorad settings from a file and AGORA_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/h1v3-io/agora/internal/attendee"
)

// EnvPrefix prefixes every environment override, e.g. AGORA_SERVER_PORT.
const EnvPrefix = "AGORA"

// Config is the top-level agorad configuration.
type Config struct {
	Server     ServerConfig              `mapstructure:"server"`
	Conference ConferenceConfig          `mapstructure:"conference"`
	Monitor    MonitorConfig             `mapstructure:"monitor"`
	Pool       PoolConfig                `mapstructure:"pool"`
	Attendees  AttendeesConfig           `mapstructure:"attendees"`
	Providers  map[string]ProviderConfig `mapstructure:"providers"`
	Archive    ArchiveConfig             `mapstructure:"archive"`
	Relays     RelaysConfig              `mapstructure:"relays"`
	Janitor    JanitorConfig             `mapstructure:"janitor"`
	Context    ContextConfig             `mapstructure:"context"`
	Logging    LoggingConfig             `mapstructure:"logging"`
}

// ServerConfig holds REST API server settings.
type ServerConfig struct {
	Host          string   `mapstructure:"host"`
	Port          int      `mapstructure:"port"`
	APIKey        string   `mapstructure:"api_key"`
	AllowedModels []string `mapstructure:"allowed_models"`
	MaxAttendees  int      `mapstructure:"max_attendees"`
}

// ConferenceConfig bounds conference runs.
type ConferenceConfig struct {
	DefaultTimeLimit time.Duration `mapstructure:"default_time_limit"`
	MaxTimeLimit     time.Duration `mapstructure:"max_time_limit"`
	AsyncTimeout     time.Duration `mapstructure:"async_timeout"`
	CloseTimeout     time.Duration `mapstructure:"close_timeout"`
}

// MonitorConfig sizes event fan-out.
type MonitorConfig struct {
	QueueSize   int  `mapstructure:"queue_size"`
	MailboxSize int  `mapstructure:"mailbox_size"`
	LogEvents   bool `mapstructure:"log_events"`
}

// PoolConfig tunes pooled rooms.
type PoolConfig struct {
	Pacing time.Duration `mapstructure:"pacing"`
}

// AttendeesConfig holds defaults for attendees created without options.
type AttendeesConfig struct {
	Names       []string             `mapstructure:"names"`
	Instruction string               `mapstructure:"instruction"`
	Models      []string             `mapstructure:"models"`
	Retry       attendee.RetryPolicy `mapstructure:"retry"`
}

// ProviderConfig holds LLM provider settings.
type ProviderConfig struct {
	Type    string `mapstructure:"type"` // "openai" (default) or "anthropic"
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	// Models lists extra model names routed to this provider.
	Models []string `mapstructure:"models"`
}

// ArchiveConfig selects where transcripts are kept.
type ArchiveConfig struct {
	Kind string `mapstructure:"kind"` // none, text, toml or sqlite
	Dir  string `mapstructure:"dir"`
	Path string `mapstructure:"path"`
}

// RelaysConfig lists outbound event relays.
type RelaysConfig struct {
	Slack    *SlackRelay    `mapstructure:"slack"`
	Telegram *TelegramRelay `mapstructure:"telegram"`
	Webhooks []WebhookRelay `mapstructure:"webhooks"`
}

// SlackRelay posts events to Slack.
type SlackRelay struct {
	WebhookURL string   `mapstructure:"webhook_url"`
	BotToken   string   `mapstructure:"bot_token"`
	Channel    string   `mapstructure:"channel"`
	Kinds      []string `mapstructure:"kinds"`
}

// TelegramRelay posts events to a Telegram chat.
type TelegramRelay struct {
	Token  string   `mapstructure:"token"`
	ChatID int64    `mapstructure:"chat_id"`
	Kinds  []string `mapstructure:"kinds"`
}

// WebhookRelay posts events to an HTTP endpoint.
type WebhookRelay struct {
	URL         string   `mapstructure:"url"`
	Secret      string   `mapstructure:"secret"`
	BearerToken string   `mapstructure:"bearer_token"`
	Kinds       []string `mapstructure:"kinds"`
}

// JanitorConfig schedules cleanup of finished work.
type JanitorConfig struct {
	Schedule     string        `mapstructure:"schedule"`
	OperationTTL time.Duration `mapstructure:"operation_ttl"`
	BufferTTL    time.Duration `mapstructure:"buffer_ttl"`
}

// ContextConfig controls fetching problem context from URLs.
type ContextConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	MaxBytes int  `mapstructure:"max_bytes"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or text
	BufferSize int    `mapstructure:"buffer_size"`
}

// SetDefaults registers every default on v. Keys with a default can be
// overridden from the environment.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.allowed_models", []string{})
	v.SetDefault("server.max_attendees", 10)

	v.SetDefault("conference.default_time_limit", 60*time.Second)
	v.SetDefault("conference.max_time_limit", 5*time.Minute)
	v.SetDefault("conference.async_timeout", 5*time.Minute)
	v.SetDefault("conference.close_timeout", 10*time.Second)

	v.SetDefault("monitor.queue_size", 100)
	v.SetDefault("monitor.mailbox_size", 1024)
	v.SetDefault("monitor.log_events", false)

	v.SetDefault("pool.pacing", time.Second)

	retry := attendee.DefaultRetryPolicy()
	v.SetDefault("attendees.names", []string{})
	v.SetDefault("attendees.instruction", "")
	v.SetDefault("attendees.models", []string{})
	v.SetDefault("attendees.retry.rate_limit_retries", retry.RateLimitRetries)
	v.SetDefault("attendees.retry.transient_retries", retry.TransientRetries)
	v.SetDefault("attendees.retry.delay", retry.Delay)

	v.SetDefault("archive.kind", "text")
	v.SetDefault("archive.dir", "data/notes")
	v.SetDefault("archive.path", "data/transcripts.db")

	v.SetDefault("janitor.schedule", "@every 1m")
	v.SetDefault("janitor.operation_ttl", time.Hour)
	v.SetDefault("janitor.buffer_ttl", 10*time.Minute)

	v.SetDefault("context.enabled", false)
	v.SetDefault("context.max_bytes", 50*1024)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.buffer_size", 2000)
}

// New returns a viper instance with defaults and environment overrides.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (JSON, YAML or TOML by extension) when non-empty, applies
// environment overrides and validates the result. The returned viper is
// the one to pass to Watch.
func Load(path string) (*Config, *viper.Viper, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	cfg, err := Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Decode unmarshals and validates the settings held by v.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	applyEnvProviders(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvProviders adds a default provider from AGORA_OPENAI_API_KEY or
// AGORA_ANTHROPIC_API_KEY when none is configured.
func applyEnvProviders(cfg *Config) {
	if len(cfg.Providers) > 0 {
		return
	}
	cfg.Providers = make(map[string]ProviderConfig)
	if key := os.Getenv(EnvPrefix + "_ANTHROPIC_API_KEY"); key != "" {
		cfg.Providers["default"] = ProviderConfig{
			Type:   "anthropic",
			APIKey: key,
			Model:  getenv(EnvPrefix+"_MODEL", "claude-sonnet-4-20250514"),
		}
	} else if key := os.Getenv(EnvPrefix + "_OPENAI_API_KEY"); key != "" {
		cfg.Providers["default"] = ProviderConfig{
			Type:    "openai",
			APIKey:  key,
			BaseURL: os.Getenv(EnvPrefix + "_OPENAI_BASE_URL"),
			Model:   getenv(EnvPrefix+"_MODEL", "gpt-4.1-mini"),
		}
	}
}

var (
	archiveKinds = []string{"none", "text", "toml", "sqlite"}
	eventKinds   = []string{"Setup", "KickOff", "InDiscussion", "Close"}
)

// Validate checks ranges and required fields.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if c.Server.MaxAttendees < 1 {
		errs = append(errs, "server.max_attendees must be at least 1")
	}

	cc := c.Conference
	if cc.MaxTimeLimit <= 0 {
		errs = append(errs, "conference.max_time_limit must be positive")
	}
	if cc.DefaultTimeLimit <= 0 || cc.DefaultTimeLimit >= cc.MaxTimeLimit {
		errs = append(errs, "conference.default_time_limit must be positive and below max_time_limit")
	}
	if cc.AsyncTimeout < cc.MaxTimeLimit {
		errs = append(errs, "conference.async_timeout must be at least max_time_limit")
	}

	if c.Monitor.QueueSize < 1 {
		errs = append(errs, "monitor.queue_size must be at least 1")
	}
	if c.Monitor.MailboxSize < 1 {
		errs = append(errs, "monitor.mailbox_size must be at least 1")
	}
	if c.Pool.Pacing < 0 {
		errs = append(errs, "pool.pacing must not be negative")
	}

	r := c.Attendees.Retry
	if r.RateLimitRetries < 0 || r.TransientRetries < 0 || r.Delay < 0 {
		errs = append(errs, "attendees.retry values must not be negative")
	}

	if len(c.Providers) == 0 {
		errs = append(errs, "at least one provider is required")
	}
	for name, p := range c.Providers {
		if p.APIKey == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.api_key is required", name))
		}
		if p.Model == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.model is required", name))
		}
		if p.Type != "" && p.Type != "openai" && p.Type != "anthropic" {
			errs = append(errs, fmt.Sprintf("providers.%s.type %q is not supported", name, p.Type))
		}
	}

	if !slices.Contains(archiveKinds, c.Archive.Kind) {
		errs = append(errs, fmt.Sprintf("archive.kind must be one of %s", strings.Join(archiveKinds, ", ")))
	}

	if s := c.Relays.Slack; s != nil {
		if s.WebhookURL == "" && s.BotToken == "" {
			errs = append(errs, "relays.slack needs webhook_url or bot_token")
		}
		if s.BotToken != "" && s.Channel == "" {
			errs = append(errs, "relays.slack.channel is required with bot_token")
		}
		errs = append(errs, checkKinds("relays.slack", s.Kinds)...)
	}
	if tg := c.Relays.Telegram; tg != nil {
		if tg.Token == "" {
			errs = append(errs, "relays.telegram.token is required")
		}
		if tg.ChatID == 0 {
			errs = append(errs, "relays.telegram.chat_id is required")
		}
		errs = append(errs, checkKinds("relays.telegram", tg.Kinds)...)
	}
	for i, wh := range c.Relays.Webhooks {
		if wh.URL == "" {
			errs = append(errs, fmt.Sprintf("relays.webhooks[%d].url is required", i))
		}
		errs = append(errs, checkKinds(fmt.Sprintf("relays.webhooks[%d]", i), wh.Kinds)...)
	}

	if c.Janitor.Schedule == "" {
		errs = append(errs, "janitor.schedule is required")
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		errs = append(errs, "logging.format must be json or text")
	}
	if c.Logging.BufferSize < 1 {
		errs = append(errs, "logging.buffer_size must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkKinds(prefix string, kinds []string) []string {
	var errs []string
	for _, k := range kinds {
		if !slices.Contains(eventKinds, k) {
			errs = append(errs, fmt.Sprintf("%s.kinds: unknown event kind %q", prefix, k))
		}
	}
	return errs
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, errors.New("logging.level must be debug, info, warn or error")
	}
	return l, nil
}

// Watch re-decodes the config file whenever it changes and hands valid
// results to onChange. Invalid edits are reported to onError and ignored.
func Watch(v *viper.Viper, onChange func(*Config), onError func(error)) {
	v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := Decode(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
