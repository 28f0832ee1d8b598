package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/h1v3-io/agora/internal/attendee"
	"github.com/h1v3-io/agora/internal/conference"
	"github.com/h1v3-io/agora/internal/config"
	"github.com/h1v3-io/agora/internal/logbuf"
	"github.com/h1v3-io/agora/internal/monitor"
	"github.com/h1v3-io/agora/internal/notes"
	"github.com/h1v3-io/agora/internal/operation"
	"github.com/h1v3-io/agora/internal/pool"
	"github.com/h1v3-io/agora/internal/provider"
	"github.com/h1v3-io/agora/internal/relay"
	"github.com/h1v3-io/agora/internal/room"
	"github.com/h1v3-io/agora/pkg/protocol"
)

// app holds everything a command needs, wired from one Config.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	pool    *pool.Pool
	tracker *operation.Tracker
	hub     *monitor.Hub
	service *conference.Service
	closers []io.Closer
}

// newLogger builds the process logger. The level can be changed later
// through the returned LevelVar.
func newLogger(cfg config.LoggingConfig, verbose bool, out io.Writer) (*slog.Logger, *slog.LevelVar, *logbuf.Buffer) {
	level := new(slog.LevelVar)
	if l, err := config.ParseLevel(cfg.Level); err == nil {
		level.Set(l)
	}
	if verbose {
		level.Set(slog.LevelDebug)
	}
	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler = slog.NewJSONHandler(out, opts)
	if cfg.Format == "text" {
		inner = slog.NewTextHandler(out, opts)
	}
	buf := logbuf.New(cfg.BufferSize)
	return slog.New(logbuf.NewHandler(inner, buf)), level, buf
}

// wire builds the conference stack. extra relays are attached on top of
// the configured ones.
func wire(cfg *config.Config, logger *slog.Logger, extra ...conference.SubscriberFactory) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	providers, models := buildProviders(cfg.Providers, logger)
	defaults := attendee.Defaults{
		Names:       cfg.Attendees.Names,
		Instruction: cfg.Attendees.Instruction,
		Models:      cfg.Attendees.Models,
		Retry:       cfg.Attendees.Retry,
	}
	if len(defaults.Models) == 0 {
		defaults.Models = models
	}
	provisioner := attendee.NewProvisioner(defaults, providers, logger.With("component", "attendee"))

	archive, err := buildArchive(cfg.Archive)
	if err != nil {
		return nil, err
	}
	if c, ok := archive.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	relays, err := buildRelays(cfg.Relays, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	relays = append(relays, extra...)

	a.pool = pool.New(logger, room.WithPacing(cfg.Pool.Pacing), room.WithLogger(logger))
	a.tracker = operation.NewTracker()
	a.hub = monitor.NewHub()
	a.service = conference.New(conference.Config{
		DefaultTimeLimit: cfg.Conference.DefaultTimeLimit,
		MaxTimeLimit:     cfg.Conference.MaxTimeLimit,
		AsyncTimeout:     cfg.Conference.AsyncTimeout,
		CloseTimeout:     cfg.Conference.CloseTimeout,
		QueueSize:        cfg.Monitor.QueueSize,
		MailboxSize:      cfg.Monitor.MailboxSize,
		LogEvents:        cfg.Monitor.LogEvents,
	}, conference.Deps{
		Pool:        a.pool,
		Provisioner: provisioner,
		Archive:     archive,
		Tracker:     a.tracker,
		Hub:         a.hub,
		Relays:      relays,
	}, logger)
	return a, nil
}

// Close releases pooled rooms and the archive.
func (a *app) Close() error {
	if a.pool != nil {
		a.pool.Close()
	}
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// buildProviders registers every configured provider under its models.
// The provider named "default" also serves unknown models.
func buildProviders(cfgs map[string]config.ProviderConfig, logger *slog.Logger) (*provider.Registry, []string) {
	built := make(map[string]provider.Provider, len(cfgs))
	for name, pcfg := range cfgs {
		switch pcfg.Type {
		case "anthropic":
			var opts []provider.AnthropicOption
			if pcfg.BaseURL != "" {
				opts = append(opts, provider.WithAnthropicBaseURL(pcfg.BaseURL))
			}
			opts = append(opts, provider.WithAnthropicModel(pcfg.Model))
			built[name] = provider.NewAnthropic(pcfg.APIKey, opts...)
		default:
			var opts []provider.OpenAIOption
			if pcfg.BaseURL != "" {
				opts = append(opts, provider.WithBaseURL(pcfg.BaseURL))
			}
			opts = append(opts, provider.WithModel(pcfg.Model))
			built[name] = provider.NewOpenAI(pcfg.APIKey, opts...)
		}
		logger.Info("provider initialized", "name", name, "type", pcfg.Type, "model", pcfg.Model)
	}

	reg := provider.NewRegistry(built["default"])
	var models []string
	for name, pcfg := range cfgs {
		for _, m := range append([]string{pcfg.Model}, pcfg.Models...) {
			reg.Register(m, built[name])
			models = append(models, m)
		}
	}
	return reg, models
}

func buildArchive(cfg config.ArchiveConfig) (notes.Archive, error) {
	switch cfg.Kind {
	case "none":
		return notes.Discard{}, nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("archive: %w", err)
		}
		return notes.NewSQLiteArchive(cfg.Path)
	default:
		return notes.NewFileArchive(cfg.Dir, cfg.Kind)
	}
}

func buildRelays(cfg config.RelaysConfig, logger *slog.Logger) ([]conference.SubscriberFactory, error) {
	var out []conference.SubscriberFactory
	if s := cfg.Slack; s != nil {
		sender, err := relay.NewSlack(relay.SlackConfig{WebhookURL: s.WebhookURL, BotToken: s.BotToken, Channel: s.Channel}, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, relay.Factory(sender, relay.Options{Kinds: kinds(s.Kinds)}, logger))
	}
	if tg := cfg.Telegram; tg != nil {
		sender, err := relay.NewTelegram(relay.TelegramConfig{Token: tg.Token, ChatID: tg.ChatID}, nil, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, relay.Factory(sender, relay.Options{Kinds: kinds(tg.Kinds)}, logger))
	}
	for _, wh := range cfg.Webhooks {
		sender, err := relay.NewWebhook(relay.WebhookConfig{URL: wh.URL, Secret: wh.Secret, BearerToken: wh.BearerToken}, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, relay.Factory(sender, relay.Options{Kinds: kinds(wh.Kinds)}, logger))
	}
	return out, nil
}

func kinds(names []string) []protocol.EventKind {
	out := make([]protocol.EventKind, len(names))
	for i, n := range names {
		out[i] = protocol.EventKind(n)
	}
	return out
}
