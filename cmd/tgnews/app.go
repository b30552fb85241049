package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lifeexplorer230/tg-news-bot-sub000/config"
	"github.com/lifeexplorer230/tg-news-bot-sub000/dedup"
	"github.com/lifeexplorer230/tg-news-bot-sub000/embedding"
	"github.com/lifeexplorer230/tg-news-bot-sub000/listener"
	"github.com/lifeexplorer230/tg-news-bot-sub000/llm"
	"github.com/lifeexplorer230/tg-news-bot-sub000/moderation"
	"github.com/lifeexplorer230/tg-news-bot-sub000/pipeline"
	"github.com/lifeexplorer230/tg-news-bot-sub000/publish"
	"github.com/lifeexplorer230/tg-news-bot-sub000/storage"
	"github.com/lifeexplorer230/tg-news-bot-sub000/telegramclient"
	"github.com/lifeexplorer230/tg-news-bot-sub000/textutil"
)

// app carries the loaded configuration and credentials shared by the
// command implementations.
type app struct {
	cfg     *config.Config
	env     *config.Env
	profile string
}

// activeProfile resolves the deployment profile: the --profile flag,
// filled from PROFILE by go-flags when the flag is absent, falling back
// to "default".
func activeProfile() string {
	if baseOpts.Profile != "" {
		return baseOpts.Profile
	}
	return "default"
}

// loadConfig loads and validates the two-layer configuration without
// touching the environment credentials. Used by commands that only
// inspect local state.
func loadConfig() (*config.Config, string, error) {
	var profile = activeProfile()
	var cfg, err = config.Load(baseOpts.Config, profile)
	if err != nil {
		return nil, "", fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, profile, nil
}

// newApp is the full bootstrap: configuration, environment and logging.
func newApp() (*app, error) {
	var cfg, profile, err = loadConfig()
	if err != nil {
		return nil, err
	}
	env, err := config.LoadEnv()
	if err != nil {
		return nil, err
	}
	if err := initLogging(cfg.Logging, cfg.Paths.LogPath(profile)); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"profile": profile, "env": env.String()}).Info("starting")
	return &app{cfg: cfg, env: env, profile: profile}, nil
}

// initLogging configures logrus from the logging section: level, text or
// json format, and an optional rotated file alongside stderr.
func initLogging(cfg config.LoggingConfig, defaultFile string) error {
	var levelName = cfg.Level
	if levelName == "" {
		levelName = "info"
	}
	var level, err = log.ParseLevel(levelName)
	if err != nil {
		return fmt.Errorf("logging level: %w", err)
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: cfg.DateFmt})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: cfg.DateFmt})
	}

	var file = cfg.File
	if file == "" {
		file = defaultFile
	}
	if file == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("log dir: %w", err)
	}

	var sink io.Writer
	if cfg.Rotate.Enabled {
		sink = &lumberjack.Logger{
			Filename:   file,
			MaxSize:    cfg.Rotate.MaxBytes / (1 << 20),
			MaxBackups: cfg.Rotate.BackupCount,
		}
	} else {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("log file: %w", err)
		}
		sink = f
	}
	log.SetOutput(io.MultiWriter(os.Stderr, sink))
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (a *app) openStore() (*storage.Store, error) {
	return storage.Open(a.cfg.Paths.DBPath(a.profile), storage.Options{
		TimeoutSeconds: a.cfg.Database.TimeoutSeconds,
		BusyTimeoutMS:  a.cfg.Database.BusyTimeoutMS,
		Retry:          a.cfg.Database.Retry,
	})
}

func (a *app) newTelegram() (*telegramclient.Client, error) {
	return telegramclient.New(a.env, a.cfg.Paths.SessionPath(a.profile))
}

func (a *app) timezone() (*time.Location, error) {
	var tz, err = time.LoadLocation(a.cfg.Processor.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", a.cfg.Processor.Timezone, err)
	}
	return tz, nil
}

func (a *app) heartbeatPath() string {
	return a.cfg.Paths.ExpandPath(a.cfg.Listener.Healthcheck.HeartbeatPath, a.profile)
}

func (a *app) heartbeatMaxAge() time.Duration {
	return time.Duration(a.cfg.Listener.Healthcheck.MaxAgeSeconds) * time.Second
}

// publicationConfig folds the environment overrides into the publication
// section.
func (a *app) publicationConfig() config.PublicationConfig {
	var out = a.cfg.Publication
	if a.env.TargetChannel != "" {
		out.Channel = a.env.TargetChannel
	}
	if out.NotifyAccount == "" {
		out.NotifyAccount = a.env.PersonalAccount
	}
	return out
}

// buildProcessor wires the full selection pipeline. conv is nil when
// moderation runs unattended.
func (a *app) buildProcessor(store *storage.Store, tc *telegramclient.Client, conv moderation.Conversation) (*pipeline.Processor, error) {
	var norm = textutil.NewNormalizer(textutil.NormalizeOptions{
		ReplaceURLs:    true,
		StripEmoji:     true,
		SourceKeywords: a.cfg.Processor.SourceKeywords,
	})
	var embSvc, err = embedding.NewService(a.cfg.Embeddings, a.env.LLMAPIKey, norm)
	if err != nil {
		return nil, fmt.Errorf("embedding service: %w", err)
	}
	provider, err := llm.NewProvider(a.cfg.LLM, a.env.LLMAPIKey)
	if err != nil {
		return nil, err
	}

	var engine = dedup.New(store, embSvc, a.cfg.Processor)
	var auto = moderation.NewAuto(embSvc, a.cfg.Processor.DuplicateThreshold)
	var moderator pipeline.Moderator = auto
	if conv != nil {
		moderator = moderation.NewInteractive(auto, conv, a.cfg.Moderation)
	}

	var pubCfg = a.publicationConfig()
	var publisher = publish.New(pubCfg, tc, embSvc, store, engine)
	var values = publish.TemplateValues{Channel: pubCfg.Channel, Profile: a.profile}
	return pipeline.NewProcessor(store, engine, provider, moderator, publisher,
		a.cfg.Processor, a.cfg.Moderation, values), nil
}

// openConversation returns the interactive moderation channel, or nil
// when moderation is configured unattended or no reviewer account is
// set.
func (a *app) openConversation(ctx context.Context, tc *telegramclient.Client) (moderation.Conversation, error) {
	if a.cfg.Moderation.Auto || !a.cfg.Moderation.Enabled || a.env.PersonalAccount == "" {
		return nil, nil
	}
	var conv, err = tc.OpenConversation(ctx, a.env.PersonalAccount)
	if err != nil {
		return nil, fmt.Errorf("opening moderation conversation: %w", err)
	}
	return conv, nil
}

// runListener registers the ingestion hook and blocks on the heartbeat
// loop until the context is cancelled.
func (a *app) runListener(ctx context.Context, tc *telegramclient.Client, store *storage.Store) error {
	var lst, err = listener.New(store, a.cfg.Listener, a.cfg.Filters)
	if err != nil {
		return err
	}

	var allowed map[int64]bool
	if lst.Mode() == "manual" {
		if allowed, err = tc.ResolveChannels(ctx, lst.ManualChannels()); err != nil {
			return err
		}
		if len(allowed) == 0 {
			return fmt.Errorf("manual mode: none of the configured channels resolved")
		}
	}
	tc.OnChannelMessage(allowed, func(ctx context.Context, ev listener.Event) error {
		var _, err = lst.HandleEvent(ctx, ev)
		return err
	})
	log.WithFields(log.Fields{"mode": lst.Mode(), "channels": len(allowed)}).Info("listener running")

	var hb = listener.NewHeartbeat(a.heartbeatPath(),
		time.Duration(a.cfg.Listener.Healthcheck.IntervalSeconds)*time.Second)
	hb.Run(ctx)
	return ctx.Err()
}
