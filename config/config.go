// Package config loads and validates the two-layer YAML configuration
// (base file plus an optional per-profile overlay, deep-merged) and the
// environment credentials. Validation is strict: unknown keys and
// out-of-range values fail startup with errors that name the offending
// path.
package config

import (
	"fmt"
	"strings"
)

// Config is the root of the merged configuration tree.
type Config struct {
	Paths       PathsConfig       `yaml:"paths"`
	Database    DatabaseConfig    `yaml:"database"`
	Listener    ListenerConfig    `yaml:"listener"`
	Filters     FiltersConfig     `yaml:"filters"`
	Processor   ProcessorConfig   `yaml:"processor"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings"`
	Moderation  ModerationConfig  `yaml:"moderation"`
	Publication PublicationConfig `yaml:"publication"`
	LLM         LLMConfig         `yaml:"llm"`
	Cleanup     CleanupConfig     `yaml:"cleanup"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// PathsConfig holds filesystem layout patterns. Patterns are templated
// with {profile}, {data_dir}, {logs_dir} and {sessions_dir}.
type PathsConfig struct {
	DataDir            string `yaml:"data_dir"`
	LogsDir            string `yaml:"logs_dir"`
	SessionsDir        string `yaml:"sessions_dir"`
	DBFilePattern      string `yaml:"db_file_pattern"`
	LogFilePattern     string `yaml:"log_file_pattern"`
	SessionFilePattern string `yaml:"session_file_pattern"`
}

type RetryConfig struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	BaseDelaySeconds  float64 `yaml:"base_delay_seconds"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

type DatabaseConfig struct {
	TimeoutSeconds int         `yaml:"timeout_seconds"`
	BusyTimeoutMS  int         `yaml:"busy_timeout_ms"`
	Retry          RetryConfig `yaml:"retry"`
}

type HealthcheckConfig struct {
	HeartbeatPath   string `yaml:"heartbeat_path"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	MaxAgeSeconds   int    `yaml:"max_age_seconds"`
}

type ListenerConfig struct {
	Mode             string            `yaml:"mode"`
	MinMessageLength int               `yaml:"min_message_length"`
	ChannelWhitelist []string          `yaml:"channel_whitelist"`
	ChannelBlacklist []string          `yaml:"channel_blacklist"`
	ManualChannels   []string          `yaml:"manual_channels"`
	Healthcheck      HealthcheckConfig `yaml:"healthcheck"`
}

type FiltersConfig struct {
	ExcludeKeywords []string `yaml:"exclude_keywords"`
}

type ProcessorConfig struct {
	ScheduleTime            string             `yaml:"schedule_time"`
	Timezone                string             `yaml:"timezone"`
	DuplicateThreshold      float64            `yaml:"duplicate_threshold"`
	TopN                    int                `yaml:"top_n"`
	ExcludeCount            int                `yaml:"exclude_count"`
	UseDBSCAN               bool               `yaml:"use_dbscan"`
	DBSCANEps               float64            `yaml:"dbscan_eps"`
	DBSCANMinSamples        int                `yaml:"dbscan_min_samples"`
	DuplicateTimeWindowDays int                `yaml:"duplicate_time_window_days"`
	Categories              map[string]int     `yaml:"categories"`
	CategoryDescriptions    map[string]string  `yaml:"category_descriptions"`
	SourceKeywords          []string           `yaml:"source_keywords"`
	StatusIntervalMinutes   int                `yaml:"status_interval_minutes"`
}

type EmbeddingsConfig struct {
	Model               string `yaml:"model"`
	LocalPath           string `yaml:"local_path"`
	EnableFallback      bool   `yaml:"enable_fallback"`
	AllowRemoteDownload bool   `yaml:"allow_remote_download"`
}

type ModerationConfig struct {
	Auto               bool     `yaml:"auto"`
	Enabled            bool     `yaml:"enabled"`
	FinalTopN          int      `yaml:"final_top_n"`
	TimeoutHours       int      `yaml:"timeout_hours"`
	MaxRetries         int      `yaml:"max_retries"`
	CancelKeywords     []string `yaml:"cancel_keywords"`
	PublishAllKeywords []string `yaml:"publish_all_keywords"`
}

type PublicationConfig struct {
	Channel        string `yaml:"channel"`
	PreviewChannel string `yaml:"preview_channel"`
	HeaderTemplate string `yaml:"header_template"`
	FooterTemplate string `yaml:"footer_template"`
	NotifyAccount  string `yaml:"notify_account"`
}

// ProviderConfig is the per-provider LLM tuning shared by both the chat
// and the generative provider sections.
type ProviderConfig struct {
	Model       string            `yaml:"model"`
	BaseURL     string            `yaml:"base_url"`
	MaxTokens   int               `yaml:"max_tokens"`
	Temperature float64           `yaml:"temperature"`
	ChunkSize   int               `yaml:"chunk_size"`
	Prompts     map[string]string `yaml:"prompts"`
}

type LLMConfig struct {
	Provider   string         `yaml:"provider"`
	Chat       ProviderConfig `yaml:"chat"`
	Generative ProviderConfig `yaml:"generative"`
}

type CleanupConfig struct {
	RawMessagesDays int  `yaml:"raw_messages_days"`
	PublishedDays   int  `yaml:"published_days"`
	RunWeekly       bool `yaml:"run_weekly"`
}

type RotateConfig struct {
	Enabled     bool `yaml:"enabled"`
	MaxBytes    int  `yaml:"max_bytes"`
	BackupCount int  `yaml:"backup_count"`
}

type LoggingConfig struct {
	Level   string       `yaml:"level"`
	Format  string       `yaml:"format"`
	DateFmt string       `yaml:"datefmt"`
	File    string       `yaml:"file"`
	Rotate  RotateConfig `yaml:"rotate"`
}

// Default returns the configuration used when a key is absent from both
// layers. Defaults follow the values called out in the design notes.
func Default() Config {
	return Config{
		Paths: PathsConfig{
			DataDir:            "data",
			LogsDir:            "logs",
			SessionsDir:        "sessions",
			DBFilePattern:      "{data_dir}/news_{profile}.db",
			LogFilePattern:     "{logs_dir}/news_{profile}.log",
			SessionFilePattern: "{sessions_dir}/{profile}.session",
		},
		Database: DatabaseConfig{
			TimeoutSeconds: 30,
			BusyTimeoutMS:  30000,
			Retry: RetryConfig{
				MaxAttempts:       5,
				BaseDelaySeconds:  0.5,
				BackoffMultiplier: 2,
			},
		},
		Listener: ListenerConfig{
			Mode:             "subscriptions",
			MinMessageLength: 50,
			Healthcheck: HealthcheckConfig{
				HeartbeatPath:   "data/listener.heartbeat",
				IntervalSeconds: 60,
				MaxAgeSeconds:   180,
			},
		},
		Processor: ProcessorConfig{
			ScheduleTime:            "10:00",
			Timezone:                "Europe/Moscow",
			DuplicateThreshold:      0.78,
			TopN:                    15,
			UseDBSCAN:               false,
			DBSCANEps:               0.22,
			DBSCANMinSamples:        2,
			DuplicateTimeWindowDays: 60,
			StatusIntervalMinutes:   60,
		},
		Embeddings: EmbeddingsConfig{
			Model: "text-embedding-3-small",
		},
		Moderation: ModerationConfig{
			Auto:         true,
			Enabled:      true,
			FinalTopN:    15,
			TimeoutHours: 2,
			MaxRetries:   3,
		},
		LLM: LLMConfig{
			Provider: "chat",
			Chat: ProviderConfig{
				Model:       "gpt-4o-mini",
				MaxTokens:   4096,
				Temperature: 0.3,
				ChunkSize:   50,
			},
			Generative: ProviderConfig{
				Model:       "gemini-1.5-pro",
				MaxTokens:   8192,
				Temperature: 0.3,
				ChunkSize:   200,
			},
		},
		Cleanup: CleanupConfig{
			RawMessagesDays: 14,
			PublishedDays:   60,
			RunWeekly:       true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// errs accumulates path-annotated validation failures into one
// multi-line startup error.
type errs []string

func (e *errs) addf(path, format string, args ...interface{}) {
	*e = append(*e, fmt.Sprintf("%s: %s", path, fmt.Sprintf(format, args...)))
}

func (e errs) orNil() error {
	if len(e) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration:\n  %s", strings.Join(e, "\n  "))
}

func inRangeInt(e *errs, path string, v, lo, hi int) {
	if v < lo || v > hi {
		e.addf(path, "value %d outside allowed range [%d, %d]", v, lo, hi)
	}
}

func inRangeFloat(e *errs, path string, v, lo, hi float64) {
	if v < lo || v > hi {
		e.addf(path, "value %g outside allowed range [%g, %g]", v, lo, hi)
	}
}

// Validate checks every constrained field and returns a single error
// naming all violations, or nil.
func (c *Config) Validate() error {
	var e errs

	inRangeInt(&e, "database.timeout_seconds", c.Database.TimeoutSeconds, 1, 300)
	inRangeInt(&e, "database.busy_timeout_ms", c.Database.BusyTimeoutMS, 1, 60000)
	inRangeInt(&e, "database.retry.max_attempts", c.Database.Retry.MaxAttempts, 1, 20)
	inRangeFloat(&e, "database.retry.base_delay_seconds", c.Database.Retry.BaseDelaySeconds, 0.1, 10)
	inRangeFloat(&e, "database.retry.backoff_multiplier", c.Database.Retry.BackoffMultiplier, 1, 5)

	switch c.Listener.Mode {
	case "subscriptions", "manual":
	default:
		// Unknown modes are tolerated at runtime (the listener falls back
		// to subscriptions with a warning), but an empty mode is a typo.
		if c.Listener.Mode == "" {
			e.addf("listener.mode", "must be %q or %q", "subscriptions", "manual")
		}
	}
	inRangeInt(&e, "listener.min_message_length", c.Listener.MinMessageLength, 10, 1000)
	if c.Listener.Mode == "manual" && len(c.Listener.ManualChannels) == 0 {
		e.addf("listener.manual_channels", "manual mode requires at least one channel")
	}
	if c.Listener.Healthcheck.IntervalSeconds <= 0 {
		e.addf("listener.healthcheck.interval_seconds", "must be positive")
	}
	if c.Listener.Healthcheck.MaxAgeSeconds < c.Listener.Healthcheck.IntervalSeconds {
		e.addf("listener.healthcheck.max_age_seconds", "must be at least interval_seconds")
	}

	if _, err := parseScheduleTime(c.Processor.ScheduleTime); err != nil {
		e.addf("processor.schedule_time", "%v", err)
	}
	inRangeFloat(&e, "processor.duplicate_threshold", c.Processor.DuplicateThreshold, 0.5, 1.0)
	inRangeInt(&e, "processor.top_n", c.Processor.TopN, 1, 100)
	inRangeInt(&e, "processor.exclude_count", c.Processor.ExcludeCount, 0, 50)
	inRangeInt(&e, "processor.duplicate_time_window_days", c.Processor.DuplicateTimeWindowDays, 7, 180)
	if c.Processor.UseDBSCAN {
		inRangeFloat(&e, "processor.dbscan_eps", c.Processor.DBSCANEps, 0.01, 0.5)
		inRangeInt(&e, "processor.dbscan_min_samples", c.Processor.DBSCANMinSamples, 2, 10)
	}
	for name, quota := range c.Processor.Categories {
		if quota < 1 || quota > 100 {
			e.addf("processor.categories."+name, "quota %d outside allowed range [1, 100]", quota)
		}
	}

	inRangeInt(&e, "moderation.final_top_n", c.Moderation.FinalTopN, 1, 100)
	inRangeInt(&e, "moderation.timeout_hours", c.Moderation.TimeoutHours, 1, 24)
	inRangeInt(&e, "moderation.max_retries", c.Moderation.MaxRetries, 1, 10)

	switch c.LLM.Provider {
	case "generative", "chat":
	default:
		e.addf("llm.provider", "must be %q or %q, got %q", "generative", "chat", c.LLM.Provider)
	}
	validateProvider(&e, "llm.chat", c.LLM.Chat)
	validateProvider(&e, "llm.generative", c.LLM.Generative)

	if c.Cleanup.RawMessagesDays < 1 {
		e.addf("cleanup.raw_messages_days", "must be positive")
	}
	if c.Cleanup.PublishedDays < c.Processor.DuplicateTimeWindowDays {
		e.addf("cleanup.published_days",
			"retention %d days is shorter than processor.duplicate_time_window_days %d; dedup would read garbage-collected rows",
			c.Cleanup.PublishedDays, c.Processor.DuplicateTimeWindowDays)
	}

	switch c.Logging.Level {
	case "", "trace", "debug", "info", "warning", "warn", "error":
	default:
		e.addf("logging.level", "unknown level %q", c.Logging.Level)
	}

	return e.orNil()
}

func validateProvider(e *errs, path string, p ProviderConfig) {
	inRangeInt(e, path+".max_tokens", p.MaxTokens, 128, 8192)
	inRangeFloat(e, path+".temperature", p.Temperature, 0, 2)
	if p.ChunkSize < 1 || p.ChunkSize > 500 {
		e.addf(path+".chunk_size", "value %d outside allowed range [1, 500]", p.ChunkSize)
	}
}

// parseScheduleTime parses "HH:MM" into minutes since local midnight.
func parseScheduleTime(s string) (int, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(s, "%d:%d", &hh, &mm); err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return hh*60 + mm, nil
}

// ScheduleMinutes returns the processor schedule as minutes since local
// midnight. Validate guarantees it parses.
func (c *ProcessorConfig) ScheduleMinutes() int {
	var m, _ = parseScheduleTime(c.ScheduleTime)
	return m
}

// ExpandPath substitutes {profile} and the directory placeholders in a
// path pattern.
func (p *PathsConfig) ExpandPath(pattern, profile string) string {
	var r = strings.NewReplacer(
		"{profile}", profile,
		"{data_dir}", p.DataDir,
		"{logs_dir}", p.LogsDir,
		"{sessions_dir}", p.SessionsDir,
	)
	return r.Replace(pattern)
}

// DBPath returns the sqlite file path for a profile.
func (p *PathsConfig) DBPath(profile string) string {
	return p.ExpandPath(p.DBFilePattern, profile)
}

// SessionPath returns the MTProto session file path for a profile.
func (p *PathsConfig) SessionPath(profile string) string {
	return p.ExpandPath(p.SessionFilePattern, profile)
}

// LogPath returns the log file path for a profile.
func (p *PathsConfig) LogPath(profile string) string {
	return p.ExpandPath(p.LogFilePattern, profile)
}

// ActiveProvider returns the provider section selected by llm.provider.
func (c *LLMConfig) ActiveProvider() ProviderConfig {
	if c.Provider == "generative" {
		return c.Generative
	}
	return c.Chat
}
