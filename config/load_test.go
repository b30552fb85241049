package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDefaultsOnly(t *testing.T) {
	var dir = t.TempDir()
	var base = filepath.Join(dir, "config.yaml")
	writeFile(t, base, "")

	cfg, err := Load(base, "")
	require.NoError(t, err)
	require.Equal(t, "subscriptions", cfg.Listener.Mode)
	require.Equal(t, 0.78, cfg.Processor.DuplicateThreshold)
	require.Equal(t, 60, cfg.Processor.DuplicateTimeWindowDays)
	require.Equal(t, 5, cfg.Database.Retry.MaxAttempts)
}

func TestLoadProfileOverlayDeepMerge(t *testing.T) {
	var dir = t.TempDir()
	var base = filepath.Join(dir, "config.yaml")
	writeFile(t, base, `
listener:
  min_message_length: 80
  channel_whitelist: [alpha, beta]
processor:
  duplicate_threshold: 0.8
`)
	writeFile(t, filepath.Join(dir, "config.prod.yaml"), `
listener:
  channel_whitelist: [gamma]
processor:
  top_n: 7
`)

	cfg, err := Load(base, "prod")
	require.NoError(t, err)
	// Overlay scalar wins, untouched base values survive.
	require.Equal(t, 80, cfg.Listener.MinMessageLength)
	require.Equal(t, 0.8, cfg.Processor.DuplicateThreshold)
	require.Equal(t, 7, cfg.Processor.TopN)
	// Sequences are replaced wholesale, not concatenated.
	require.Equal(t, []string{"gamma"}, cfg.Listener.ChannelWhitelist)
}

func TestLoadRejectsUnknownKeyWithPath(t *testing.T) {
	var dir = t.TempDir()
	var base = filepath.Join(dir, "config.yaml")
	writeFile(t, base, `
processor:
  duplicate_treshold: 0.9
`)

	_, err := Load(base, "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "processor.duplicate_treshold")
	require.Contains(t, err.Error(), "unknown key")
}

func TestLoadRejectsOutOfRangeWithPath(t *testing.T) {
	var dir = t.TempDir()
	var base = filepath.Join(dir, "config.yaml")
	writeFile(t, base, `
processor:
  duplicate_threshold: 0.3
moderation:
  timeout_hours: 48
`)

	_, err := Load(base, "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "processor.duplicate_threshold")
	require.Contains(t, err.Error(), "moderation.timeout_hours")
}

func TestLoadOpenSectionsAcceptArbitraryKeys(t *testing.T) {
	var dir = t.TempDir()
	var base = filepath.Join(dir, "config.yaml")
	writeFile(t, base, `
processor:
  categories:
    wb: 5
    ozon: 5
    general: 5
llm:
  chat:
    prompts:
      select_by_categories: "custom {messages_block}"
`)

	cfg, err := Load(base, "")
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Processor.Categories["ozon"])
	require.Contains(t, cfg.LLM.Chat.Prompts["select_by_categories"], "{messages_block}")
}

func TestLoadMissingProfileOverlayUsesBase(t *testing.T) {
	var dir = t.TempDir()
	var base = filepath.Join(dir, "config.yaml")
	writeFile(t, base, "")

	cfg, err := Load(base, "nope")
	require.NoError(t, err)
	require.Equal(t, Default().Processor.ScheduleTime, cfg.Processor.ScheduleTime)
}

func TestLoadBrokenProfileOverlayFails(t *testing.T) {
	var dir = t.TempDir()
	var base = filepath.Join(dir, "config.yaml")
	writeFile(t, base, "")
	writeFile(t, filepath.Join(dir, "config.nope.yaml"), "listener: [broken")

	_, err := Load(base, "nope")
	require.Error(t, err)
	require.Contains(t, err.Error(), `profile "nope"`)
}

func TestExpandPath(t *testing.T) {
	var p = Default().Paths
	require.Equal(t, "data/news_prod.db", p.DBPath("prod"))
	require.Equal(t, "sessions/prod.session", p.SessionPath("prod"))
}

func TestScheduleTime(t *testing.T) {
	var c = Default().Processor
	c.ScheduleTime = "09:30"
	require.Equal(t, 9*60+30, c.ScheduleMinutes())

	_, err := parseScheduleTime("25:00")
	require.Error(t, err)
	_, err = parseScheduleTime("banana")
	require.Error(t, err)
}
