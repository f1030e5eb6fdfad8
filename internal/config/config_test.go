package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseMap(vars map[string]string) (*Config, error) {
	return Parse(env.Options{Environment: vars})
}

func TestParseDefaults(t *testing.T) {
	cfg, err := parseMap(map[string]string{"DISCORD_TOKEN": "token-123"})
	require.NoError(t, err)

	assert.Equal(t, "token-123", cfg.DiscordToken)
	assert.Equal(t, "yt-dlp", cfg.YtdlName)
	assert.Empty(t, cfg.YtdlUpdateCommand)
	assert.Zero(t, cfg.UpdateInterval())
	assert.False(t, cfg.RemoveNonMusicParts)
	assert.Equal(t, "500K", cfg.YtdlRateLimit)
	assert.Equal(t, "ytsearch1:", cfg.YtdlSearchPrefix)
	assert.Equal(t, "ffmpeg", cfg.FFmpegName)
	assert.Equal(t, 0.2, cfg.PlaybackVolume)
	assert.Equal(t, 60*time.Second, cfg.ResolveTimeout)
	assert.Equal(t, 30*time.Second, cfg.StreamStartTimeout)
	assert.Equal(t, 10*time.Second, cfg.VoiceConnectTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.MetricsAddr)
}

func TestParseOverrides(t *testing.T) {
	cfg, err := parseMap(map[string]string{
		"DISCORD_TOKEN":          "token-123",
		"YTDL_NAME":              "/usr/local/bin/yt-dlp",
		"YTDL_UPDATE_COMMAND":    "yt-dlp -U",
		"YTDL_UPDATE_INTERVAL":   "3600",
		"REMOVE_NON_MUSIC_PARTS": "true",
		"PLAYBACK_VOLUME":        "0.5",
		"RESOLVE_TIMEOUT":        "5s",
		"METRICS_ADDR":           ":9090",
	})
	require.NoError(t, err)

	assert.Equal(t, "/usr/local/bin/yt-dlp", cfg.YtdlName)
	assert.Equal(t, "yt-dlp -U", cfg.YtdlUpdateCommand)
	assert.Equal(t, time.Hour, cfg.UpdateInterval())
	assert.True(t, cfg.RemoveNonMusicParts)
	assert.Equal(t, 0.5, cfg.PlaybackVolume)
	assert.Equal(t, 5*time.Second, cfg.ResolveTimeout)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"missing token", map[string]string{}},
		{"short token", map[string]string{"DISCORD_TOKEN": "abc"}},
		{"zero volume", map[string]string{"DISCORD_TOKEN": "token-123", "PLAYBACK_VOLUME": "0"}},
		{"loud volume", map[string]string{"DISCORD_TOKEN": "token-123", "PLAYBACK_VOLUME": "1.5"}},
		{"negative interval", map[string]string{"DISCORD_TOKEN": "token-123", "YTDL_UPDATE_INTERVAL": "-1"}},
		{"bad duration", map[string]string{"DISCORD_TOKEN": "token-123", "RESOLVE_TIMEOUT": "soon"}},
		{"zero timeout", map[string]string{"DISCORD_TOKEN": "token-123", "VOICE_CONNECT_TIMEOUT": "0s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseMap(tt.vars)
			assert.Error(t, err)
		})
	}
}

func TestLoadDotenvPrecedence(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, ".env")
	defaults := filepath.Join(dir, ".env.defaults")
	require.NoError(t, os.WriteFile(local, []byte("YTDLBOT_TEST_A=local\n"), 0o600))
	require.NoError(t, os.WriteFile(defaults, []byte("YTDLBOT_TEST_A=default\nYTDLBOT_TEST_B=default\n"), 0o600))

	// Register cleanup for both keys, then start from an unset state.
	t.Setenv("YTDLBOT_TEST_A", "")
	t.Setenv("YTDLBOT_TEST_B", "")
	require.NoError(t, os.Unsetenv("YTDLBOT_TEST_A"))
	require.NoError(t, os.Unsetenv("YTDLBOT_TEST_B"))

	require.NoError(t, loadDotenv(local, defaults, filepath.Join(dir, "missing")))
	assert.Equal(t, "local", os.Getenv("YTDLBOT_TEST_A"))
	assert.Equal(t, "default", os.Getenv("YTDLBOT_TEST_B"))
}

func TestLoadDotenvKeepsProcessEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("YTDLBOT_TEST_C=file\n"), 0o600))
	t.Setenv("YTDLBOT_TEST_C", "process")

	require.NoError(t, loadDotenv(path))
	assert.Equal(t, "process", os.Getenv("YTDLBOT_TEST_C"))
}
