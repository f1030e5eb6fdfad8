// Package config reads the bot settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Files are loaded in order and never override variables that are already
// set, so the process environment wins over .env, which wins over
// .env.defaults.
var dotenvFiles = []string{".env", ".env.defaults"}

type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN,required,notEmpty"`

	YtdlName            string  `env:"YTDL_NAME" envDefault:"yt-dlp"`
	YtdlUpdateCommand   string  `env:"YTDL_UPDATE_COMMAND"`
	YtdlUpdateInterval  int     `env:"YTDL_UPDATE_INTERVAL" envDefault:"0"`
	RemoveNonMusicParts bool    `env:"REMOVE_NON_MUSIC_PARTS" envDefault:"false"`
	YtdlRateLimit       string  `env:"YTDL_RATE_LIMIT" envDefault:"500K"`
	YtdlSearchPrefix    string  `env:"YTDL_SEARCH_PREFIX" envDefault:"ytsearch1:"`
	FFmpegName          string  `env:"FFMPEG_NAME" envDefault:"ffmpeg"`
	PlaybackVolume      float64 `env:"PLAYBACK_VOLUME" envDefault:"0.2"`

	ResolveTimeout      time.Duration `env:"RESOLVE_TIMEOUT" envDefault:"60s"`
	StreamStartTimeout  time.Duration `env:"STREAM_START_TIMEOUT" envDefault:"30s"`
	VoiceConnectTimeout time.Duration `env:"VOICE_CONNECT_TIMEOUT" envDefault:"10s"`

	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	MetricsAddr string `env:"METRICS_ADDR"`
}

// UpdateInterval is the downloader self-update period. Zero disables it.
func (c *Config) UpdateInterval() time.Duration {
	return time.Duration(c.YtdlUpdateInterval) * time.Second
}

// Load reads .env files from the working directory, then parses the
// environment.
func Load() (*Config, error) {
	if err := loadDotenv(dotenvFiles...); err != nil {
		return nil, err
	}
	return Parse(env.Options{})
}

// Parse builds a Config with the given env options and validates it.
func Parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotenv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

func (c *Config) validate() error {
	if len(c.DiscordToken) < 5 {
		return errors.New("DISCORD_TOKEN is not set or too short")
	}
	if c.PlaybackVolume <= 0 || c.PlaybackVolume > 1 {
		return fmt.Errorf("PLAYBACK_VOLUME must be in (0, 1], got %v", c.PlaybackVolume)
	}
	if c.YtdlUpdateInterval < 0 {
		return fmt.Errorf("YTDL_UPDATE_INTERVAL must not be negative, got %d", c.YtdlUpdateInterval)
	}
	for name, d := range map[string]time.Duration{
		"RESOLVE_TIMEOUT":       c.ResolveTimeout,
		"STREAM_START_TIMEOUT":  c.StreamStartTimeout,
		"VOICE_CONNECT_TIMEOUT": c.VoiceConnectTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}
