// Package main provides the ytdlbot CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/LightQuotient/ytdlbot/internal/audio"
	"github.com/LightQuotient/ytdlbot/internal/config"
	"github.com/LightQuotient/ytdlbot/internal/media"
	"github.com/LightQuotient/ytdlbot/internal/metrics"
	"github.com/LightQuotient/ytdlbot/internal/musicbot"
	"github.com/LightQuotient/ytdlbot/internal/player"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "ytdlbot",
	Short: "Discord music bot backed by yt-dlp",
	Long: `ytdlbot joins your voice channel and plays audio from any site yt-dlp
supports, keeping a queue per server.`,
	SilenceUsage: true,
	RunE:         runBot,
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Run the downloader self-update command once",
	RunE:  runUpdate,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error), overrides LOG_LEVEL")
	rootCmd.AddCommand(updateCmd)
}

func buildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}
	return builtLogger
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("configuration error: %w", err)
	}
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	return cfg, buildLogger(level), nil
}

func runBot(_ *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("error creating Discord session: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	registry := player.NewRegistry(
		player.Config{
			Volume:         cfg.PlaybackVolume,
			ConnectTimeout: cfg.VoiceConnectTimeout,
		},
		player.RegistryDeps{
			Resolver: media.NewResolver(media.ResolverConfig{
				Tool:         cfg.YtdlName,
				SearchPrefix: cfg.YtdlSearchPrefix,
				Timeout:      cfg.ResolveTimeout,
			}, logger.Named("resolver")),
			Streamer: media.NewStreamer(media.StreamerConfig{
				Tool:           cfg.YtdlName,
				RateLimit:      cfg.YtdlRateLimit,
				RemoveNonMusic: cfg.RemoveNonMusicParts,
				StartTimeout:   cfg.StreamStartTimeout,
			}, logger.Named("streamer")),
			Connector: musicbot.NewVoiceConnector(dg, logger.Named("voice")),
			NewDevice: func() player.Device {
				return audio.NewPlayer(cfg.FFmpegName, logger.Named("audio"))
			},
			Metrics: m,
			Logger:  logger.Named("session"),
		},
	)

	bot := musicbot.NewBot(dg, registry, m, logger.Named("bot"))
	updater := media.NewUpdater(cfg.YtdlUpdateCommand, cfg.UpdateInterval(), logger.Named("updater"))

	logger.Info("Starting ytdlbot",
		zap.String("downloader", cfg.YtdlName),
		zap.Float64("volume", cfg.PlaybackVolume),
		zap.Bool("remove_non_music", cfg.RemoveNonMusicParts))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return bot.Run(gCtx)
	})

	g.Go(func() error {
		return updater.Run(gCtx)
	})

	if cfg.MetricsAddr != "" {
		server := metrics.NewServer(cfg.MetricsAddr, reg, logger.Named("metrics"))
		g.Go(func() error {
			return server.Start(gCtx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("ytdlbot stopped with error", zap.Error(err))
		return err
	}

	logger.Info("ytdlbot stopped gracefully")
	return nil
}

func runUpdate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.YtdlUpdateCommand == "" {
		return fmt.Errorf("YTDL_UPDATE_COMMAND is not set")
	}

	updater := media.NewUpdater(cfg.YtdlUpdateCommand, 0, logger.Named("updater"))
	if err := updater.UpdateOnce(cmd.Context()); err != nil {
		return err
	}
	logger.Info("Downloader updated")
	return nil
}
