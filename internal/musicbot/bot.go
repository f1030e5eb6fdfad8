// Package musicbot connects the playback sessions to Discord slash commands.
package musicbot

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/LightQuotient/ytdlbot/internal/metrics"
	"github.com/LightQuotient/ytdlbot/internal/player"
)

const shutdownTimeout = 10 * time.Second

// Sessions is the subset of the session registry the bot needs.
type Sessions interface {
	Get(guildID string) (*player.Session, bool)
	GetOrCreate(guildID, channelID string) *player.Session
	Stop(ctx context.Context, guildID string) (bool, error)
	StopAll(ctx context.Context) error
	ReleaseIdle(ctx context.Context, s *player.Session) bool
}

// Bot is the Discord front end: it registers the slash commands and routes
// interactions to the guild sessions.
type Bot struct {
	session  *discordgo.Session
	sessions Sessions
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewBot(session *discordgo.Session, sessions Sessions, m *metrics.Metrics, logger *zap.Logger) *Bot {
	return &Bot{
		session:  session,
		sessions: sessions,
		metrics:  m,
		logger:   logger,
	}
}

// Run connects to the gateway and serves commands until ctx is done. All
// sessions are stopped before the gateway connection closes.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting Music Bot...")

	b.session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	removeReady := b.session.AddHandler(b.onReady)
	defer removeReady()
	removeInteraction := b.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.onInteraction(ctx, s, i)
	})
	defer removeInteraction()

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	b.logger.Info("Music Bot is now running!")

	<-ctx.Done()
	b.logger.Info("Shutting down Music Bot")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := b.sessions.StopAll(stopCtx); err != nil {
		b.logger.Warn("Failed to stop all playback sessions", zap.Error(err))
	}

	if err := b.session.Close(); err != nil {
		return fmt.Errorf("failed to close Discord session: %w", err)
	}
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.logger.Info("Logged in", zap.String("user", r.User.String()))

	if err := registerCommands(s, r.User.ID); err != nil {
		b.logger.Error("Error configuring commands", zap.Error(err))
		return
	}
	b.logger.Info("Commands configured", zap.Int("count", len(commands)))
}

func (b *Bot) onInteraction(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		b.logger.Debug("Unhandled interaction type", zap.Stringer("type", i.Type))
		return
	}

	cmd := commandFromInteraction(s, i)
	b.dispatch(ctx, cmd, &interactionResponder{session: s, interaction: i.Interaction})
}

// commandFromInteraction extracts what dispatch needs from the interaction,
// including the caller's current voice channel from the state cache.
func commandFromInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) Command {
	data := i.ApplicationCommandData()
	cmd := Command{
		Name:    data.Name,
		ID:      data.ID,
		GuildID: i.GuildID,
	}

	switch {
	case i.Member != nil && i.Member.User != nil:
		cmd.UserID = i.Member.User.ID
	case i.User != nil:
		cmd.UserID = i.User.ID
	}

	for _, opt := range data.Options {
		if opt.Name == songOption && opt.Type == discordgo.ApplicationCommandOptionString {
			cmd.Song = opt.StringValue()
		}
	}

	if cmd.GuildID != "" && cmd.UserID != "" {
		if vs, err := s.State.VoiceState(cmd.GuildID, cmd.UserID); err == nil && vs != nil {
			cmd.VoiceChannelID = vs.ChannelID
		}
	}
	return cmd
}
