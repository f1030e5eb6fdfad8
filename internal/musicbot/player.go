package musicbot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/LightQuotient/ytdlbot/internal/media"
	"github.com/LightQuotient/ytdlbot/internal/player"
)

const (
	msgNotInVoice     = "You must be in a voice channel to use this command"
	msgNoMusic        = "No music is playing"
	msgWrongChannel   = "You must be in the same voice channel as the bot to use this command"
	msgNothingPlaying = "Nothing is playing"
)

const (
	outcomeOK       = "ok"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

// Command is a parsed slash command invocation.
type Command struct {
	Name           string
	ID             string
	GuildID        string
	UserID         string
	VoiceChannelID string
	Song           string
}

// dispatch runs cmd and answers through r. Panics are recovered and logged.
func (b *Bot) dispatch(ctx context.Context, cmd Command, r responder) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("Error handling interaction",
				zap.String("command", cmd.Name), zap.Any("panic", rec), zap.Stack("stack"))
			b.metrics.RecordCommand(cmd.Name, "panic")
		}
	}()

	b.logger.Info("Command",
		zap.String("command", cmd.Name),
		zap.String("guild_id", cmd.GuildID),
		zap.String("user_id", cmd.UserID))

	var outcome string
	switch cmd.Name {
	case "play":
		outcome = b.play(ctx, cmd, r)
	case "skip":
		outcome = b.skip(ctx, cmd, r)
	case "stop":
		outcome = b.stop(ctx, cmd, r)
	case "queue":
		outcome = b.queue(ctx, cmd, r)
	case "nowplaying", "np":
		outcome = b.nowPlaying(ctx, cmd, r)
	case "pause":
		outcome = b.pause(ctx, cmd, r)
	case "resume":
		outcome = b.resume(ctx, cmd, r)
	default:
		b.respond(r.Reply(fmt.Sprintf("Error: unknown command %s(%s)", cmd.Name, cmd.ID), true))
		b.metrics.RecordCommand("unknown", outcomeRejected)
		return
	}
	b.metrics.RecordCommand(cmd.Name, outcome)
}

func (b *Bot) respond(err error) {
	if err != nil {
		b.logger.Warn("Error responding to interaction", zap.Error(err))
	}
}

// activeSession applies the checks shared by every command except play: the
// caller is in a voice channel, the guild has a session and the caller is in
// its channel. On failure the caller has already been answered.
func (b *Bot) activeSession(ctx context.Context, cmd Command, r responder, requireConnected bool) (*player.Session, player.Snapshot, bool) {
	if cmd.VoiceChannelID == "" {
		b.respond(r.Reply(msgNotInVoice, true))
		return nil, player.Snapshot{}, false
	}

	s, ok := b.sessions.Get(cmd.GuildID)
	if !ok {
		b.respond(r.Reply(msgNoMusic, true))
		return nil, player.Snapshot{}, false
	}
	snap, err := s.Snapshot(ctx)
	if err != nil || (requireConnected && !snap.Connected) {
		b.respond(r.Reply(msgNoMusic, true))
		return nil, player.Snapshot{}, false
	}

	if snap.ChannelID != cmd.VoiceChannelID {
		b.respond(r.Reply(msgWrongChannel, true))
		return nil, player.Snapshot{}, false
	}
	return s, snap, true
}

// play resolves the song and queues it. A session that is retired between
// lookup and enqueue is replaced once.
func (b *Bot) play(ctx context.Context, cmd Command, r responder) string {
	if cmd.VoiceChannelID == "" {
		b.respond(r.Reply(msgNotInVoice, true))
		return outcomeRejected
	}
	if err := r.Defer(); err != nil {
		b.logger.Warn("Error acknowledging interaction", zap.Error(err))
		return outcomeError
	}

	song := strings.TrimSpace(cmd.Song)
	var (
		s   *player.Session
		res player.EnqueueResult
		err error
	)
	for attempt := 0; attempt < 2; attempt++ {
		s = b.sessions.GetOrCreate(cmd.GuildID, cmd.VoiceChannelID)
		if err = s.EnsureChannel(ctx, cmd.VoiceChannelID); err == nil {
			res, err = s.Enqueue(ctx, media.TrackRequest{RawQuery: song})
		}
		if !errors.Is(err, player.ErrSessionStopped) {
			break
		}
	}
	if err != nil {
		// Do not keep a session around that never got to play anything.
		b.sessions.ReleaseIdle(ctx, s)
	}

	switch {
	case errors.Is(err, media.ErrNoResults):
		b.logger.Info("No results found for search", zap.String("query", song))
		b.respond(r.Edit("No results found for search: " + song))
		return outcomeRejected
	case err != nil:
		b.logger.Error("Error playing song", zap.String("query", song), zap.Error(err))
		b.respond(r.Edit("Error: " + media.DisplayText(err)))
		return outcomeError
	}

	verb := "Playing"
	if res.Status == player.StatusEnqueued {
		verb = "Enqueued"
	}
	b.respond(r.Edit(fmt.Sprintf("%s %s (%s)", verb, res.Track.Title, res.Track.Duration())))
	return outcomeOK
}

func (b *Bot) skip(ctx context.Context, cmd Command, r responder) string {
	s, _, ok := b.activeSession(ctx, cmd, r, false)
	if !ok {
		return outcomeRejected
	}
	if err := r.Defer(); err != nil {
		b.logger.Warn("Error acknowledging interaction", zap.Error(err))
		return outcomeError
	}

	next, err := s.Skip(ctx)
	switch {
	case err != nil:
		b.respond(r.Edit("Error: " + media.DisplayText(err)))
		return outcomeError
	case next != nil:
		b.respond(r.Edit(fmt.Sprintf("Now playing: %s (%s)", next.Title, next.Duration())))
	default:
		b.respond(r.Edit("Nothing left in queue, stopping."))
	}
	return outcomeOK
}

func (b *Bot) stop(ctx context.Context, cmd Command, r responder) string {
	if _, _, ok := b.activeSession(ctx, cmd, r, true); !ok {
		return outcomeRejected
	}

	if _, err := b.sessions.Stop(ctx, cmd.GuildID); err != nil {
		b.logger.Warn("Error stopping playback session", zap.String("guild_id", cmd.GuildID), zap.Error(err))
	}
	b.respond(r.Reply("Music stopped", false))
	return outcomeOK
}

func (b *Bot) queue(ctx context.Context, cmd Command, r responder) string {
	_, snap, ok := b.activeSession(ctx, cmd, r, false)
	if !ok {
		return outcomeRejected
	}
	b.respond(r.ReplyEmbed(queueEmbed(snap)))
	return outcomeOK
}

func (b *Bot) nowPlaying(ctx context.Context, cmd Command, r responder) string {
	_, snap, ok := b.activeSession(ctx, cmd, r, false)
	if !ok {
		return outcomeRejected
	}
	if snap.NowPlaying == nil {
		b.respond(r.Reply(msgNothingPlaying, false))
		return outcomeOK
	}
	b.respond(r.Reply("Now playing: "+snap.NowPlaying.Title, false))
	return outcomeOK
}

func (b *Bot) pause(ctx context.Context, cmd Command, r responder) string {
	s, snap, ok := b.activeSession(ctx, cmd, r, false)
	if !ok {
		return outcomeRejected
	}

	paused, err := s.Pause(ctx)
	switch {
	case err != nil:
		b.respond(r.Reply("Error: "+media.DisplayText(err), true))
		return outcomeError
	case paused:
		b.respond(r.Reply("Playback paused.", false))
	case snap.Paused:
		b.respond(r.Reply("Playback is already paused.", true))
	default:
		b.respond(r.Reply(msgNothingPlaying, true))
	}
	return outcomeOK
}

func (b *Bot) resume(ctx context.Context, cmd Command, r responder) string {
	s, _, ok := b.activeSession(ctx, cmd, r, false)
	if !ok {
		return outcomeRejected
	}

	resumed, err := s.Resume(ctx)
	switch {
	case err != nil:
		b.respond(r.Reply("Error: "+media.DisplayText(err), true))
		return outcomeError
	case resumed:
		b.respond(r.Reply("Playback resumed.", false))
	default:
		b.respond(r.Reply("Playback is not paused.", true))
	}
	return outcomeOK
}
