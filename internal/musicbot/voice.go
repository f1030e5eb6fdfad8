package musicbot

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/LightQuotient/ytdlbot/internal/player"
)

// VoiceConnector joins voice channels through the Discord gateway.
type VoiceConnector struct {
	session *discordgo.Session
	logger  *zap.Logger
}

var _ player.Connector = (*VoiceConnector)(nil)

func NewVoiceConnector(session *discordgo.Session, logger *zap.Logger) *VoiceConnector {
	return &VoiceConnector{session: session, logger: logger}
}

type joinResult struct {
	vc  *discordgo.VoiceConnection
	err error
}

// Join joins channelID muted and deafened. ChannelVoiceJoin cannot be
// cancelled, so a join that completes after ctx is done is disconnected
// again.
func (c *VoiceConnector) Join(ctx context.Context, guildID, channelID string) (player.Connection, error) {
	done := make(chan joinResult, 1)
	go func() {
		vc, err := c.session.ChannelVoiceJoin(guildID, channelID, false, true)
		done <- joinResult{vc: vc, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if r.vc != nil {
				_ = r.vc.Disconnect()
			}
			return nil, fmt.Errorf("failed to join voice channel: %w", r.err)
		}
		return &voiceConn{vc: r.vc}, nil
	case <-ctx.Done():
		go func() {
			r := <-done
			if r.vc != nil {
				c.logger.Debug("Dropping late voice connection", zap.String("guild_id", guildID))
				_ = r.vc.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
}

// voiceConn adapts a discordgo voice connection to player.Connection.
type voiceConn struct {
	vc        *discordgo.VoiceConnection
	destroyed atomic.Bool
}

func (c *voiceConn) Status() player.ConnStatus {
	if c.destroyed.Load() {
		return player.ConnDestroyed
	}
	c.vc.RLock()
	ready := c.vc.Ready
	c.vc.RUnlock()
	if ready {
		return player.ConnReady
	}
	return player.ConnDisconnected
}

func (c *voiceConn) ChannelID() string {
	c.vc.RLock()
	defer c.vc.RUnlock()
	return c.vc.ChannelID
}

func (c *voiceConn) OpusSend() chan<- []byte {
	return c.vc.OpusSend
}

func (c *voiceConn) Speaking(speaking bool) error {
	return c.vc.Speaking(speaking)
}

func (c *voiceConn) Disconnect() error {
	if c.destroyed.Swap(true) {
		return nil
	}
	return c.vc.Disconnect()
}
