package player

import (
	"context"
	"io"

	"github.com/LightQuotient/ytdlbot/internal/media"
)

// Resolver turns a user query or URL into track metadata.
type Resolver interface {
	Resolve(ctx context.Context, input string) (media.TrackMetadata, error)
}

// Streamer opens a decoded audio byte stream for a source URL. Closing the
// stream must release the process behind it.
type Streamer interface {
	Open(ctx context.Context, sourceURL string) (io.ReadCloser, error)
}

// ConnStatus is the state of a voice connection.
type ConnStatus int

const (
	ConnReady ConnStatus = iota
	ConnConnecting
	ConnDisconnected
	ConnDestroyed
)

// Connection is a joined voice channel that accepts Opus frames.
type Connection interface {
	Status() ConnStatus
	ChannelID() string
	OpusSend() chan<- []byte
	Speaking(speaking bool) error
	Disconnect() error
}

// Connector joins voice channels.
type Connector interface {
	Join(ctx context.Context, guildID, channelID string) (Connection, error)
}

// DeviceState is reported by the audio device when playback changes.
type DeviceState int

const (
	DeviceIdle DeviceState = iota
	DevicePlaying
)

// DeviceEvent tells the session that the playback identified by ID changed state.
type DeviceEvent struct {
	ID    uint64
	State DeviceState
}

// Device plays one stream at a time into the subscribed connection. Every
// successful Play is followed by exactly one DeviceIdle event with its ID,
// whether playback ends naturally or through Stop. The device closes the
// stream it was given once playback ends.
type Device interface {
	Subscribe(conn Connection)
	Play(src io.ReadCloser, volume float64) (uint64, error)
	Stop()
	Pause() bool
	Resume() bool
	Events() <-chan DeviceEvent
	Close()
}
