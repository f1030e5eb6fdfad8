// Package player holds the per-guild playback sessions and their registry.
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/LightQuotient/ytdlbot/internal/media"
	"github.com/LightQuotient/ytdlbot/internal/metrics"
)

// DefaultVolume keeps output at a fifth of full scale.
const DefaultVolume = 0.2

var ErrSessionStopped = errors.New("playback session is stopped")

// State is the lifecycle state of a session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StatePlaying
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StatePlaying:
		return "playing"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EnqueueStatus says whether an enqueued track started right away.
type EnqueueStatus int

const (
	StatusPlaying EnqueueStatus = iota
	StatusEnqueued
)

type EnqueueResult struct {
	Track  media.TrackMetadata
	Status EnqueueStatus
	// Position is the 1-based queue position for StatusEnqueued.
	Position int
}

// Snapshot is a copy of the session state at one point in time.
type Snapshot struct {
	State      State
	ChannelID  string
	Connected  bool
	Paused     bool
	NowPlaying *media.TrackMetadata
	Queue      []media.TrackMetadata
}

type Config struct {
	Volume         float64
	ConnectTimeout time.Duration
}

type Deps struct {
	Resolver  Resolver
	Streamer  Streamer
	Connector Connector
	Device    Device
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

type Option func(*Session)

// WithIdleHook registers fn to run on the session goroutine each time the
// queue runs dry and the connection has been released. fn must not block.
func WithIdleHook(fn func(*Session)) Option {
	return func(s *Session) {
		s.onIdle = fn
	}
}

type pendingOpen struct {
	seq     uint64
	track   media.TrackMetadata
	cancel  context.CancelFunc
	skipped bool
}

type openResult struct {
	seq   uint64
	track media.TrackMetadata
	rc    io.ReadCloser
	err   error
}

// Session is the playback context of one guild. All of its state is owned by
// a single goroutine; exported methods hand work to it and wait.
type Session struct {
	guildID   string
	cfg       Config
	resolver  Resolver
	streamer  Streamer
	connector Connector
	device    Device
	metrics   *metrics.Metrics
	logger    *zap.Logger
	onIdle    func(*Session)

	ops    chan func()
	opened chan openResult
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	// Owned by the run goroutine.
	channelID  string
	conn       Connection
	queue      []media.TrackMetadata
	nowPlaying *media.TrackMetadata
	playID     uint64
	pending    *pendingOpen
	openSeq    uint64
	paused     bool
	state      State
}

func NewSession(guildID, channelID string, cfg Config, deps Deps, opts ...Option) *Session {
	if cfg.Volume <= 0 {
		cfg.Volume = DefaultVolume
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		guildID:   guildID,
		cfg:       cfg,
		resolver:  deps.Resolver,
		streamer:  deps.Streamer,
		connector: deps.Connector,
		device:    deps.Device,
		metrics:   deps.Metrics,
		logger:    logger.With(zap.String("guild_id", guildID)),
		ops:       make(chan func()),
		opened:    make(chan openResult),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		channelID: channelID,
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.run()
	return s
}

func (s *Session) GuildID() string {
	return s.guildID
}

// Stopped reports whether the session has reached its terminal state.
func (s *Session) Stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) run() {
	defer close(s.done)
	events := s.device.Events()

	for s.state != StateStopped {
		select {
		case op := <-s.ops:
			op()
		case r := <-s.opened:
			s.handleOpened(r)
		case ev := <-events:
			s.handleDeviceEvent(ev)
		}
	}
}

// do runs fn on the session goroutine and waits for it to finish.
func (s *Session) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		fn()
	}

	select {
	case s.ops <- op:
	case <-s.done:
		return ErrSessionStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// Enqueue resolves req and appends it to the queue. The track starts playing
// right away when nothing else is playing. A resolve failure leaves the
// session untouched.
func (s *Session) Enqueue(ctx context.Context, req media.TrackRequest) (EnqueueResult, error) {
	if s.Stopped() {
		return EnqueueResult{}, ErrSessionStopped
	}

	track, err := s.resolver.Resolve(ctx, req.RawQuery)
	if err != nil {
		s.metrics.RecordResolveFailure(resolveFailureReason(err))
		return EnqueueResult{}, err
	}

	var (
		res   EnqueueResult
		opErr error
	)
	if err := s.do(ctx, func() { res, opErr = s.enqueue(ctx, track) }); err != nil {
		return EnqueueResult{}, err
	}
	return res, opErr
}

func (s *Session) enqueue(ctx context.Context, track media.TrackMetadata) (EnqueueResult, error) {
	s.queue = append(s.queue, track)

	if err := s.ensureConnected(ctx); err != nil {
		s.queue = s.queue[:len(s.queue)-1]
		return EnqueueResult{}, err
	}

	if !s.busy() {
		s.advance()
		return EnqueueResult{Track: track, Status: StatusPlaying}, nil
	}

	s.logger.Info("Enqueued track", zap.String("title", track.Title), zap.Int("position", len(s.queue)))
	return EnqueueResult{Track: track, Status: StatusEnqueued, Position: len(s.queue)}, nil
}

// Skip ends the current track and returns the track that will play next, or
// nil when the queue is empty. The switch itself happens asynchronously.
func (s *Session) Skip(ctx context.Context) (*media.TrackMetadata, error) {
	var next *media.TrackMetadata
	err := s.do(ctx, func() {
		if len(s.queue) > 0 {
			front := s.queue[0]
			next = &front
		}

		switch {
		case s.pending != nil:
			s.pending.skipped = true
			s.pending.cancel()
		case s.nowPlaying != nil:
			s.device.Stop()
		}
	})
	return next, err
}

// Stop clears the queue, stops playback and releases the voice connection.
// The session cannot be used afterwards. Calling Stop again is a no-op.
func (s *Session) Stop(ctx context.Context) error {
	err := s.do(ctx, s.stop)
	if errors.Is(err, ErrSessionStopped) {
		return nil
	}
	return err
}

// Retire stops the session only if it is idle with nothing queued. It
// reports whether the session is stopped afterwards.
func (s *Session) Retire(ctx context.Context) (bool, error) {
	retired := false
	err := s.do(ctx, func() {
		if s.state == StateIdle && !s.busy() && len(s.queue) == 0 {
			s.stop()
			retired = true
		}
	})
	if errors.Is(err, ErrSessionStopped) {
		return true, nil
	}
	return retired, err
}

// EnsureChannel rebinds the session to channelID. A held connection is moved
// to the new channel.
func (s *Session) EnsureChannel(ctx context.Context, channelID string) error {
	var opErr error
	err := s.do(ctx, func() {
		if s.channelID == channelID {
			return
		}
		s.logger.Info("Switching voice channel",
			zap.String("from", s.channelID), zap.String("to", channelID))
		s.channelID = channelID
		if s.conn == nil {
			return
		}
		s.releaseConnection()
		opErr = s.ensureConnected(ctx)
	})
	if err != nil {
		return err
	}
	return opErr
}

// Pause holds the current track. It reports whether anything was paused.
func (s *Session) Pause(ctx context.Context) (bool, error) {
	paused := false
	err := s.do(ctx, func() {
		if s.nowPlaying == nil || s.paused {
			return
		}
		paused = s.device.Pause()
		s.paused = paused
	})
	return paused, err
}

// Resume continues a paused track. It reports whether anything was resumed.
func (s *Session) Resume(ctx context.Context) (bool, error) {
	resumed := false
	err := s.do(ctx, func() {
		if s.nowPlaying == nil || !s.paused {
			return
		}
		resumed = s.device.Resume()
		s.paused = !resumed
	})
	return resumed, err
}

func (s *Session) IsConnected(ctx context.Context) bool {
	snap, err := s.Snapshot(ctx)
	return err == nil && snap.Connected
}

func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() {
		snap = Snapshot{
			State:     s.state,
			ChannelID: s.channelID,
			Connected: s.isConnected(),
			Paused:    s.paused,
			Queue:     slices.Clone(s.queue),
		}
		if s.nowPlaying != nil {
			track := *s.nowPlaying
			snap.NowPlaying = &track
		}
	})
	return snap, err
}

// busy reports whether a track is playing or about to.
func (s *Session) busy() bool {
	return s.nowPlaying != nil || s.pending != nil
}

func (s *Session) isConnected() bool {
	if s.conn == nil {
		return false
	}
	switch s.conn.Status() {
	case ConnDisconnected, ConnDestroyed:
		return false
	}
	return true
}

func (s *Session) ensureConnected(ctx context.Context) error {
	if s.isConnected() {
		return nil
	}
	if s.conn != nil {
		s.releaseConnection()
	}

	prev := s.state
	s.state = StateConnecting
	defer func() { s.state = prev }()

	joinCtx := ctx
	if s.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		joinCtx, cancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		defer cancel()
	}

	s.logger.Info("Connecting to voice channel", zap.String("channel_id", s.channelID))
	conn, err := s.connector.Join(joinCtx, s.guildID, s.channelID)
	if err != nil {
		s.logger.Warn("Failed to join voice channel", zap.String("channel_id", s.channelID), zap.Error(err))
		return fmt.Errorf("could not join voice channel: %w", err)
	}

	s.conn = conn
	s.device.Subscribe(conn)
	return nil
}

func (s *Session) releaseConnection() {
	if s.conn == nil {
		return
	}
	s.device.Subscribe(nil)
	if err := s.conn.Disconnect(); err != nil {
		s.logger.Warn("Error disconnecting from voice channel", zap.Error(err))
	}
	s.conn = nil
}

// advance starts the next queued track, or releases the connection and goes
// idle when there is none.
func (s *Session) advance() {
	s.paused = false

	if len(s.queue) == 0 {
		s.nowPlaying = nil
		s.logger.Info("Queue empty, disconnecting")
		s.releaseConnection()
		s.state = StateIdle
		if s.onIdle != nil {
			s.onIdle(s)
		}
		return
	}

	track := s.queue[0]
	s.queue[0] = media.TrackMetadata{}
	s.queue = s.queue[1:]

	s.openSeq++
	ctx, cancel := context.WithCancel(s.ctx)
	s.pending = &pendingOpen{seq: s.openSeq, track: track, cancel: cancel}
	s.state = StateConnecting

	go s.open(ctx, s.openSeq, track)
}

// open runs off the session goroutine and posts its result back.
func (s *Session) open(ctx context.Context, seq uint64, track media.TrackMetadata) {
	rc, err := s.streamer.Open(ctx, track.SourceURL)
	select {
	case s.opened <- openResult{seq: seq, track: track, rc: rc, err: err}:
	case <-s.done:
		if rc != nil {
			_ = rc.Close()
		}
	}
}

func (s *Session) handleOpened(r openResult) {
	if s.pending == nil || s.pending.seq != r.seq {
		if r.rc != nil {
			_ = r.rc.Close()
		}
		return
	}

	pending := s.pending
	s.pending = nil
	pending.cancel()

	if pending.skipped {
		if r.rc != nil {
			_ = r.rc.Close()
		}
		s.logger.Info("Skipped track before it started", zap.String("title", r.track.Title))
		s.advance()
		return
	}

	if r.err != nil {
		s.logger.Error("Error playing track, skipping",
			zap.String("title", r.track.Title), zap.String("url", r.track.SourceURL), zap.Error(r.err))
		s.metrics.RecordStreamFailure()
		s.advance()
		return
	}

	id, err := s.device.Play(r.rc, s.cfg.Volume)
	if err != nil {
		_ = r.rc.Close()
		s.logger.Error("Audio device refused track, skipping", zap.String("title", r.track.Title), zap.Error(err))
		s.metrics.RecordStreamFailure()
		s.advance()
		return
	}

	track := r.track
	s.nowPlaying = &track
	s.playID = id
	s.state = StatePlaying
	s.metrics.RecordTrackStarted()
	s.logger.Info("Now playing", zap.String("title", track.Title), zap.String("duration", track.Duration()))
}

func (s *Session) handleDeviceEvent(ev DeviceEvent) {
	if ev.State != DeviceIdle {
		return
	}
	if s.nowPlaying == nil || ev.ID != s.playID {
		return
	}

	s.logger.Debug("Track finished", zap.String("title", s.nowPlaying.Title))
	s.nowPlaying = nil
	s.advance()
}

func (s *Session) stop() {
	s.queue = nil
	if s.pending != nil {
		s.pending.cancel()
		s.pending = nil
	}
	s.cancel()
	s.device.Stop()
	s.device.Close()
	s.releaseConnection()
	s.nowPlaying = nil
	s.paused = false
	s.state = StateStopped
	s.logger.Info("Playback session stopped")
}

func resolveFailureReason(err error) string {
	var toolErr *media.ToolFailureError
	switch {
	case errors.Is(err, media.ErrNoResults):
		return "no_results"
	case errors.Is(err, media.ErrMalformedResponse):
		return "malformed"
	case errors.As(err, &toolErr):
		return "tool_failure"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
