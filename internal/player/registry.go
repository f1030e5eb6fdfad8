package player

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LightQuotient/ytdlbot/internal/metrics"
)

const reapTimeout = 5 * time.Second

// DeviceFactory creates a fresh audio device for a new session.
type DeviceFactory func() Device

// Registry maps guild IDs to their playback sessions. There is at most one
// live session per guild.
type Registry struct {
	cfg       Config
	resolver  Resolver
	streamer  Streamer
	connector Connector
	newDevice DeviceFactory
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

type RegistryDeps struct {
	Resolver  Resolver
	Streamer  Streamer
	Connector Connector
	NewDevice DeviceFactory
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

func NewRegistry(cfg Config, deps RegistryDeps) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cfg:       cfg,
		resolver:  deps.Resolver,
		streamer:  deps.Streamer,
		connector: deps.Connector,
		newDevice: deps.NewDevice,
		metrics:   deps.Metrics,
		logger:    logger,
		sessions:  make(map[string]*Session),
	}
}

// Get returns the live session for guildID, if any.
func (r *Registry) Get(guildID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[guildID]
	if !ok || s.Stopped() {
		return nil, false
	}
	return s, true
}

// GetOrCreate returns the live session for guildID or creates one bound to
// channelID. Lookup and insertion happen under one lock, so concurrent
// callers for the same guild share a session.
func (r *Registry) GetOrCreate(guildID, channelID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[guildID]; ok && !s.Stopped() {
		return s
	}

	s := NewSession(guildID, channelID, r.cfg, Deps{
		Resolver:  r.resolver,
		Streamer:  r.streamer,
		Connector: r.connector,
		Device:    r.newDevice(),
		Metrics:   r.metrics,
		Logger:    r.logger,
	}, WithIdleHook(r.onIdle))
	r.sessions[guildID] = s
	r.metrics.SetActiveSessions(len(r.sessions))

	r.logger.Debug("Created playback session", zap.String("guild_id", guildID))
	return s
}

// Stop stops and forgets the session for guildID. It reports whether there
// was one.
func (r *Registry) Stop(ctx context.Context, guildID string) (bool, error) {
	r.mu.Lock()
	s, ok := r.sessions[guildID]
	if ok {
		delete(r.sessions, guildID)
		r.metrics.SetActiveSessions(len(r.sessions))
	}
	r.mu.Unlock()

	if !ok || s.Stopped() {
		return false, nil
	}
	return true, s.Stop(ctx)
}

// StopAll stops every session. It is used on shutdown.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	clear(r.sessions)
	r.metrics.SetActiveSessions(0)
	r.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// onIdle runs on the session goroutine, so the release has to happen elsewhere.
func (r *Registry) onIdle(s *Session) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), reapTimeout)
		defer cancel()
		r.ReleaseIdle(ctx, s)
	}()
}

// ReleaseIdle retires s if it is idle with nothing queued and drops it from
// the map. A session that picked up new work in the meantime is left alone.
// It reports whether s was released.
func (r *Registry) ReleaseIdle(ctx context.Context, s *Session) bool {
	retired, err := s.Retire(ctx)
	if err != nil {
		r.logger.Warn("Failed to retire idle session", zap.String("guild_id", s.GuildID()), zap.Error(err))
		return false
	}
	if !retired {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.GuildID()] == s {
		delete(r.sessions, s.GuildID())
		r.metrics.SetActiveSessions(len(r.sessions))
		r.logger.Debug("Removed idle playback session", zap.String("guild_id", s.GuildID()))
	}
	return true
}
