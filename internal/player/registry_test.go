package player

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LightQuotient/ytdlbot/internal/media"
	"github.com/LightQuotient/ytdlbot/internal/metrics"
)

type registryHarness struct {
	registry  *Registry
	connector *fakeConnector
	metrics   *metrics.Metrics

	mu      sync.Mutex
	devices []*fakeDevice
}

func newRegistryHarness(t *testing.T) *registryHarness {
	t.Helper()
	h := &registryHarness{
		connector: &fakeConnector{},
		metrics:   metrics.New(prometheus.NewRegistry()),
	}
	h.registry = NewRegistry(Config{ConnectTimeout: time.Second}, RegistryDeps{
		Resolver:  newFakeResolver(trackA, trackB),
		Streamer:  newFakeStreamer(),
		Connector: h.connector,
		NewDevice: func() Device {
			d := newFakeDevice()
			h.mu.Lock()
			h.devices = append(h.devices, d)
			h.mu.Unlock()
			return d
		},
		Metrics: h.metrics,
		Logger:  zap.NewNop(),
	})
	t.Cleanup(func() {
		_ = h.registry.StopAll(context.Background())
	})
	return h
}

func (h *registryHarness) device(i int) *fakeDevice {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.devices[i]
}

func TestGetOrCreateSharesSessionPerGuild(t *testing.T) {
	h := newRegistryHarness(t)

	var wg sync.WaitGroup
	got := make([]*Session, 20)
	for i := range got {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i] = h.registry.GetOrCreate("guild-1", "chan-1")
		}()
	}
	wg.Wait()

	for _, s := range got {
		assert.Same(t, got[0], s)
	}
	assert.Equal(t, 1, h.registry.Len())

	other := h.registry.GetOrCreate("guild-2", "chan-9")
	assert.NotSame(t, got[0], other)
	assert.Equal(t, 2, h.registry.Len())
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.ActiveSessions))
}

func TestGetMissingSession(t *testing.T) {
	h := newRegistryHarness(t)

	_, ok := h.registry.Get("guild-1")
	assert.False(t, ok)

	created := h.registry.GetOrCreate("guild-1", "chan-1")
	s, ok := h.registry.Get("guild-1")
	require.True(t, ok)
	assert.Same(t, created, s)
}

func TestRegistryStop(t *testing.T) {
	h := newRegistryHarness(t)
	ctx := context.Background()

	s := h.registry.GetOrCreate("guild-1", "chan-1")
	_, err := s.Enqueue(ctx, media.TrackRequest{RawQuery: "A"})
	require.NoError(t, err)

	stopped, err := h.registry.Stop(ctx, "guild-1")
	require.NoError(t, err)
	assert.True(t, stopped)
	assert.True(t, s.Stopped())
	assert.Equal(t, 0, h.registry.Len())

	stopped, err = h.registry.Stop(ctx, "guild-1")
	require.NoError(t, err)
	assert.False(t, stopped)

	replacement := h.registry.GetOrCreate("guild-1", "chan-1")
	assert.NotSame(t, s, replacement)
}

func TestStoppedSessionIsReplaced(t *testing.T) {
	h := newRegistryHarness(t)

	s := h.registry.GetOrCreate("guild-1", "chan-1")
	require.NoError(t, s.Stop(context.Background()))

	_, ok := h.registry.Get("guild-1")
	assert.False(t, ok)

	replacement := h.registry.GetOrCreate("guild-1", "chan-2")
	assert.NotSame(t, s, replacement)
	assert.Equal(t, 1, h.registry.Len())
}

func TestIdleSessionIsReaped(t *testing.T) {
	h := newRegistryHarness(t)
	ctx := context.Background()

	s := h.registry.GetOrCreate("guild-1", "chan-1")
	_, err := s.Enqueue(ctx, media.TrackRequest{RawQuery: "A"})
	require.NoError(t, err)
	require.Eventually(t, h.device(0).playing, time.Second, 5*time.Millisecond)

	h.device(0).finish()

	require.Eventually(t, func() bool {
		return h.registry.Len() == 0 && s.Stopped()
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.ActiveSessions))
	assert.True(t, h.device(0).isClosed())

	conns := h.connector.joined()
	require.Len(t, conns, 1)
	assert.Equal(t, ConnDisconnected, conns[0].Status())
}

func TestStopAll(t *testing.T) {
	h := newRegistryHarness(t)

	a := h.registry.GetOrCreate("guild-1", "chan-1")
	b := h.registry.GetOrCreate("guild-2", "chan-2")

	require.NoError(t, h.registry.StopAll(context.Background()))
	assert.True(t, a.Stopped())
	assert.True(t, b.Stopped())
	assert.Equal(t, 0, h.registry.Len())
}

func TestReleaseIdle(t *testing.T) {
	h := newRegistryHarness(t)
	ctx := context.Background()

	busy := h.registry.GetOrCreate("guild-1", "chan-1")
	_, err := busy.Enqueue(ctx, media.TrackRequest{RawQuery: "A"})
	require.NoError(t, err)
	assert.False(t, h.registry.ReleaseIdle(ctx, busy))
	assert.False(t, busy.Stopped())

	idle := h.registry.GetOrCreate("guild-2", "chan-2")
	assert.True(t, h.registry.ReleaseIdle(ctx, idle))
	assert.True(t, idle.Stopped())

	_, ok := h.registry.Get("guild-2")
	assert.False(t, ok)
	assert.Equal(t, 1, h.registry.Len())
}
