package player

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/LightQuotient/ytdlbot/internal/media"
)

type fakeResolver struct {
	mu     sync.Mutex
	tracks map[string]media.TrackMetadata
	calls  int
}

func newFakeResolver(tracks ...media.TrackMetadata) *fakeResolver {
	r := &fakeResolver{tracks: make(map[string]media.TrackMetadata)}
	for _, t := range tracks {
		r.tracks[t.Title] = t
	}
	return r
}

func (r *fakeResolver) Resolve(_ context.Context, input string) (media.TrackMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	t, ok := r.tracks[input]
	if !ok {
		return media.TrackMetadata{}, media.ErrNoResults
	}
	return t, nil
}

type fakeStream struct {
	io.Reader
	url string

	mu     sync.Mutex
	closed bool
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeStreamer struct {
	mu      sync.Mutex
	failing map[string]bool
	failAll bool
	gates   map[string]chan struct{}
	opened  []*fakeStream
}

func newFakeStreamer() *fakeStreamer {
	return &fakeStreamer{
		failing: make(map[string]bool),
		gates:   make(map[string]chan struct{}),
	}
}

// gate makes Open for url block until the returned channel is closed or the
// caller gives up.
func (f *fakeStreamer) gate(url string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[url] = ch
	return ch
}

func (f *fakeStreamer) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	f.mu.Lock()
	gate := f.gates[url]
	fail := f.failAll || f.failing[url]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, &media.ProcessFailedError{ExitCode: 1, Stderr: "ERROR: unavailable"}
	}

	s := &fakeStream{Reader: strings.NewReader("audio"), url: url}
	f.mu.Lock()
	f.opened = append(f.opened, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeStreamer) streams() []*fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeStream(nil), f.opened...)
}

type fakeConn struct {
	channelID string

	mu           sync.Mutex
	status       ConnStatus
	disconnected int
}

func (c *fakeConn) Status() ConnStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *fakeConn) ChannelID() string       { return c.channelID }
func (c *fakeConn) OpusSend() chan<- []byte { return nil }
func (c *fakeConn) Speaking(_ bool) error   { return nil }

func (c *fakeConn) setStatus(status ConnStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}

func (c *fakeConn) disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

func (c *fakeConn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = ConnDisconnected
	c.disconnected++
	return nil
}

type fakeConnector struct {
	mu    sync.Mutex
	err   error
	conns []*fakeConn
}

func (f *fakeConnector) Join(_ context.Context, _, channelID string) (Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeConn{channelID: channelID, status: ConnReady}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeConnector) joined() []*fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeConn(nil), f.conns...)
}

// fakeDevice plays nothing. Playback lasts until Stop or finish is called.
type fakeDevice struct {
	events chan DeviceEvent

	mu         sync.Mutex
	nextID     uint64
	current    uint64
	src        io.ReadCloser
	subscribed Connection
	paused     bool
	closed     bool
	playErr    error
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{events: make(chan DeviceEvent, 16)}
}

func (d *fakeDevice) Subscribe(conn Connection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribed = conn
}

func (d *fakeDevice) Play(src io.ReadCloser, _ float64) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.playErr != nil {
		return 0, d.playErr
	}
	if d.current != 0 {
		return 0, errors.New("already playing")
	}
	d.nextID++
	d.current = d.nextID
	d.src = src
	d.paused = false
	return d.current, nil
}

func (d *fakeDevice) Stop() {
	d.finish()
}

// finish ends the current playback as if the stream ran out.
func (d *fakeDevice) finish() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == 0 {
		return
	}
	_ = d.src.Close()
	d.events <- DeviceEvent{ID: d.current, State: DeviceIdle}
	d.current = 0
	d.src = nil
}

func (d *fakeDevice) Pause() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == 0 || d.paused {
		return false
	}
	d.paused = true
	return true
}

func (d *fakeDevice) Resume() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == 0 || !d.paused {
		return false
	}
	d.paused = false
	return true
}

func (d *fakeDevice) Events() <-chan DeviceEvent { return d.events }

func (d *fakeDevice) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

func (d *fakeDevice) playing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current != 0
}

func (d *fakeDevice) sink() Connection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.subscribed
}

func (d *fakeDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
