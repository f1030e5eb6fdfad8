// Package audio decodes downloaded media with ffmpeg and sends it to a voice
// connection as Opus frames.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/LightQuotient/ytdlbot/internal/player"
)

const (
	frameDuration = 20 * time.Millisecond
	eventBuffer   = 8
)

var (
	ErrClosed         = errors.New("audio player is closed")
	ErrAlreadyPlaying = errors.New("audio player is already playing")
)

var _ player.Device = (*Player)(nil)

type Option func(*Player)

// WithEncoderFactory replaces the Opus encoder, mainly for tests.
func WithEncoderFactory(fn func() (Encoder, error)) Option {
	return func(p *Player) {
		p.newEncoder = fn
	}
}

type playback struct {
	id     uint64
	src    io.ReadCloser
	cmd    *exec.Cmd
	paused atomic.Bool
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// interrupt unblocks the playback goroutine wherever it is waiting.
func (pb *playback) interrupt() {
	pb.once.Do(func() {
		close(pb.stop)
		_ = pb.src.Close()
		if pb.cmd.Process != nil {
			_ = pb.cmd.Process.Kill()
		}
	})
}

// Player plays one stream at a time through ffmpeg into the subscribed
// voice connection.
type Player struct {
	ffmpeg     string
	newEncoder func() (Encoder, error)
	logger     *zap.Logger
	events     chan player.DeviceEvent

	mu          sync.Mutex
	sink        player.Connection
	sinkChanged chan struct{}
	current     *playback
	nextID      uint64
	closed      bool
}

func NewPlayer(ffmpeg string, logger *zap.Logger, opts ...Option) *Player {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	p := &Player{
		ffmpeg: ffmpeg,
		newEncoder: func() (Encoder, error) {
			return NewOpusEncoder()
		},
		logger:      logger,
		events:      make(chan player.DeviceEvent, eventBuffer),
		sinkChanged: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Player) Events() <-chan player.DeviceEvent {
	return p.events
}

// Subscribe routes audio to conn. A nil conn drops frames until another
// connection is subscribed.
func (p *Player) Subscribe(conn player.Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = conn
	close(p.sinkChanged)
	p.sinkChanged = make(chan struct{})
}

func (p *Player) currentSink() (player.Connection, <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sink, p.sinkChanged
}

// Play starts decoding src in the background. The player owns src from here
// on and closes it when playback ends.
func (p *Player) Play(src io.ReadCloser, volume float64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrClosed
	}
	if p.current != nil {
		return 0, ErrAlreadyPlaying
	}

	enc, err := p.newEncoder()
	if err != nil {
		return 0, fmt.Errorf("error creating opus encoder: %w", err)
	}

	cmd := exec.Command(p.ffmpeg,
		"-i", "pipe:0",
		"-f", "s16le",
		"-ar", fmt.Sprint(SampleRate),
		"-ac", fmt.Sprint(Channels),
		"-loglevel", "warning",
		"pipe:1",
	)
	cmd.Stdin = src
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("ffmpeg stdout pipe error: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("error starting ffmpeg: %w", err)
	}

	p.nextID++
	pb := &playback{
		id:   p.nextID,
		src:  src,
		cmd:  cmd,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	p.current = pb

	go p.stream(pb, stdout, &stderr, enc, volume)
	return pb.id, nil
}

// Stop ends the current playback and waits for it to wind down.
func (p *Player) Stop() {
	p.mu.Lock()
	pb := p.current
	p.mu.Unlock()

	if pb == nil {
		return
	}
	pb.interrupt()
	<-pb.done
}

func (p *Player) Pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return false
	}
	return p.current.paused.CompareAndSwap(false, true)
}

func (p *Player) Resume() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return false
	}
	return p.current.paused.CompareAndSwap(true, false)
}

// Close stops playback and refuses further Play calls.
func (p *Player) Close() {
	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *Player) stream(pb *playback, stdout io.Reader, stderr *bytes.Buffer, enc Encoder, volume float64) {
	var (
		speakingOn player.Connection
		drained    bool
	)
	defer func() {
		p.finish(pb, stderr, speakingOn, drained)
	}()

	raw := make([]byte, frameBytes)
	pcm := make([]int16, FrameSize*Channels)

	for {
		if pb.paused.Load() {
			select {
			case <-pb.stop:
				return
			case <-time.After(frameDuration):
			}
			continue
		}

		if _, err := io.ReadFull(stdout, raw); err != nil {
			drained = errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
			if !drained {
				p.logger.Debug("Error reading ffmpeg output", zap.Error(err))
			}
			return
		}

		scaleFrame(pcm, raw, volume)
		packet, err := enc.Encode(pcm)
		if err != nil {
			p.logger.Error("Error encoding to Opus", zap.Error(err))
			return
		}

		conn, changed := p.currentSink()
		if conn == nil {
			select {
			case <-pb.stop:
				return
			case <-changed:
			case <-time.After(frameDuration):
			}
			continue
		}

		if conn != speakingOn {
			if err := conn.Speaking(true); err != nil {
				p.logger.Debug("Could not set speaking state", zap.Error(err))
			}
			speakingOn = conn
		}

		select {
		case conn.OpusSend() <- packet:
		case <-changed:
		case <-pb.stop:
			return
		}
	}
}

// finish releases everything the playback held and reports it idle. When
// ffmpeg drained its output on its own it is reaped before the source is
// closed, otherwise it is killed first.
func (p *Player) finish(pb *playback, stderr *bytes.Buffer, speakingOn player.Connection, drained bool) {
	if sink, _ := p.currentSink(); speakingOn != nil && sink == speakingOn {
		if err := speakingOn.Speaking(false); err != nil {
			p.logger.Debug("Could not clear speaking state", zap.Error(err))
		}
	}

	stopped := false
	select {
	case <-pb.stop:
		stopped = true
	default:
	}

	if !drained {
		pb.interrupt()
	}
	err := pb.cmd.Wait()
	pb.interrupt()
	if err != nil && !stopped {
		p.logger.Warn("ffmpeg exited with error",
			zap.Error(err), zap.String("stderr", strings.TrimSpace(stderr.String())))
	}

	p.mu.Lock()
	if p.current == pb {
		p.current = nil
	}
	p.mu.Unlock()

	select {
	case p.events <- player.DeviceEvent{ID: pb.id, State: player.DeviceIdle}:
	default:
		p.logger.Warn("Dropped playback event", zap.Uint64("playback_id", pb.id))
	}
	close(pb.done)
}
