package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	firstChunkSize   = 32 * 1024
	defaultKillGrace = 2 * time.Second
	defaultRateLimit = "500K"
	waitDelay        = 2 * time.Second
)

// StreamerConfig configures the download process used for playback.
type StreamerConfig struct {
	Tool           string
	RateLimit      string
	RemoveNonMusic bool
	StartTimeout   time.Duration
	// KillGrace is how long Close waits after SIGINT before sending SIGKILL.
	KillGrace time.Duration
}

// Streamer spawns the downloader and exposes its stdout as an audio stream.
type Streamer struct {
	cfg    StreamerConfig
	logger *zap.Logger
}

func NewStreamer(cfg StreamerConfig, logger *zap.Logger) *Streamer {
	if cfg.RateLimit == "" {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = defaultKillGrace
	}
	return &Streamer{cfg: cfg, logger: logger}
}

func (s *Streamer) args(sourceURL string) []string {
	args := []string{"-f", "bestaudio", "-x", "--no-playlist", "--limit-rate", s.cfg.RateLimit}
	if s.cfg.RemoveNonMusic {
		// Best effort: the downloader only post-processes files, not stdout.
		args = append(args, "--sponsorblock-remove", "music_offtopic,intro,outro")
	}
	return append(args, "-o", "-", sourceURL)
}

type chunk struct {
	data []byte
	err  error
}

// Open starts a download for sourceURL and returns once the first chunk of
// audio has arrived. Closing the returned stream terminates the process.
func (s *Streamer) Open(ctx context.Context, sourceURL string) (io.ReadCloser, error) {
	if !strings.HasPrefix(sourceURL, "http:") && !strings.HasPrefix(sourceURL, "https:") {
		return nil, ErrInvalidScheme
	}

	logger := s.logger.With(zap.String("url", sourceURL))
	cmd := exec.Command(s.cfg.Tool, s.args(sourceURL)...)
	stderr := &stderrLog{logger: logger}
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe error: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("error starting %s: %w", s.cfg.Tool, err)
	}

	st := &Stream{
		cmd:    cmd,
		stdout: stdout,
		grace:  s.cfg.KillGrace,
		logger: logger,
	}

	first := make(chan chunk, 1)
	go func() {
		buf := make([]byte, firstChunkSize)
		n, err := stdout.Read(buf)
		first <- chunk{data: buf[:n], err: err}
	}()

	var timeout <-chan time.Time
	if s.cfg.StartTimeout > 0 {
		timer := time.NewTimer(s.cfg.StartTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case c := <-first:
		if len(c.data) == 0 {
			st.terminate()
			return nil, &ProcessFailedError{
				ExitCode: cmd.ProcessState.ExitCode(),
				Stderr:   stderr.startStreaming(),
			}
		}
		st.pending = c.data
		if early := stderr.startStreaming(); early != "" {
			logger.Debug("Downloader stderr before first chunk", zap.String("stderr", early))
		}
		logger.Info("Started downloading stream")
		return st, nil
	case <-timeout:
		_ = st.Close()
		return nil, ErrStartTimeout
	case <-ctx.Done():
		_ = st.Close()
		return nil, ctx.Err()
	}
}

// Stream is the stdout of one running download. It can be read once.
type Stream struct {
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	pending []byte
	grace   time.Duration
	logger  *zap.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	waitOnce  sync.Once
	waitErr   error
	exited    atomic.Bool
}

func (st *Stream) Read(p []byte) (int, error) {
	if st.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(st.pending) > 0 {
		n := copy(p, st.pending)
		st.pending = st.pending[n:]
		return n, nil
	}

	n, err := st.stdout.Read(p)
	if errors.Is(err, io.EOF) {
		st.finish()
	}
	return n, err
}

// Close terminates the download process if it is still running. It is safe
// to call more than once and concurrently with Read.
func (st *Stream) Close() error {
	st.closeOnce.Do(func() {
		st.closed.Store(true)
		if !st.exited.Load() {
			st.logger.Info("Destroying download stream")
		}
		st.terminate()
	})
	return nil
}

// Pid returns the process id of the downloader.
func (st *Stream) Pid() int {
	return st.cmd.Process.Pid
}

func (st *Stream) wait() error {
	st.waitOnce.Do(func() {
		st.waitErr = st.cmd.Wait()
		st.exited.Store(true)
		st.logger.Debug("Download stream closed")
	})
	return st.waitErr
}

// finish runs when the stream reached EOF on its own.
func (st *Stream) finish() {
	_ = st.wait()
	if st.closed.Load() {
		return
	}
	if code := st.cmd.ProcessState.ExitCode(); code != 0 {
		st.logger.Error("Subprocess exited with code", zap.Int("code", code))
	}
}

// terminate interrupts the process, escalates to kill after the grace
// period and always reaps it.
func (st *Stream) terminate() {
	done := make(chan struct{})
	go func() {
		_ = st.wait()
		close(done)
	}()

	if st.exited.Load() {
		<-done
		return
	}

	_ = st.cmd.Process.Signal(os.Interrupt)
	select {
	case <-done:
		return
	case <-time.After(st.grace):
	}

	st.logger.Warn("Downloader ignored interrupt, killing it")
	_ = st.cmd.Process.Kill()
	<-done
}

// stderrLog keeps downloader stderr until streaming starts and logs it after.
type stderrLog struct {
	mu        sync.Mutex
	buf       strings.Builder
	streaming bool
	logger    *zap.Logger
}

func (w *stderrLog) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.streaming {
		w.buf.Write(p)
		return len(p), nil
	}

	lines := strings.FieldsFunc(string(p), func(r rune) bool { return r == '\n' || r == '\r' })
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "[download] ") {
			continue
		}
		w.logger.Warn("Error downloading data", zap.String("stderr", line))
	}
	return len(p), nil
}

// startStreaming switches to logging mode and returns what was collected so far.
func (w *stderrLog) startStreaming() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.streaming = true
	return strings.TrimSpace(w.buf.String())
}
