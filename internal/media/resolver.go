package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ResolverConfig configures how metadata is fetched from the downloader.
type ResolverConfig struct {
	Tool         string
	SearchPrefix string
	Timeout      time.Duration
}

// Resolver turns a query or URL into TrackMetadata using the downloader's
// JSON dump mode.
type Resolver struct {
	cfg    ResolverConfig
	logger *zap.Logger
}

type ytdlInfo struct {
	Title      string  `json:"title"`
	Duration   float64 `json:"duration"`
	WebpageURL string  `json:"webpage_url"`
}

func NewResolver(cfg ResolverConfig, logger *zap.Logger) *Resolver {
	if cfg.SearchPrefix == "" {
		cfg.SearchPrefix = "ytsearch1:"
	}
	return &Resolver{cfg: cfg, logger: logger}
}

// IsURL reports whether input is an absolute http or https URL.
func IsURL(input string) bool {
	u, err := url.Parse(input)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Resolve fetches metadata for a URL directly, or for the first search result
// when input is not a URL.
func (r *Resolver) Resolve(ctx context.Context, input string) (TrackMetadata, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return TrackMetadata{}, ErrNoResults
	}
	if IsURL(input) {
		return r.fetch(ctx, input)
	}
	return r.search(ctx, input)
}

func (r *Resolver) fetch(ctx context.Context, rawURL string) (TrackMetadata, error) {
	stdout, stderr, err := r.run(ctx, rawURL)
	if err != nil {
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = err.Error()
		}
		r.logger.Warn("Metadata lookup failed", zap.String("url", rawURL), zap.Error(err))
		return TrackMetadata{}, &ToolFailureError{Message: msg}
	}

	var info ytdlInfo
	if err := json.Unmarshal(stdout, &info); err != nil || info.Title == "" {
		return TrackMetadata{}, fmt.Errorf("could not parse video JSON: %w", ErrMalformedResponse)
	}

	return TrackMetadata{
		SourceURL:       rawURL,
		Title:           info.Title,
		DurationSeconds: info.Duration,
	}, nil
}

func (r *Resolver) search(ctx context.Context, query string) (TrackMetadata, error) {
	stdout, stderr, err := r.run(ctx, r.cfg.SearchPrefix+query)
	if err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		r.logger.Warn("Search failed", zap.String("query", query), zap.Error(err))
		return TrackMetadata{}, &ToolFailureError{
			Message: fmt.Sprintf("%d %v -- %s", code, err, strings.TrimSpace(string(stderr))),
		}
	}

	if len(bytes.TrimSpace(stdout)) == 0 {
		r.logger.Info("No results found for search", zap.String("query", query))
		return TrackMetadata{}, ErrNoResults
	}

	var info ytdlInfo
	if err := json.Unmarshal(stdout, &info); err != nil {
		return TrackMetadata{}, fmt.Errorf("could not parse search JSON: %w", ErrMalformedResponse)
	}
	if info.WebpageURL == "" || info.Title == "" {
		return TrackMetadata{}, fmt.Errorf("search result has no title or URL: %w", ErrMalformedResponse)
	}

	return TrackMetadata{
		SourceURL:       info.WebpageURL,
		Title:           info.Title,
		DurationSeconds: info.Duration,
	}, nil
}

// run executes one metadata dump and collects its output.
func (r *Resolver) run(ctx context.Context, target string) ([]byte, []byte, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.cfg.Tool, "--dump-json", "--no-playlist", target)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%s timed out after %s: %w", r.cfg.Tool, r.cfg.Timeout, ctx.Err())
	}
	if err == nil && stderr.Len() > 0 {
		r.logger.Warn("Downloader wrote to stderr", zap.String("stderr", strings.TrimSpace(stderr.String())))
	}
	return stdout.Bytes(), stderr.Bytes(), err
}
