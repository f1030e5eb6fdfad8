package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Updater periodically runs the downloader's self-update command.
type Updater struct {
	command  string
	interval time.Duration
	logger   *zap.Logger
}

func NewUpdater(command string, interval time.Duration, logger *zap.Logger) *Updater {
	return &Updater{command: command, interval: interval, logger: logger}
}

// Run invokes the update command every interval until ctx is done. Failures
// are logged and never stop the loop.
func (u *Updater) Run(ctx context.Context) error {
	if strings.TrimSpace(u.command) == "" || u.interval <= 0 {
		u.logger.Info("Downloader auto-update disabled")
		return nil
	}

	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			u.logger.Debug("Downloader auto-update stopped")
			return nil
		case <-ticker.C:
			if err := u.UpdateOnce(ctx); err != nil {
				u.logger.Error("Error updating downloader", zap.String("command", u.command), zap.Error(err))
			}
		}
	}
}

// UpdateOnce runs the update command a single time.
func (u *Updater) UpdateOnce(ctx context.Context) error {
	fields := strings.Fields(u.command)
	if len(fields) == 0 {
		return errors.New("update command is empty")
	}

	u.logger.Info("Updating downloader", zap.String("command", u.command))
	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if out := strings.TrimSpace(stdout.String()); out != "" {
		u.logger.Info("Downloader update output", zap.String("stdout", out))
	}
	return nil
}
