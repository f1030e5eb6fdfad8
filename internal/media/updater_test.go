package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestUpdateOnce(t *testing.T) {
	ok := writeScript(t, `echo "Updated yt-dlp to $1"`)
	u := NewUpdater(ok+" stable", time.Hour, zaptest.NewLogger(t))
	require.NoError(t, u.UpdateOnce(context.Background()))

	failing := writeScript(t, `echo "ERROR: no network" >&2; exit 1`)
	u = NewUpdater(failing+" -U", time.Hour, zaptest.NewLogger(t))
	err := u.UpdateOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no network")

	u = NewUpdater("   ", time.Hour, zaptest.NewLogger(t))
	assert.Error(t, u.UpdateOnce(context.Background()))
}

func TestRunDisabled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- NewUpdater("", time.Second, zaptest.NewLogger(t)).Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("disabled updater should return immediately")
	}
}

func TestRunInvokesCommandPeriodically(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "runs")
	script := writeScript(t, `echo run >> "$1"`)
	u := NewUpdater(script+" "+marker, 20*time.Millisecond, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- u.Run(ctx) }()

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(marker)
		return err == nil && strings.Count(string(data), "run") >= 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
