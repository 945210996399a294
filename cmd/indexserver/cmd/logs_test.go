package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/codeindexmcp/internal/logging"
)

func writeLogLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	for _, line := range lines {
		_, err := f.WriteString(line + "\n")
		require.NoError(t, err)
	}
}

func TestRunLogs_TailPrintsMatchingEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	writeLogLines(t, path,
		`{"time":"2026-01-01T00:00:00Z","level":"INFO","msg":"indexed 3 files"}`,
		`{"time":"2026-01-01T00:00:01Z","level":"ERROR","msg":"plugin load failed"}`,
	)

	var out bytes.Buffer
	err := runLogs(context.Background(), &out, logsOptions{
		file:    path,
		lines:   10,
		noColor: true,
	})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "indexed 3 files")
	assert.Contains(t, out.String(), "plugin load failed")
}

func TestRunLogs_LevelFilterExcludesBelowThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	writeLogLines(t, path,
		`{"time":"2026-01-01T00:00:00Z","level":"DEBUG","msg":"loop tick"}`,
		`{"time":"2026-01-01T00:00:01Z","level":"ERROR","msg":"store unavailable"}`,
	)

	var out bytes.Buffer
	err := runLogs(context.Background(), &out, logsOptions{
		file:    path,
		lines:   10,
		level:   "warn",
		noColor: true,
	})
	require.NoError(t, err)

	assert.NotContains(t, out.String(), "loop tick")
	assert.Contains(t, out.String(), "store unavailable")
}

func TestRunLogs_NoSourceOrFileReturnsNotFoundError(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	var out bytes.Buffer
	err := runLogs(context.Background(), &out, logsOptions{
		source: logging.LogSourceServer,
		lines:  10,
	})
	assert.Error(t, err)
}

func TestRunLogs_FollowStopsWhenContextCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	writeLogLines(t, path, `{"time":"2026-01-01T00:00:00Z","level":"INFO","msg":"startup"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	errCh := make(chan error, 1)
	go func() {
		errCh <- runLogs(ctx, &out, logsOptions{
			file:    path,
			follow:  true,
			noColor: true,
		})
	}()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("follow did not stop when context was cancelled")
	}
}
