package mapper

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mapping.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"stage_won": "C7:WON"}`), 0o644))

	table := NewTable(Defaults())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, Watch(ctx, table, path, discardLogger()))

	require.NoError(t, os.WriteFile(path, []byte(`{"stage_won": "C7:CUSTOM_WON"}`), 0o644))

	require.Eventually(t, func() bool {
		return table.Current().StageWon == "C7:CUSTOM_WON"
	}, 3*time.Second, 20*time.Millisecond, "mapping not reloaded after write")
}

func TestWatchKeepsPreviousMappingOnBadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mapping.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	table := NewTable(Defaults())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, Watch(ctx, table, path, discardLogger()))

	require.NoError(t, os.WriteFile(path, []byte(`{broken`), 0o644))

	// Give the watcher a moment to observe the write, then confirm the
	// previous mapping survived.
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, Defaults().StageWon, table.Current().StageWon)
}

func TestWatchRejectsMissingDirectory(t *testing.T) {
	table := NewTable(Defaults())
	err := Watch(context.Background(), table, filepath.Join(t.TempDir(), "nope", "mapping.json"), discardLogger())
	require.Error(t, err)
}
