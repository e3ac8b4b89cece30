package filecollector

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/capability"
	"github.com/JakeFAU/scrape-dispatch/internal/clock"
	"github.com/JakeFAU/scrape-dispatch/internal/id"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
)

func TestCollectWritesJSONLines(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "out")
	clk := clock.NewManual(time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC))
	c, err := New(Config{BaseDir: dir, Prefix: "/pages/"}, clk, id.Func(func() (string, error) { return "batch-1", nil }), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, c.Collect(context.Background()))
	require.NoError(t, c.Collect(context.Background(), map[string]any{"a": 1}, "b"))

	data, err := os.ReadFile(filepath.Join(dir, "pages", "2024", "03", "09", "batch-1.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n\"b\"\n", string(data))
}

func TestNewRejectsBadDirectories(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	_, err := New(Config{BaseDir: file}, clock.New(), id.NewUUID(), zap.NewNop())
	require.ErrorContains(t, err, "not a directory")
	_, err = New(Config{}, clock.New(), id.NewUUID(), zap.NewNop())
	require.ErrorContains(t, err, "base_dir")
	_, err = New(Config{BaseDir: t.TempDir(), Prefix: "../up"}, clock.New(), id.NewUUID(), zap.NewNop())
	require.ErrorContains(t, err, "prefix")
}

func TestProviderBuildsCollector(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := provider.NewRegistry(nil)
	require.NoError(t, r.Register(ctx, NewProvider(zap.NewNop())))

	c, err := provider.MakeAs[capability.Collector](ctx, r, capability.CategoryCollector,
		map[string]any{"type": "file", "base_dir": t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, c.Collect(ctx, "item"))

	_, err = r.Make(ctx, capability.CategoryCollector, "file")
	require.ErrorIs(t, err, provider.ErrInvalidConfig)
}
