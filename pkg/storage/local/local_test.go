package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/datasetingest/pkg/storage/versioned"
)

func TestNewResolvesAbsoluteRoot(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	b, err := New("datasets")
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(filepath.Join(dir, "datasets"))
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(b.Root())
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.True(t, filepath.IsAbs(b.Root()))
}

func TestWriteCreatesDatasetDirectory(t *testing.T) {
	b, err := New(t.TempDir())
	require.NoError(t, err)

	loc, err := b.Write(context.Background(), "inventory_data", 1, []byte("product,price\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(b.Root(), "inventory_data", "v1.csv"), loc)

	got, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, "product,price\n", string(got))
}

func TestWriteRefusesExistingVersion(t *testing.T) {
	b, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = b.Write(ctx, "orders", 1, []byte("first\n"), nil)
	require.NoError(t, err)

	_, err = b.Write(ctx, "orders", 1, []byte("second\n"), nil)
	assert.ErrorIs(t, err, versioned.ErrVersionExists)

	got, err := os.ReadFile(filepath.Join(b.Root(), "orders", "v1.csv"))
	require.NoError(t, err)
	assert.Equal(t, "first\n", string(got))

	entries, err := os.ReadDir(filepath.Join(b.Root(), "orders"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestVersionsIgnoresForeignFiles(t *testing.T) {
	b, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	versions, err := b.Versions(ctx, "absent")
	require.NoError(t, err)
	assert.Empty(t, versions)

	dir := filepath.Join(b.Root(), "mixed")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "v9.csv"), 0o755))
	for _, name := range []string{"v2.csv", "v1.csv", ".upload-abc.tmp", "v4.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	versions, err = b.Versions(ctx, "mixed")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, versions)
}

func TestSyncDir(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, syncDir(dir))

	err := syncDir(filepath.Join(dir, "gone"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "open dataset directory")
}

func TestWriteLeavesOnlyVersionFile(t *testing.T) {
	b, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for v := 1; v <= 3; v++ {
		_, err := b.Write(ctx, "ledger", v, []byte("h\n"), nil)
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(filepath.Join(b.Root(), "ledger"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"v1.csv", "v2.csv", "v3.csv"}, names)
}
