package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ecoles-crawler/internal/storage"
	"github.com/JakeFAU/ecoles-crawler/internal/storage/memory"
)

func TestObjectPath(t *testing.T) {
	assert.Equal(t, "datasets/run-1/textual_dataset.csv", storage.ObjectPath("/datasets/", "run-1", "/tmp/out/textual_dataset.csv"))
	assert.Equal(t, "run-1/a.csv", storage.ObjectPath("", "run-1", "a.csv"))
}

func TestUploadFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.csv")
	b := filepath.Join(dir, "b.csv")
	require.NoError(t, os.WriteFile(a, []byte("x,y\n"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte("z\n"), 0o600))

	store := memory.NewBlobStore()
	uris, err := storage.UploadFiles(context.Background(), store, "datasets", "run-1", []string{a, b})
	require.NoError(t, err)
	assert.Equal(t, []string{"memory://datasets/run-1/a.csv", "memory://datasets/run-1/b.csv"}, uris)

	got, ok := store.Object("datasets/run-1/a.csv")
	require.True(t, ok)
	assert.Equal(t, "x,y\n", string(got))
}

func TestUploadFilesMissingFile(t *testing.T) {
	store := memory.NewBlobStore()
	uris, err := storage.UploadFiles(context.Background(), store, "", "run-1", []string{filepath.Join(t.TempDir(), "missing.csv")})
	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Empty(t, uris)
}
