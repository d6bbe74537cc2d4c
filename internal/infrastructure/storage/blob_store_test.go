package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalBlobStore_UploadDownload(t *testing.T) {
	tempDir := t.TempDir()
	store := NewLocalBlobStore(tempDir, "http://localhost:8080/files/", zap.NewNop())
	ctx := context.Background()

	t.Run("stores under nested directories", func(t *testing.T) {
		handle, err := store.Upload(ctx, []byte("PDF content"), "claims/c1/abc-receipt.pdf")
		require.NoError(t, err)
		assert.Equal(t, "claims/c1/abc-receipt.pdf", handle)
		assert.FileExists(t, filepath.Join(tempDir, "claims", "c1", "abc-receipt.pdf"))

		content, err := store.Download(ctx, handle)
		require.NoError(t, err)
		assert.Equal(t, []byte("PDF content"), content)
		assert.Equal(t, "http://localhost:8080/files/claims/c1/abc-receipt.pdf", store.PublicURL(handle))
	})

	t.Run("overwrites existing blob", func(t *testing.T) {
		_, err := store.Upload(ctx, []byte("original"), "over/file.txt")
		require.NoError(t, err)
		handle, err := store.Upload(ctx, []byte("updated"), "over/file.txt")
		require.NoError(t, err)

		content, err := store.Download(ctx, handle)
		require.NoError(t, err)
		assert.Equal(t, []byte("updated"), content)
	})

	t.Run("missing blob", func(t *testing.T) {
		_, err := store.Download(ctx, "claims/none.pdf")
		assert.Error(t, err)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		handle, err := store.Upload(ctx, []byte("x"), "tmp/x.pdf")
		require.NoError(t, err)
		require.NoError(t, store.Delete(ctx, handle))
		require.NoError(t, store.Delete(ctx, handle))
		_, err = os.Stat(filepath.Join(tempDir, "tmp", "x.pdf"))
		assert.True(t, os.IsNotExist(err))
	})
}

func TestLocalBlobStore_RejectsTraversal(t *testing.T) {
	tempDir := t.TempDir()
	store := NewLocalBlobStore(tempDir, "", zap.NewNop())
	ctx := context.Background()

	handle, err := store.Upload(ctx, []byte("x"), "../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, "etc/passwd", handle)
	assert.FileExists(t, filepath.Join(tempDir, "etc", "passwd"))

	_, err = store.Download(ctx, "../outside.txt")
	assert.Error(t, err)

	_, err = store.Upload(ctx, []byte("x"), "../..")
	assert.Error(t, err)
	assert.Equal(t, "etc/passwd", store.PublicURL("etc/passwd"))
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"claims/c1/receipt.pdf", "claims/c1/receipt.pdf"},
		{"claims\\c1\\receipt.pdf", "claims/c1/receipt.pdf"},
		{"claims/c1/reçu été.pdf", "claims/c1/re_u__t_.pdf"},
		{"/abs//double/", "abs/double"},
		{"a/../b", "a/b"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizePath(tt.in))
		})
	}
}
