package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/club-treasury/internal/application/port"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9.\-_]`)

// LocalBlobStore implements port.BlobStore on the local filesystem.
// Handles are slash separated paths relative to baseDir.
type LocalBlobStore struct {
	baseDir string
	baseURL string
	logger  *zap.Logger
}

// NewLocalBlobStore creates a store rooted at baseDir. baseURL prefixes public links.
func NewLocalBlobStore(baseDir, baseURL string, logger *zap.Logger) *LocalBlobStore {
	return &LocalBlobStore{
		baseDir: baseDir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// Upload writes content under the sanitized path and returns its handle
func (s *LocalBlobStore) Upload(ctx context.Context, content []byte, relPath string) (string, error) {
	handle := SanitizePath(relPath)
	if handle == "" {
		return "", fmt.Errorf("cannot store blob: empty path")
	}

	fullPath, err := s.fullPath(handle)
	if err != nil {
		return "", err
	}

	parentDir := filepath.Dir(fullPath)
	if err := os.MkdirAll(parentDir, 0755); err != nil {
		s.logger.Error("Failed to create parent directories",
			zap.String("path", parentDir),
			zap.Error(err))
		return "", fmt.Errorf("failed to create directories: %w", err)
	}

	if err := os.WriteFile(fullPath, content, 0644); err != nil {
		s.logger.Error("Failed to write file",
			zap.String("path", fullPath),
			zap.Error(err))
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	s.logger.Debug("Blob stored",
		zap.String("handle", handle),
		zap.Int("size", len(content)))

	return handle, nil
}

// Download reads the content behind handle
func (s *LocalBlobStore) Download(ctx context.Context, handle string) ([]byte, error) {
	fullPath, err := s.fullPath(handle)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		s.logger.Error("Failed to read file",
			zap.String("path", fullPath),
			zap.Error(err))
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return content, nil
}

// PublicURL joins the configured base URL and the handle
func (s *LocalBlobStore) PublicURL(handle string) string {
	if s.baseURL == "" {
		return handle
	}
	return s.baseURL + "/" + strings.TrimPrefix(handle, "/")
}

// Delete removes the blob. Missing blobs are not an error.
func (s *LocalBlobStore) Delete(ctx context.Context, handle string) error {
	fullPath, err := s.fullPath(handle)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		s.logger.Error("Failed to delete file",
			zap.String("path", fullPath),
			zap.Error(err))
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// fullPath resolves handle and checks it stays within baseDir
func (s *LocalBlobStore) fullPath(handle string) (string, error) {
	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(handle))

	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory: %s", handle)
	}
	return absPath, nil
}

// SanitizePath keeps letters, digits, dots, hyphens and underscores in each
// segment and drops empty or parent segments
func SanitizePath(p string) string {
	var segments []string
	for _, seg := range strings.Split(strings.ReplaceAll(p, "\\", "/"), "/") {
		seg = unsafeChars.ReplaceAllString(seg, "_")
		seg = strings.Trim(seg, ".")
		if seg == "" {
			continue
		}
		segments = append(segments, seg)
	}
	return path.Join(segments...)
}

var _ port.BlobStore = (*LocalBlobStore)(nil)
