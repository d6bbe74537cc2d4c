package port

import "context"

// BlobStore stores document content
type BlobStore interface {
	// Upload stores content under path and returns an opaque handle
	Upload(ctx context.Context, content []byte, path string) (string, error)

	// Download returns the content behind a handle
	Download(ctx context.Context, handle string) ([]byte, error)

	// PublicURL returns a URL a member can open
	PublicURL(handle string) string

	// Delete removes the content behind a handle. Missing content is not an error.
	Delete(ctx context.Context, handle string) error
}
