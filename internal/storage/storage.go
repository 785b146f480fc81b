// Package storage provides the object store that holds transaction-log
// archive exports: the local filesystem in development, Cloudflare R2
// (S3-compatible) in production.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Storage is the object-store surface the archive pipeline needs. Exports
// are written once by the archive job and read back by support through the
// admin API; nothing here is ever publicly reachable.
type Storage interface {
	// Put stores data at the specified key. Fails with ErrKeyExists when
	// the key is taken and opts.Overwrite is false.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Get retrieves the object at the specified key. The caller must close
	// the returned reader. Returns ErrNotFound for a missing key.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Delete removes the object at the specified key. Deleting a missing
	// key is not an error.
	Delete(ctx context.Context, key string) error

	// URL returns a time-limited link for fetching the object out of band.
	URL(ctx context.Context, key string, expires time.Duration) (string, error)

	// Exists reports whether an object is stored at the specified key.
	Exists(ctx context.Context, key string) (bool, error)
}

// =============================================================================
// Data Types
// =============================================================================

// PutOptions configures how an object is stored.
type PutOptions struct {
	// ContentType is the MIME type of the object. If empty, it is derived
	// from the key's extension.
	ContentType string

	// Overwrite allows replacing an existing object at the same key.
	// Archive exports use unique keys and leave this false, so a key
	// collision surfaces as ErrKeyExists instead of silent data loss.
	Overwrite bool
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	ETag         string // empty for local storage
}

// =============================================================================
// Configuration Types
// =============================================================================

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	// BasePath is the root directory where objects are stored, e.g.
	// "/var/lib/studyhall/archives".
	BasePath string

	// BaseURL is the URL prefix URL() builds links under, e.g.
	// "http://localhost:8080/archives".
	BaseURL string
}

// R2Config holds configuration for Cloudflare R2 storage.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string

	// Region is required by the AWS SDK; R2 ignores it. Default: "auto".
	Region string
}

// =============================================================================
// Provider Constants
// =============================================================================

const (
	// ProviderLocal identifies the local filesystem storage provider.
	ProviderLocal = "local"

	// ProviderR2 identifies the Cloudflare R2 storage provider.
	ProviderR2 = "r2"
)

// =============================================================================
// Key Helpers
// =============================================================================

// ArchiveKey generates a storage key for a transaction-log archive export.
// Format: archives/transactions/{year}/{month}/{timestamp}-{uuid}.json
//
// The timestamp orders exports; the UUID keeps concurrent exports from
// colliding.
func ArchiveKey(exportedAt time.Time) string {
	return fmt.Sprintf("archives/transactions/%04d/%02d/%s-%s.json",
		exportedAt.Year(), int(exportedAt.Month()),
		exportedAt.Format("20060102T150405Z"), uuid.New())
}
