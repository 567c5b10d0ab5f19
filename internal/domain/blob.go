package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// BlobDeleter removes objects from storage.
type BlobDeleter interface {
	Delete(ctx context.Context, path string) error
}

// OrphanJournal remembers records that could not be persisted after their
// external market was created, so a later sweep can replay them.
type OrphanJournal interface {
	Record(ctx context.Context, rec MarketRecord) error
	Pending(ctx context.Context) ([]MarketRecord, error)
	Resolve(ctx context.Context, id string) error
}

// ProofArchive keeps a public copy of every commitment outside the record
// store.
type ProofArchive interface {
	Archive(ctx context.Context, rec MarketRecord) error
}
