package results

import (
	"context"
	"time"
)

// Page is the raw portal response for one request.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Fetcher performs one portal request for one identifier.
type Fetcher interface {
	FetchResult(ctx context.Context, identifier, examCode string) (Page, error)
}

// Parser turns one portal page into a record, or reports ErrNotFound / ErrParseIncomplete.
type Parser interface {
	Parse(identifier string, body []byte) (ResultRecord, error)
}

// ResultStore is the durable system of record.
type ResultStore interface {
	SaveRecord(ctx context.Context, record ResultRecord) error
	GetRecord(ctx context.Context, identifier string) (ResultRecord, error)
}

// Cache is the disposable read tier. Misses report found=false with a nil error.
type Cache interface {
	Get(ctx context.Context, identifier string) (ResultRecord, bool, error)
	Set(ctx context.Context, record ResultRecord) error
}

// BatchStore persists batch progress.
type BatchStore interface {
	CreateBatch(ctx context.Context, batch Batch) error
	GetBatch(ctx context.Context, batchID string) (Batch, error)
	MarkChunkStarted(ctx context.Context, batchID string) error
	RecordChunk(ctx context.Context, batchID string, index int, stats ChunkStats, chunkErr error) error
	CancelBatch(ctx context.Context, batchID string) error
}

// Queue provides enqueue/dequeue semantics for chunk tasks.
type Queue interface {
	Enqueue(ctx context.Context, task ChunkTask) error
	Dequeue(ctx context.Context) (ChunkTask, error)
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces batch IDs.
type IDGenerator interface {
	NewID() (string, error)
}
