package storage

import (
	"context"
	"time"

	"github.com/poiesic/kbpipe/core"
	"github.com/poiesic/kbpipe/secret"
)

// CheckpointRepository persists the high-water mark of each definition version.
type CheckpointRepository interface {
	// LoadCheckpoint returns the checkpoint for a definition version.
	// Returns nil, nil if the version has never committed a batch.
	LoadCheckpoint(ctx context.Context, definition, version string) (*core.Checkpoint, error)

	// AdvanceCheckpoint persists checkpoint if its cursor is not behind the stored one.
	// Returns core.ErrCheckpointRegression otherwise and leaves the stored value intact.
	AdvanceCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error

	// ListCheckpoints returns the checkpoints of every version of a definition.
	ListCheckpoints(ctx context.Context, definition string) ([]*core.Checkpoint, error)

	Close() error
}

// LeaseRepository grants exclusive execution rights per definition.
type LeaseRepository interface {
	// AcquireLease takes the lease for definition. Returns ErrLeaseHeld if a
	// different holder has an unexpired lease.
	AcquireLease(ctx context.Context, definition, holder string, ttl time.Duration) (*core.Lease, error)

	// RenewLease extends a held lease. Returns ErrLeaseLost if it is no longer held.
	RenewLease(ctx context.Context, lease *core.Lease, ttl time.Duration) (*core.Lease, error)

	// ReleaseLease drops a held lease. Releasing a lease that has already
	// expired or moved to another holder returns ErrLeaseLost.
	ReleaseLease(ctx context.Context, lease *core.Lease) error

	// CurrentLease returns the active lease for definition, or ErrNotFound.
	CurrentLease(ctx context.Context, definition string) (*core.Lease, error)

	Close() error
}

// RunRepository persists run history.
type RunRepository interface {
	// SaveRun inserts or replaces a run.
	SaveRun(ctx context.Context, run *core.Run) error

	// GetRun returns a run by ID, or ErrNotFound.
	GetRun(ctx context.Context, id string) (*core.Run, error)

	// LatestRun returns the most recently created run of a definition, or ErrNotFound.
	LatestRun(ctx context.Context, definition string) (*core.Run, error)

	// ListRuns returns up to limit runs of a definition, newest first.
	ListRuns(ctx context.Context, definition string, limit int) ([]*core.Run, error)

	Close() error
}

// ConfigRepository holds the ingestion credentials of each definition the way
// the index service does: sensitive fields come back masked on read.
type ConfigRepository interface {
	LoadCredentials(ctx context.Context, definition string) (secret.Bundle, error)
	SaveCredentials(ctx context.Context, definition string, sealed *secret.Sealed) error
}

// IndexRecord is one chunk as written to the index.
type IndexRecord struct {
	ID         string
	DocumentID string
	Source     string
	Title      string
	Definition string
	Version    string
	Topic      string
	Page       int
	ChunkIndex int
	Text       string
	Vector     []float32
	ModifiedAt time.Time
	Metadata   map[string]string
}

// IndexRecords flattens an enrichment record into index records.
func IndexRecords(record *core.EnrichmentRecord) []*IndexRecord {
	out := make([]*IndexRecord, 0, len(record.Chunks))
	for _, chunk := range record.Chunks {
		out = append(out, &IndexRecord{
			ID:         chunk.ID,
			DocumentID: record.ItemID,
			Source:     record.Source,
			Title:      record.Title,
			Definition: record.Definition,
			Version:    record.Version,
			Topic:      record.Topic,
			Page:       chunk.Page,
			ChunkIndex: chunk.Index,
			Text:       chunk.Text,
			Vector:     chunk.Vector,
			ModifiedAt: record.ModifiedAt,
			Metadata:   record.Metadata,
		})
	}
	return out
}

// SourceRef returns the reference a hit on this record carries.
func (r *IndexRecord) SourceRef(collection string) core.SourceRef {
	return core.SourceRef{
		DocumentID: r.DocumentID,
		Source:     r.Source,
		Title:      r.Title,
		Collection: collection,
		Page:       r.Page,
		ChunkIndex: r.ChunkIndex,
		Metadata:   r.Metadata,
	}
}

// IndexRepository is the vector/keyword index the scheduler commits to and
// the search adapters query.
type IndexRepository interface {
	// EnsureCollection creates a collection for vectors of the given dimension
	// if it does not exist.
	EnsureCollection(ctx context.Context, collection string, dimensions int) error

	// Upsert writes records by ID. Writing the same ID twice replaces the record.
	// Returns only after the records are durable.
	Upsert(ctx context.Context, collection string, records []*IndexRecord) error

	// Search runs one combined keyword and vector query and returns hits
	// ordered by blended score, highest first.
	Search(ctx context.Context, query *core.SearchQuery) ([]*core.Hit, error)

	// Count returns the number of records in a collection.
	Count(ctx context.Context, collection string) (int, error)

	// Health reports whether the index service is reachable.
	Health(ctx context.Context) error

	Close() error
}

// ObjectStore is read-only access to corpus items.
type ObjectStore interface {
	// List returns items under prefix positioned strictly after the cursor,
	// ordered by core.Cursor.
	List(ctx context.Context, prefix string, after core.Cursor) ([]*core.CorpusItem, error)

	// Fetch returns the content of an item, or ErrNotFound.
	Fetch(ctx context.Context, id string) ([]byte, error)
}
