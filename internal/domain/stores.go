package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FactStore is the versioned, append-only canonical store. Commit enforces
// the one-active-fact-per-slot invariant and the history cap.
type FactStore interface {
	// GetActiveBySlot returns the active fact for the slot, or ErrNotFound.
	GetActiveBySlot(ctx context.Context, slot Slot) (*Fact, error)

	// Commit applies a resolution transactionally. expectedVersion is the
	// version of the active fact the caller resolved against (0 when the
	// slot was empty); a mismatch returns ErrVersionConflict.
	Commit(ctx context.Context, draft *Fact, action Action, supersededIDs []uuid.UUID, expectedVersion int) (*Fact, error)

	// GetHistory returns all retained versions of a lineage, oldest first.
	GetHistory(ctx context.Context, factID uuid.UUID) ([]Fact, error)

	// RefreshConfidence updates confidence in place without a version row.
	RefreshConfidence(ctx context.Context, versionID uuid.UUID, confidence int) error

	// DeleteForEntity physically removes every fact whose subject or value
	// references the entity and returns the deleted lineages.
	DeleteForEntity(ctx context.Context, memorySpaceID, entityID string) ([]Fact, error)

	// HasActiveVersion reports whether the lineage still has an active row.
	HasActiveVersion(ctx context.Context, factID uuid.UUID) (bool, error)
}

// SyncTaskStore is the durable queue backing graph propagation.
type SyncTaskStore interface {
	// Enqueue is idempotent: an existing pending task for the same
	// (entityID, operation) has its payload replaced instead of duplicating.
	Enqueue(ctx context.Context, entityType SyncEntityType, entityID string, op SyncOperation, payload json.RawMessage) (*SyncTask, error)

	// DequeueBatch claims up to batchSize due pending tasks, skipping any
	// task whose entity has an earlier unfinished task, and marks them
	// processing. Oldest first.
	DequeueBatch(ctx context.Context, batchSize int) ([]SyncTask, error)

	MarkDone(ctx context.Context, id uuid.UUID) error

	// MarkRetry returns the task to pending with backoff; once attempts
	// exhaust the budget callers use MarkFailed instead.
	MarkRetry(ctx context.Context, id uuid.UUID, attempts int, lastError string, nextAttempt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string) error

	GetByID(ctx context.Context, id uuid.UUID) (*SyncTask, error)
	ListByStatus(ctx context.Context, status SyncStatus, limit int) ([]SyncTask, error)

	// Reset re-arms a failed task as pending for replay.
	Reset(ctx context.Context, id uuid.UUID) error

	// ReclaimStale requeues processing tasks claimed longer than olderThan
	// ago. A worker that crashed mid-batch never marks its claims, so
	// without reclaim those rows would block their entity queues forever.
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error)

	CountByStatus(ctx context.Context, status SyncStatus) (int, error)
}

// GraphMappingStore persists the fact-to-node join used for idempotent
// upserts and orphan detection.
type GraphMappingStore interface {
	Upsert(ctx context.Context, m *GraphMapping) error
	GetByFactID(ctx context.Context, factID uuid.UUID) (*GraphMapping, error)
	Delete(ctx context.Context, factID uuid.UUID) error
	ListBatch(ctx context.Context, afterFactID uuid.UUID, limit int) ([]GraphMapping, error)
	CountByEntityNode(ctx context.Context, entityNodeID string) (int, error)
}

// EmbeddingClient turns text into a vector. Optional; absence forces the
// structural-equality fallback in the resolver.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Arbiter decides between two contradicting facts. Optional; absence or
// timeout falls back to timestamp-wins.
type Arbiter interface {
	Resolve(ctx context.Context, existing, candidate *Fact) (Action, error)
}
