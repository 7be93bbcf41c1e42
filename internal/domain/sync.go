package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type SyncOperation string

const (
	SyncOpUpsert SyncOperation = "upsert"
	SyncOpDelete SyncOperation = "delete"
)

type SyncStatus string

const (
	SyncPending    SyncStatus = "pending"
	SyncProcessing SyncStatus = "processing"
	SyncDone       SyncStatus = "done"
	SyncFailed     SyncStatus = "failed"
)

func ValidSyncStatus(s string) bool {
	switch SyncStatus(s) {
	case SyncPending, SyncProcessing, SyncDone, SyncFailed:
		return true
	}
	return false
}

type SyncEntityType string

const (
	SyncEntityFact SyncEntityType = "fact"
)

// SyncTask is a durable unit of graph-propagation work. Tasks for the same
// EntityID complete in enqueue order; terminal tasks are retained for audit.
type SyncTask struct {
	ID            uuid.UUID       `json:"id"`
	EntityType    SyncEntityType  `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	Operation     SyncOperation   `json:"operation"`
	Status        SyncStatus      `json:"status"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"last_error,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	ClaimedAt     *time.Time      `json:"claimed_at,omitempty"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
}

// SyncPayload is the snapshot of a fact carried by a task. Delete tasks only
// carry the lineage id.
type SyncPayload struct {
	FactID        uuid.UUID `json:"fact_id"`
	MemorySpaceID string    `json:"memory_space_id,omitempty"`
	Subject       string    `json:"subject,omitempty"`
	Predicate     string    `json:"predicate,omitempty"`
	Value         string    `json:"value,omitempty"`
	Type          FactType  `json:"type,omitempty"`
	Confidence    int       `json:"confidence,omitempty"`
}
