package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/credence-ai/credence/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const taskColumns = `id, entity_type, entity_id, operation, status, attempts, last_error,
	payload, enqueued_at, next_attempt_at, claimed_at, processed_at`

// SyncTaskStore is the Postgres-backed durable sync queue.
type SyncTaskStore struct {
	db *pgxpool.Pool
}

func NewSyncTaskStore(db *pgxpool.Pool) *SyncTaskStore {
	return &SyncTaskStore{db: db}
}

// Enqueue records graph-propagation work. The partial unique index on
// pending (entity_id, operation) funnels concurrent producers through
// ON CONFLICT, which replaces the payload instead of duplicating the task.
func (s *SyncTaskStore) Enqueue(ctx context.Context, entityType domain.SyncEntityType, entityID string, op domain.SyncOperation, payload json.RawMessage) (*domain.SyncTask, error) {
	task, err := scanTask(s.db.QueryRow(ctx,
		`INSERT INTO sync_tasks (entity_type, entity_id, operation, status, payload, next_attempt_at)
		 VALUES ($1, $2, $3, 'pending', $4, NOW())
		 ON CONFLICT (entity_id, operation) WHERE status = 'pending'
		 DO UPDATE SET payload = EXCLUDED.payload
		 RETURNING `+taskColumns,
		entityType, entityID, op, payload,
	))
	if err != nil {
		return nil, fmt.Errorf("enqueue task: %w", err)
	}
	return task, nil
}

// DequeueBatch claims up to batchSize due pending tasks oldest-first and marks
// them processing. A task is skipped while an earlier task for the same entity
// is still pending or processing, which keeps per-entity FIFO across workers.
func (s *SyncTaskStore) DequeueBatch(ctx context.Context, batchSize int) ([]domain.SyncTask, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	rows, err := s.db.Query(ctx,
		`UPDATE sync_tasks SET status = 'processing', claimed_at = NOW()
		 WHERE id IN (
		     SELECT t.id FROM sync_tasks t
		     WHERE t.status = 'pending' AND t.next_attempt_at <= NOW()
		       AND NOT EXISTS (
		           SELECT 1 FROM sync_tasks e
		           WHERE e.entity_id = t.entity_id
		             AND e.status IN ('pending', 'processing')
		             AND e.enqueued_at < t.enqueued_at
		       )
		     ORDER BY t.enqueued_at
		     LIMIT $1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+taskColumns,
		batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("dequeue batch: %w", err)
	}
	defer rows.Close()

	var tasks []domain.SyncTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dequeued task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func (s *SyncTaskStore) MarkDone(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE sync_tasks SET status = 'done', processed_at = NOW() WHERE id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SyncTaskStore) MarkRetry(ctx context.Context, id uuid.UUID, attempts int, lastError string, nextAttempt time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE sync_tasks SET status = 'pending', attempts = $2, last_error = $3, next_attempt_at = $4,
		        claimed_at = NULL
		 WHERE id = $1`,
		id, attempts, lastError, nextAttempt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SyncTaskStore) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE sync_tasks SET status = 'failed', attempts = $2, last_error = $3, processed_at = NOW()
		 WHERE id = $1`,
		id, attempts, lastError,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SyncTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.SyncTask, error) {
	task, err := scanTask(s.db.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM sync_tasks WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return task, nil
}

func (s *SyncTaskStore) ListByStatus(ctx context.Context, status domain.SyncStatus, limit int) ([]domain.SyncTask, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+taskColumns+` FROM sync_tasks WHERE status = $1 ORDER BY enqueued_at DESC LIMIT $2`,
		status, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.SyncTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// Reset re-arms a failed task for replay.
func (s *SyncTaskStore) Reset(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE sync_tasks SET status = 'pending', attempts = 0, last_error = '',
		        next_attempt_at = NOW(), claimed_at = NULL, processed_at = NULL
		 WHERE id = $1 AND status = 'failed'`,
		id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReclaimStale requeues processing rows whose claim is older than olderThan.
// A worker crash strands its claims in processing, and the dequeue guard
// would then block every later task for those entities; reclaiming turns a
// dead claim back into an ordinary due task. A stale claim whose
// (entity_id, operation) already has a newer pending task is dropped
// instead: the pending task carries the fresher payload, and requeuing the
// claim would trip the pending uniqueness index.
func (s *SyncTaskStore) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin reclaim tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM sync_tasks t
		 WHERE t.status = 'processing' AND t.claimed_at <= $1
		   AND EXISTS (
		       SELECT 1 FROM sync_tasks p
		       WHERE p.entity_id = t.entity_id AND p.operation = t.operation
		         AND p.status = 'pending'
		   )`,
		cutoff,
	); err != nil {
		return 0, fmt.Errorf("drop superseded claims: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE sync_tasks SET status = 'pending', claimed_at = NULL, next_attempt_at = NOW()
		 WHERE status = 'processing' AND claimed_at <= $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale tasks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit reclaim tx: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *SyncTaskStore) CountByStatus(ctx context.Context, status domain.SyncStatus) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM sync_tasks WHERE status = $1`,
		status,
	).Scan(&count)
	return count, err
}

func scanTask(row rowScanner) (*domain.SyncTask, error) {
	t := &domain.SyncTask{}
	var lastError *string
	if err := row.Scan(&t.ID, &t.EntityType, &t.EntityID, &t.Operation, &t.Status, &t.Attempts,
		&lastError, &t.Payload, &t.EnqueuedAt, &t.NextAttemptAt, &t.ClaimedAt, &t.ProcessedAt); err != nil {
		return nil, err
	}
	if lastError != nil {
		t.LastError = *lastError
	}
	return t, nil
}
