package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/credence-ai/credence/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

const factColumns = `id, fact_id, memory_space_id, subject, predicate, value, content, fact_type,
	confidence, version, status, superseded_by, previous_version_id, source_refs, metadata,
	created_at, updated_at`

// FactStore is the Postgres-backed versioned fact store. Version rows live in
// a single facts table; a partial unique index on the slot columns enforces
// one active row per slot.
type FactStore struct {
	db         *pgxpool.Pool
	historyCap int
}

func NewFactStore(db *pgxpool.Pool, historyCap int) *FactStore {
	if historyCap <= 0 {
		historyCap = 10
	}
	return &FactStore{db: db, historyCap: historyCap}
}

func (s *FactStore) GetActiveBySlot(ctx context.Context, slot domain.Slot) (*domain.Fact, error) {
	f, err := scanFact(s.db.QueryRow(ctx,
		`SELECT `+factColumns+`, embedding
		 FROM facts
		 WHERE memory_space_id = $1 AND subject = $2 AND predicate = $3 AND status = 'active'`,
		slot.MemorySpaceID, slot.Subject, slot.Predicate,
	), true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// Commit applies a resolution inside a transaction. The active slot row is
// locked and its version compared against expectedVersion before any write.
func (s *FactStore) Commit(ctx context.Context, draft *domain.Fact, action domain.Action, supersededIDs []uuid.UUID, expectedVersion int) (*domain.Fact, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin commit tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var curID uuid.UUID
	var curFactID uuid.UUID
	var curVersion int
	err = tx.QueryRow(ctx,
		`SELECT id, fact_id, version FROM facts
		 WHERE memory_space_id = $1 AND subject = $2 AND predicate = $3 AND status = 'active'
		 FOR UPDATE`,
		draft.MemorySpaceID, draft.Subject, draft.Predicate,
	).Scan(&curID, &curFactID, &curVersion)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lock slot: %w", err)
	}
	if curVersion != expectedVersion {
		return nil, ErrVersionConflict
	}

	switch action {
	case domain.ActionCreate:
		draft.FactID = uuid.New()
		draft.Version = 1
		draft.PreviousVersionID = nil

	case domain.ActionUpdate:
		if curID == uuid.Nil {
			return nil, ErrVersionConflict
		}
		// New version of the same lineage; the prior version leaves the slot.
		if _, err := tx.Exec(ctx,
			`UPDATE facts SET status = 'superseded', updated_at = NOW() WHERE id = $1`,
			curID,
		); err != nil {
			return nil, fmt.Errorf("deactivate prior version: %w", err)
		}
		draft.FactID = curFactID
		draft.Version = curVersion + 1
		prev := curID
		draft.PreviousVersionID = &prev

	case domain.ActionSupersede:
		draft.FactID = uuid.New()
		draft.Version = 1
		for _, id := range supersededIDs {
			tag, err := tx.Exec(ctx,
				`UPDATE facts SET status = 'superseded', superseded_by = $2, updated_at = NOW()
				 WHERE id = $1 AND status = 'active'`,
				id, draft.FactID,
			)
			if err != nil {
				return nil, fmt.Errorf("supersede fact %s: %w", id, err)
			}
			if tag.RowsAffected() == 0 {
				return nil, ErrVersionConflict
			}
		}
		// The superseding fact starts a new lineage but keeps the backward
		// chain so history spans the supersession.
		if curID != uuid.Nil {
			prev := curID
			draft.PreviousVersionID = &prev
		}

	default:
		return nil, fmt.Errorf("unsupported commit action: %s", action)
	}

	var embedding *pgvector.Vector
	if len(draft.Embedding) > 0 {
		v := pgvector.NewVector(draft.Embedding)
		embedding = &v
	}

	draft.Status = domain.StatusActive
	err = tx.QueryRow(ctx,
		`INSERT INTO facts (fact_id, memory_space_id, subject, predicate, value, content, fact_type,
		                    confidence, embedding, version, status, previous_version_id, source_refs, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'active', $11, $12, $13)
		 RETURNING id, created_at, updated_at`,
		draft.FactID, draft.MemorySpaceID, draft.Subject, draft.Predicate, draft.Value, draft.Content,
		draft.Type, draft.Confidence, embedding, draft.Version, draft.PreviousVersionID,
		draft.SourceRefs, draft.Metadata,
	).Scan(&draft.ID, &draft.CreatedAt, &draft.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert fact version: %w", err)
	}

	if err := s.pruneHistory(ctx, tx, draft.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit fact tx: %w", err)
	}
	return draft, nil
}

// pruneHistory walks the version chain from the new active row and removes
// anything deeper than the retention cap. The active row is depth 1 and is
// never eligible.
func (s *FactStore) pruneHistory(ctx context.Context, tx pgx.Tx, headID uuid.UUID) error {
	_, err := tx.Exec(ctx,
		`WITH RECURSIVE chain AS (
		     SELECT id, previous_version_id, 1 AS depth FROM facts WHERE id = $1
		     UNION ALL
		     SELECT f.id, f.previous_version_id, c.depth + 1
		     FROM facts f JOIN chain c ON f.id = c.previous_version_id
		 )
		 DELETE FROM facts WHERE id IN (SELECT id FROM chain WHERE depth > $2)`,
		headID, s.historyCap,
	)
	if err != nil {
		return fmt.Errorf("prune history: %w", err)
	}
	return nil
}

// GetHistory walks the backward version chain from the lineage's newest row
// and returns it oldest first. The chain crosses supersessions, so the
// history of a superseding fact includes what it replaced.
func (s *FactStore) GetHistory(ctx context.Context, factID uuid.UUID) ([]domain.Fact, error) {
	rows, err := s.db.Query(ctx,
		`WITH RECURSIVE chain AS (
		     SELECT `+factColumns+`, 1 AS depth
		     FROM facts WHERE fact_id = $1
		     ORDER BY version DESC LIMIT 1
		 ), walk AS (
		     SELECT * FROM chain
		     UNION ALL
		     SELECT `+prefixedFactColumns("f")+`, w.depth + 1
		     FROM facts f JOIN walk w ON f.id = w.previous_version_id
		 )
		 SELECT `+factColumns+` FROM walk
		 WHERE depth <= $2
		 ORDER BY depth DESC`,
		factID, s.historyCap,
	)
	if err != nil {
		return nil, fmt.Errorf("history query: %w", err)
	}
	defer rows.Close()

	var history []domain.Fact
	for rows.Next() {
		f, err := scanFact(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		history = append(history, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history rows: %w", err)
	}
	if len(history) == 0 {
		return nil, ErrNotFound
	}
	return history, nil
}

func (s *FactStore) RefreshConfidence(ctx context.Context, versionID uuid.UUID, confidence int) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE facts SET confidence = $1, updated_at = NOW() WHERE id = $2`,
		confidence, versionID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *FactStore) DeleteForEntity(ctx context.Context, memorySpaceID, entityID string) ([]domain.Fact, error) {
	rows, err := s.db.Query(ctx,
		`DELETE FROM facts
		 WHERE memory_space_id = $1 AND (subject = $2 OR value = $2)
		 RETURNING `+factColumns,
		memorySpaceID, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("delete for entity: %w", err)
	}
	defer rows.Close()

	var deleted []domain.Fact
	for rows.Next() {
		f, err := scanFact(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scan deleted row: %w", err)
		}
		deleted = append(deleted, *f)
	}
	return deleted, rows.Err()
}

func (s *FactStore) HasActiveVersion(ctx context.Context, factID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM facts WHERE fact_id = $1 AND status = 'active')`,
		factID,
	).Scan(&exists)
	return exists, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFact(row rowScanner, withEmbedding bool) (*domain.Fact, error) {
	f := &domain.Fact{}
	dest := []any{
		&f.ID, &f.FactID, &f.MemorySpaceID, &f.Subject, &f.Predicate, &f.Value, &f.Content,
		&f.Type, &f.Confidence, &f.Version, &f.Status, &f.SupersededBy, &f.PreviousVersionID,
		&f.SourceRefs, &f.Metadata, &f.CreatedAt, &f.UpdatedAt,
	}
	var embedding *pgvector.Vector
	if withEmbedding {
		dest = append(dest, &embedding)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if embedding != nil {
		f.Embedding = embedding.Slice()
	}
	return f, nil
}

func prefixedFactColumns(alias string) string {
	return alias + `.id, ` + alias + `.fact_id, ` + alias + `.memory_space_id, ` + alias + `.subject, ` +
		alias + `.predicate, ` + alias + `.value, ` + alias + `.content, ` + alias + `.fact_type, ` +
		alias + `.confidence, ` + alias + `.version, ` + alias + `.status, ` + alias + `.superseded_by, ` +
		alias + `.previous_version_id, ` + alias + `.source_refs, ` + alias + `.metadata, ` +
		alias + `.created_at, ` + alias + `.updated_at`
}
