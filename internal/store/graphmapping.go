package store

import (
	"context"
	"errors"

	"github.com/credence-ai/credence/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GraphMappingStore persists the join between fact lineages and their
// projected graph nodes.
type GraphMappingStore struct {
	db *pgxpool.Pool
}

func NewGraphMappingStore(db *pgxpool.Pool) *GraphMappingStore {
	return &GraphMappingStore{db: db}
}

func (s *GraphMappingStore) Upsert(ctx context.Context, m *domain.GraphMapping) error {
	return s.db.QueryRow(ctx,
		`INSERT INTO graph_mappings (fact_id, node_id, entity_node_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (fact_id) DO UPDATE
		 SET node_id = EXCLUDED.node_id, entity_node_id = EXCLUDED.entity_node_id
		 RETURNING created_at`,
		m.FactID, m.NodeID, m.EntityNodeID,
	).Scan(&m.CreatedAt)
}

func (s *GraphMappingStore) GetByFactID(ctx context.Context, factID uuid.UUID) (*domain.GraphMapping, error) {
	m := &domain.GraphMapping{}
	err := s.db.QueryRow(ctx,
		`SELECT fact_id, node_id, entity_node_id, created_at FROM graph_mappings WHERE fact_id = $1`,
		factID,
	).Scan(&m.FactID, &m.NodeID, &m.EntityNodeID, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

func (s *GraphMappingStore) Delete(ctx context.Context, factID uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM graph_mappings WHERE fact_id = $1`,
		factID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBatch pages through mappings by fact_id for bounded orphan sweeps.
func (s *GraphMappingStore) ListBatch(ctx context.Context, afterFactID uuid.UUID, limit int) ([]domain.GraphMapping, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.Query(ctx,
		`SELECT fact_id, node_id, entity_node_id, created_at FROM graph_mappings
		 WHERE fact_id > $1 ORDER BY fact_id LIMIT $2`,
		afterFactID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []domain.GraphMapping
	for rows.Next() {
		var m domain.GraphMapping
		if err := rows.Scan(&m.FactID, &m.NodeID, &m.EntityNodeID, &m.CreatedAt); err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

func (s *GraphMappingStore) CountByEntityNode(ctx context.Context, entityNodeID string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM graph_mappings WHERE entity_node_id = $1`,
		entityNodeID,
	).Scan(&count)
	return count, err
}
