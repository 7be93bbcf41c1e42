package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// GraphAdapter projects facts into graph_nodes/graph_edges tables. It is the
// default backend for the domain.GraphAdapter interface; deployments with a
// dedicated graph database swap in their own implementation.
type GraphAdapter struct {
	db *pgxpool.Pool
}

func NewGraphAdapter(db *pgxpool.Pool) *GraphAdapter {
	return &GraphAdapter{db: db}
}

func (g *GraphAdapter) Connect(ctx context.Context) error {
	return g.db.Ping(ctx)
}

func (g *GraphAdapter) Disconnect(ctx context.Context) error {
	// Pool lifecycle is owned by the caller.
	return nil
}

func (g *GraphAdapter) UpsertNode(ctx context.Context, id string, labels []string, props map[string]any) error {
	_, err := g.db.Exec(ctx,
		`INSERT INTO graph_nodes (id, labels, props)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE
		 SET labels = EXCLUDED.labels, props = EXCLUDED.props, updated_at = NOW()`,
		id, labels, props,
	)
	if err != nil {
		return fmt.Errorf("upsert node %s: %w", id, err)
	}
	return nil
}

func (g *GraphAdapter) UpsertEdge(ctx context.Context, fromID, toID, edgeType string, props map[string]any) error {
	_, err := g.db.Exec(ctx,
		`INSERT INTO graph_edges (from_id, to_id, edge_type, props)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (from_id, to_id, edge_type) DO UPDATE
		 SET props = EXCLUDED.props`,
		fromID, toID, edgeType, props,
	)
	if err != nil {
		return fmt.Errorf("upsert edge %s-[%s]->%s: %w", fromID, edgeType, toID, err)
	}
	return nil
}

func (g *GraphAdapter) DeleteNode(ctx context.Context, id string) error {
	tx, err := g.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete node tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM graph_edges WHERE from_id = $1 OR to_id = $1`, id,
	); err != nil {
		return fmt.Errorf("delete edges of node %s: %w", id, err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM graph_nodes WHERE id = $1`, id,
	); err != nil {
		return fmt.Errorf("delete node %s: %w", id, err)
	}
	return tx.Commit(ctx)
}

func (g *GraphAdapter) DeleteEdge(ctx context.Context, fromID, toID, edgeType string) error {
	_, err := g.db.Exec(ctx,
		`DELETE FROM graph_edges WHERE from_id = $1 AND to_id = $2 AND edge_type = $3`,
		fromID, toID, edgeType,
	)
	return err
}

// Query runs a raw read-only query and returns generic records.
func (g *GraphAdapter) Query(ctx context.Context, raw string) ([]map[string]any, error) {
	rows, err := g.db.Query(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("graph query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var records []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("graph query values: %w", err)
		}
		record := make(map[string]any, len(fields))
		for i, fd := range fields {
			record[string(fd.Name)] = values[i]
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (g *GraphAdapter) CountNodes(ctx context.Context) (int, error) {
	var count int
	err := g.db.QueryRow(ctx, `SELECT COUNT(*) FROM graph_nodes`).Scan(&count)
	return count, err
}

func (g *GraphAdapter) CountEdges(ctx context.Context) (int, error) {
	var count int
	err := g.db.QueryRow(ctx, `SELECT COUNT(*) FROM graph_edges`).Scan(&count)
	return count, err
}
