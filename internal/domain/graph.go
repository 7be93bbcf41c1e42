package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// GraphMapping is the stable join between a fact lineage and its projected
// graph nodes. NodeID is the fact node; EntityNodeID is the subject entity
// node the fact node hangs off. Repeat upserts through the mapping converge
// on the same nodes.
type GraphMapping struct {
	FactID       uuid.UUID `json:"fact_id"`
	NodeID       string    `json:"node_id"`
	EntityNodeID string    `json:"entity_node_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// GraphAdapter is the external graph backend. Implementations must make
// UpsertNode/UpsertEdge idempotent on their id keys.
type GraphAdapter interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	UpsertNode(ctx context.Context, id string, labels []string, props map[string]any) error
	UpsertEdge(ctx context.Context, fromID, toID, edgeType string, props map[string]any) error
	DeleteNode(ctx context.Context, id string) error
	DeleteEdge(ctx context.Context, fromID, toID, edgeType string) error
	Query(ctx context.Context, raw string) ([]map[string]any, error)
	CountNodes(ctx context.Context) (int, error)
	CountEdges(ctx context.Context) (int, error)
}
