package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/credence-ai/credence/internal/domain"
	"github.com/credence-ai/credence/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// mockFactStore implements domain.FactStore with the same commit semantics as
// the Postgres store: one active row per slot, optimistic version check,
// backward-linked version chain, history cap.
type mockFactStore struct {
	mu         sync.Mutex
	rows       map[uuid.UUID]*domain.Fact
	active     map[domain.Slot]uuid.UUID
	historyCap int

	commitErr error
}

func newMockFactStore() *mockFactStore {
	return &mockFactStore{
		rows:       make(map[uuid.UUID]*domain.Fact),
		active:     make(map[domain.Slot]uuid.UUID),
		historyCap: 10,
	}
}

func (m *mockFactStore) GetActiveBySlot(ctx context.Context, slot domain.Slot) (*domain.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.active[slot]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m.rows[id]
	return &cp, nil
}

func (m *mockFactStore) Commit(ctx context.Context, draft *domain.Fact, action domain.Action, supersededIDs []uuid.UUID, expectedVersion int) (*domain.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.commitErr != nil {
		return nil, m.commitErr
	}

	slot := draft.Slot()
	var cur *domain.Fact
	if id, ok := m.active[slot]; ok {
		cur = m.rows[id]
	}
	curVersion := 0
	if cur != nil {
		curVersion = cur.Version
	}
	if curVersion != expectedVersion {
		return nil, store.ErrVersionConflict
	}

	now := time.Now()
	row := *draft
	row.ID = uuid.New()
	row.Status = domain.StatusActive
	row.CreatedAt = now
	row.UpdatedAt = now

	switch action {
	case domain.ActionCreate:
		row.FactID = uuid.New()
		row.Version = 1

	case domain.ActionUpdate:
		if cur == nil {
			return nil, store.ErrVersionConflict
		}
		cur.Status = domain.StatusSuperseded
		row.FactID = cur.FactID
		row.Version = cur.Version + 1
		row.PreviousVersionID = &cur.ID

	case domain.ActionSupersede:
		if cur == nil {
			return nil, store.ErrVersionConflict
		}
		row.FactID = uuid.New()
		row.Version = 1
		row.PreviousVersionID = &cur.ID
		marked := 0
		for _, id := range supersededIDs {
			old, ok := m.rows[id]
			if !ok || old.Status != domain.StatusActive {
				continue
			}
			old.Status = domain.StatusSuperseded
			old.SupersededBy = &row.FactID
			marked++
		}
		if marked == 0 {
			return nil, store.ErrVersionConflict
		}

	default:
		return nil, fmt.Errorf("unknown action: %s", action)
	}

	m.rows[row.ID] = &row
	m.active[slot] = row.ID
	m.prune(&row)

	cp := row
	return &cp, nil
}

func (m *mockFactStore) prune(head *domain.Fact) {
	depth := 1
	cur := head
	for cur.PreviousVersionID != nil {
		next, ok := m.rows[*cur.PreviousVersionID]
		if !ok {
			break
		}
		depth++
		if depth > m.historyCap {
			delete(m.rows, next.ID)
			cur.PreviousVersionID = nil
			break
		}
		cur = next
	}
}

func (m *mockFactStore) chainHead(factID uuid.UUID) *domain.Fact {
	var head *domain.Fact
	for _, row := range m.rows {
		if row.FactID != factID {
			continue
		}
		if head == nil || row.Version > head.Version {
			head = row
		}
	}
	return head
}

func (m *mockFactStore) GetHistory(ctx context.Context, factID uuid.UUID) ([]domain.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	head := m.chainHead(factID)
	if head == nil {
		return nil, store.ErrNotFound
	}
	var chain []domain.Fact
	for cur := head; cur != nil; {
		chain = append([]domain.Fact{*cur}, chain...)
		if cur.PreviousVersionID == nil {
			break
		}
		cur = m.rows[*cur.PreviousVersionID]
	}
	return chain, nil
}

func (m *mockFactStore) RefreshConfidence(ctx context.Context, versionID uuid.UUID, confidence int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[versionID]
	if !ok {
		return store.ErrNotFound
	}
	row.Confidence = confidence
	row.UpdatedAt = time.Now()
	return nil
}

func (m *mockFactStore) DeleteForEntity(ctx context.Context, memorySpaceID, entityID string) ([]domain.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted []domain.Fact
	for id, row := range m.rows {
		if row.MemorySpaceID != memorySpaceID {
			continue
		}
		if row.Subject != entityID && row.Value != entityID {
			continue
		}
		deleted = append(deleted, *row)
		delete(m.rows, id)
		if m.active[row.Slot()] == id {
			delete(m.active, row.Slot())
		}
	}
	return deleted, nil
}

func (m *mockFactStore) HasActiveVersion(ctx context.Context, factID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.FactID == factID && row.Status == domain.StatusActive {
			return true, nil
		}
	}
	return false, nil
}

// mockTaskStore implements domain.SyncTaskStore in memory, preserving enqueue
// order and the per-entity dequeue guard.
type mockTaskStore struct {
	mu    sync.Mutex
	tasks []*domain.SyncTask
}

func newMockTaskStore() *mockTaskStore {
	return &mockTaskStore{}
}

func (m *mockTaskStore) Enqueue(ctx context.Context, entityType domain.SyncEntityType, entityID string, op domain.SyncOperation, payload json.RawMessage) (*domain.SyncTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.Status == domain.SyncPending && t.EntityID == entityID && t.Operation == op {
			t.Payload = payload
			cp := *t
			return &cp, nil
		}
	}
	task := &domain.SyncTask{
		ID:            uuid.New(),
		EntityType:    entityType,
		EntityID:      entityID,
		Operation:     op,
		Status:        domain.SyncPending,
		Payload:       payload,
		EnqueuedAt:    time.Now(),
		NextAttemptAt: time.Now(),
	}
	m.tasks = append(m.tasks, task)
	cp := *task
	return &cp, nil
}

func (m *mockTaskStore) DequeueBatch(ctx context.Context, batchSize int) ([]domain.SyncTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	blocked := make(map[string]bool)
	var claimed []domain.SyncTask
	for _, t := range m.tasks {
		if t.Status == domain.SyncPending || t.Status == domain.SyncProcessing {
			if blocked[t.EntityID] {
				continue
			}
			if t.Status == domain.SyncProcessing || t.NextAttemptAt.After(now) {
				blocked[t.EntityID] = true
				continue
			}
			t.Status = domain.SyncProcessing
			claimedAt := now
			t.ClaimedAt = &claimedAt
			claimed = append(claimed, *t)
			blocked[t.EntityID] = true
			if len(claimed) >= batchSize {
				break
			}
		}
	}
	return claimed, nil
}

func (m *mockTaskStore) find(id uuid.UUID) *domain.SyncTask {
	for _, t := range m.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (m *mockTaskStore) MarkDone(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.find(id)
	if t == nil {
		return store.ErrNotFound
	}
	now := time.Now()
	t.Status = domain.SyncDone
	t.ProcessedAt = &now
	return nil
}

func (m *mockTaskStore) MarkRetry(ctx context.Context, id uuid.UUID, attempts int, lastError string, nextAttempt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.find(id)
	if t == nil {
		return store.ErrNotFound
	}
	t.Status = domain.SyncPending
	t.Attempts = attempts
	t.LastError = lastError
	t.NextAttemptAt = nextAttempt
	t.ClaimedAt = nil
	return nil
}

func (m *mockTaskStore) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.find(id)
	if t == nil {
		return store.ErrNotFound
	}
	now := time.Now()
	t.Status = domain.SyncFailed
	t.Attempts = attempts
	t.LastError = lastError
	t.ProcessedAt = &now
	return nil
}

func (m *mockTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.SyncTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.find(id)
	if t == nil {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockTaskStore) ListByStatus(ctx context.Context, status domain.SyncStatus, limit int) ([]domain.SyncTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SyncTask
	for _, t := range m.tasks {
		if t.Status != status {
			continue
		}
		out = append(out, *t)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *mockTaskStore) Reset(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.find(id)
	if t == nil || t.Status != domain.SyncFailed {
		return store.ErrNotFound
	}
	t.Status = domain.SyncPending
	t.Attempts = 0
	t.LastError = ""
	t.NextAttemptAt = time.Now()
	t.ClaimedAt = nil
	t.ProcessedAt = nil
	return nil
}

func (m *mockTaskStore) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)

	hasPending := func(entityID string, op domain.SyncOperation) bool {
		for _, t := range m.tasks {
			if t.Status == domain.SyncPending && t.EntityID == entityID && t.Operation == op {
				return true
			}
		}
		return false
	}

	reclaimed := 0
	kept := m.tasks[:0]
	for _, t := range m.tasks {
		stale := t.Status == domain.SyncProcessing && t.ClaimedAt != nil && !t.ClaimedAt.After(cutoff)
		if stale && hasPending(t.EntityID, t.Operation) {
			// A newer pending task supersedes this claim; drop it so the
			// pending uniqueness guarantee holds after requeue.
			continue
		}
		if stale {
			t.Status = domain.SyncPending
			t.ClaimedAt = nil
			t.NextAttemptAt = time.Now()
			reclaimed++
		}
		kept = append(kept, t)
	}
	m.tasks = kept
	return reclaimed, nil
}

func (m *mockTaskStore) CountByStatus(ctx context.Context, status domain.SyncStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, t := range m.tasks {
		if t.Status == status {
			count++
		}
	}
	return count, nil
}

// mockMappingStore implements domain.GraphMappingStore in memory.
type mockMappingStore struct {
	mu       sync.Mutex
	mappings map[uuid.UUID]*domain.GraphMapping
}

func newMockMappingStore() *mockMappingStore {
	return &mockMappingStore{mappings: make(map[uuid.UUID]*domain.GraphMapping)}
}

func (m *mockMappingStore) Upsert(ctx context.Context, mapping *domain.GraphMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *mapping
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.mappings[cp.FactID] = &cp
	return nil
}

func (m *mockMappingStore) GetByFactID(ctx context.Context, factID uuid.UUID) (*domain.GraphMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mapping, ok := m.mappings[factID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *mapping
	return &cp, nil
}

func (m *mockMappingStore) Delete(ctx context.Context, factID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.mappings[factID]; !ok {
		return store.ErrNotFound
	}
	delete(m.mappings, factID)
	return nil
}

func (m *mockMappingStore) ListBatch(ctx context.Context, afterFactID uuid.UUID, limit int) ([]domain.GraphMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.GraphMapping
	for _, mapping := range m.mappings {
		if afterFactID != uuid.Nil && mapping.FactID.String() <= afterFactID.String() {
			continue
		}
		out = append(out, *mapping)
	}
	// keyset order by fact id, matching the SQL store
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].FactID.String() < out[i].FactID.String() {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockMappingStore) CountByEntityNode(ctx context.Context, entityNodeID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, mapping := range m.mappings {
		if mapping.EntityNodeID == entityNodeID {
			count++
		}
	}
	return count, nil
}

// mockGraphAdapter implements domain.GraphAdapter in memory with failure
// injection and an operation log for ordering assertions.
type mockGraphAdapter struct {
	mu     sync.Mutex
	nodes  map[string]map[string]any
	labels map[string][]string
	edges  map[string]map[string]any

	// failUpserts makes the next N UpsertNode calls fail.
	failUpserts int

	opLog []string
}

func newMockGraphAdapter() *mockGraphAdapter {
	return &mockGraphAdapter{
		nodes:  make(map[string]map[string]any),
		labels: make(map[string][]string),
		edges:  make(map[string]map[string]any),
	}
}

func (g *mockGraphAdapter) Connect(ctx context.Context) error    { return nil }
func (g *mockGraphAdapter) Disconnect(ctx context.Context) error { return nil }

func (g *mockGraphAdapter) UpsertNode(ctx context.Context, id string, labels []string, props map[string]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failUpserts > 0 {
		g.failUpserts--
		return errors.New("graph backend unavailable")
	}
	g.nodes[id] = props
	g.labels[id] = labels
	g.opLog = append(g.opLog, "upsert:"+id)
	return nil
}

func edgeKey(fromID, toID, edgeType string) string {
	return fromID + "|" + edgeType + "|" + toID
}

func (g *mockGraphAdapter) UpsertEdge(ctx context.Context, fromID, toID, edgeType string, props map[string]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges[edgeKey(fromID, toID, edgeType)] = props
	return nil
}

func (g *mockGraphAdapter) DeleteNode(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.nodes, id)
	delete(g.labels, id)
	for key := range g.edges {
		parts := strings.SplitN(key, "|", 3)
		if parts[0] == id || parts[2] == id {
			delete(g.edges, key)
		}
	}
	g.opLog = append(g.opLog, "delete:"+id)
	return nil
}

func (g *mockGraphAdapter) DeleteEdge(ctx context.Context, fromID, toID, edgeType string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.edges, edgeKey(fromID, toID, edgeType))
	return nil
}

func (g *mockGraphAdapter) Query(ctx context.Context, raw string) ([]map[string]any, error) {
	return nil, nil
}

func (g *mockGraphAdapter) CountNodes(ctx context.Context) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes), nil
}

func (g *mockGraphAdapter) CountEdges(ctx context.Context) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.edges), nil
}

func (g *mockGraphAdapter) hasNode(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.nodes[id]
	return ok
}

func (g *mockGraphAdapter) operations() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.opLog))
	copy(out, g.opLog)
	return out
}
