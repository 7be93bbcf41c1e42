package service

import (
	"context"
	"errors"
	"testing"

	"github.com/credence-ai/credence/internal/domain"
	"github.com/credence-ai/credence/internal/embedding"
	"github.com/credence-ai/credence/internal/store"
	"github.com/google/uuid"
)

func setupFactTest() (*FactService, *mockFactStore, *mockTaskStore) {
	factStore := newMockFactStore()
	taskStore := newMockTaskStore()
	resolver := NewConflictResolver(nil, testLogger())
	svc := NewFactService(factStore, taskStore, resolver, nil, testLogger())
	return svc, factStore, taskStore
}

func TestFactService_Store_Create(t *testing.T) {
	svc, factStore, taskStore := setupFactTest()
	ctx := context.Background()

	res, err := svc.Store(ctx, candidateFixture())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Action != domain.ActionCreate {
		t.Fatalf("expected CREATE, got %s", res.Action)
	}
	if res.Fact.Version != 1 {
		t.Fatalf("expected version 1, got %d", res.Fact.Version)
	}
	if res.Fact.FactID == uuid.Nil {
		t.Fatal("expected lineage id to be assigned")
	}

	active, err := factStore.GetActiveBySlot(ctx, res.Fact.Slot())
	if err != nil {
		t.Fatalf("expected active fact in slot, got %v", err)
	}
	if active.Value != "blue" {
		t.Fatalf("expected stored value 'blue', got %q", active.Value)
	}

	pending, _ := taskStore.ListByStatus(ctx, domain.SyncPending, 10)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending sync task, got %d", len(pending))
	}
	if pending[0].Operation != domain.SyncOpUpsert {
		t.Fatalf("expected upsert task, got %s", pending[0].Operation)
	}
	if pending[0].EntityID != res.Fact.FactID.String() {
		t.Fatalf("expected task keyed by lineage id, got %s", pending[0].EntityID)
	}
}

func TestFactService_Store_Duplicate_BumpsConfidence(t *testing.T) {
	svc, factStore, taskStore := setupFactTest()
	ctx := context.Background()

	first, err := svc.Store(ctx, candidateFixture())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	dup := candidateFixture()
	dup.Confidence = 95
	res, err := svc.Store(ctx, dup)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Action != domain.ActionNone {
		t.Fatalf("expected NONE for duplicate, got %s", res.Action)
	}
	if res.Fact.FactID != first.Fact.FactID {
		t.Fatal("duplicate must resolve against the original lineage")
	}
	if res.Fact.Confidence != 95 {
		t.Fatalf("expected confidence bumped to 95, got %d", res.Fact.Confidence)
	}

	active, _ := factStore.GetActiveBySlot(ctx, first.Fact.Slot())
	if active.Version != 1 {
		t.Fatalf("duplicate must not mint a version, got version %d", active.Version)
	}
	if active.Confidence != 95 {
		t.Fatalf("expected persisted confidence 95, got %d", active.Confidence)
	}

	// NONE writes no version, so it queues no graph work either.
	pending, _ := taskStore.ListByStatus(ctx, domain.SyncPending, 10)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending sync task, got %d", len(pending))
	}
}

func TestFactService_Store_Update_NewVersionSameLineage(t *testing.T) {
	svc, _, _ := setupFactTest()
	ctx := context.Background()

	first, _ := svc.Store(ctx, candidateFixture())

	refined := candidateFixture()
	refined.Value = "dark blue"
	res, err := svc.Store(ctx, refined)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Action != domain.ActionUpdate {
		t.Fatalf("expected UPDATE, got %s", res.Action)
	}
	if res.Fact.FactID != first.Fact.FactID {
		t.Fatal("update must stay on the same lineage")
	}
	if res.Fact.Version != 2 {
		t.Fatalf("expected version 2, got %d", res.Fact.Version)
	}

	history, err := svc.GetHistory(ctx, first.Fact.FactID)
	if err != nil {
		t.Fatalf("expected history, got %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(history))
	}
	if history[0].Value != "blue" || history[1].Value != "dark blue" {
		t.Fatalf("expected oldest-first history, got %q then %q", history[0].Value, history[1].Value)
	}
	if history[0].Status != domain.StatusSuperseded {
		t.Fatal("prior version must be superseded")
	}
	if history[1].Status != domain.StatusActive {
		t.Fatal("latest version must stay active")
	}
}

func TestFactService_Store_Supersede_NewLineageKeepsChain(t *testing.T) {
	svc, factStore, _ := setupFactTest()
	ctx := context.Background()

	first, _ := svc.Store(ctx, candidateFixture())

	contradicting := candidateFixture()
	contradicting.Value = "purple"
	res, err := svc.Store(ctx, contradicting)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Action != domain.ActionSupersede {
		t.Fatalf("expected SUPERSEDE, got %s", res.Action)
	}
	if res.Fact.FactID == first.Fact.FactID {
		t.Fatal("supersession must start a new lineage")
	}
	if res.Fact.Version != 1 {
		t.Fatalf("expected new lineage at version 1, got %d", res.Fact.Version)
	}
	if len(res.Superseded) != 1 || res.Superseded[0] != first.Fact.FactID {
		t.Fatalf("expected superseded lineage %s, got %v", first.Fact.FactID, res.Superseded)
	}

	// The old belief is retained, linked, and queryable from the new lineage.
	history, err := svc.GetHistory(ctx, res.Fact.FactID)
	if err != nil {
		t.Fatalf("expected history, got %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected chain across supersession (2 versions), got %d", len(history))
	}
	if history[0].Value != "blue" || history[1].Value != "purple" {
		t.Fatalf("expected blue then purple, got %q then %q", history[0].Value, history[1].Value)
	}

	active, _ := factStore.HasActiveVersion(ctx, first.Fact.FactID)
	if active {
		t.Fatal("superseded lineage must have no active version")
	}
}

func TestFactService_Store_HistoryCap(t *testing.T) {
	svc, factStore, _ := setupFactTest()
	factStore.historyCap = 3
	ctx := context.Background()

	first, _ := svc.Store(ctx, candidateFixture())
	// Each value overlaps the previous enough to land in the merge band,
	// so the lineage accumulates versions without supersession.
	values := []string{"dark blue", "dark navy blue", "deep dark navy blue", "very deep dark navy blue"}
	for _, v := range values {
		cand := candidateFixture()
		cand.Value = v
		if _, err := svc.Store(ctx, cand); err != nil {
			t.Fatalf("store %q: %v", v, err)
		}
	}

	history, err := svc.GetHistory(ctx, first.Fact.FactID)
	if err != nil {
		t.Fatalf("expected history, got %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(history))
	}
	if history[len(history)-1].Status != domain.StatusActive {
		t.Fatal("pruning must never touch the active version")
	}
	if history[len(history)-1].Value != "very deep dark navy blue" {
		t.Fatalf("expected newest version retained, got %q", history[len(history)-1].Value)
	}
}

// conflictingFactStore injects version conflicts on the first N commits.
type conflictingFactStore struct {
	*mockFactStore
	conflicts int
}

func (c *conflictingFactStore) Commit(ctx context.Context, draft *domain.Fact, action domain.Action, supersededIDs []uuid.UUID, expectedVersion int) (*domain.Fact, error) {
	if c.conflicts > 0 {
		c.conflicts--
		return nil, store.ErrVersionConflict
	}
	return c.mockFactStore.Commit(ctx, draft, action, supersededIDs, expectedVersion)
}

func TestFactService_Store_RetriesVersionConflict(t *testing.T) {
	factStore := &conflictingFactStore{mockFactStore: newMockFactStore(), conflicts: 2}
	svc := NewFactService(factStore, newMockTaskStore(), NewConflictResolver(nil, testLogger()), nil, testLogger())

	res, err := svc.Store(context.Background(), candidateFixture())
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if res.Action != domain.ActionCreate {
		t.Fatalf("expected CREATE after retries, got %s", res.Action)
	}
	if factStore.conflicts != 0 {
		t.Fatalf("expected both injected conflicts consumed, %d left", factStore.conflicts)
	}
}

func TestFactService_Store_ConflictBudgetExhausted(t *testing.T) {
	factStore := &conflictingFactStore{mockFactStore: newMockFactStore(), conflicts: 100}
	svc := NewFactService(factStore, newMockTaskStore(), NewConflictResolver(nil, testLogger()), nil, testLogger())

	_, err := svc.Store(context.Background(), candidateFixture())
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected surfaced version conflict, got %v", err)
	}
}

func TestFactService_Store_InvalidCandidate(t *testing.T) {
	svc, _, taskStore := setupFactTest()

	cand := candidateFixture()
	cand.Value = ""
	_, err := svc.Store(context.Background(), cand)
	if !errors.Is(err, domain.ErrCandidateValueEmpty) {
		t.Fatalf("expected ErrCandidateValueEmpty, got %v", err)
	}

	pending, _ := taskStore.ListByStatus(context.Background(), domain.SyncPending, 10)
	if len(pending) != 0 {
		t.Fatal("rejected candidate must not enqueue sync work")
	}
}

func TestFactService_Store_EmbedsCandidate(t *testing.T) {
	factStore := newMockFactStore()
	svc := NewFactService(factStore, newMockTaskStore(), NewConflictResolver(nil, testLogger()), embedding.NewMockClient(), testLogger())

	res, err := svc.Store(context.Background(), candidateFixture())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(res.Fact.Embedding) != 1536 {
		t.Fatalf("expected 1536-dim embedding on committed fact, got %d", len(res.Fact.Embedding))
	}
}

type countingTrigger struct{ calls int }

func (c *countingTrigger) Trigger() { c.calls++ }

func TestFactService_DeleteForEntity(t *testing.T) {
	svc, _, taskStore := setupFactTest()
	trigger := &countingTrigger{}
	svc.SetOrphanTrigger(trigger)
	ctx := context.Background()

	first, _ := svc.Store(ctx, candidateFixture())

	city := candidateFixture()
	city.Predicate = "currentCity"
	city.Value = "Berlin"
	second, _ := svc.Store(ctx, city)

	other := candidateFixture()
	other.Subject = "jordan"
	other.Value = "green"
	_, _ = svc.Store(ctx, other)

	res, err := svc.DeleteForEntity(ctx, "space-1", "alex")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(res.DeletedFacts) != 2 {
		t.Fatalf("expected 2 deleted facts, got %d", len(res.DeletedFacts))
	}
	if res.EnqueuedSyncTasks != 2 {
		t.Fatalf("expected a delete task per lineage, got %d", res.EnqueuedSyncTasks)
	}
	if trigger.calls != 1 {
		t.Fatalf("expected 1 orphan sweep trigger, got %d", trigger.calls)
	}

	for _, lineage := range []uuid.UUID{first.Fact.FactID, second.Fact.FactID} {
		if _, err := svc.GetHistory(ctx, lineage); !errors.Is(err, ErrFactNotFound) {
			t.Fatalf("expected lineage %s physically removed, got %v", lineage, err)
		}
	}

	pending, _ := taskStore.ListByStatus(ctx, domain.SyncPending, 20)
	deletes := 0
	for _, task := range pending {
		if task.Operation == domain.SyncOpDelete {
			deletes++
		}
	}
	if deletes != 2 {
		t.Fatalf("expected 2 pending delete tasks, got %d", deletes)
	}
}

func TestFactService_RetryTask(t *testing.T) {
	svc, _, taskStore := setupFactTest()
	ctx := context.Background()

	res, _ := svc.Store(ctx, candidateFixture())
	pending, _ := taskStore.ListByStatus(ctx, domain.SyncPending, 1)
	taskID := pending[0].ID
	_ = taskStore.MarkFailed(ctx, taskID, 3, "graph backend unavailable")

	task, err := svc.RetryTask(ctx, taskID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if task.Status != domain.SyncPending {
		t.Fatalf("expected task re-armed as pending, got %s", task.Status)
	}
	if task.Attempts != 0 {
		t.Fatalf("expected attempts reset, got %d", task.Attempts)
	}
	if task.EntityID != res.Fact.FactID.String() {
		t.Fatalf("unexpected task entity %s", task.EntityID)
	}

	if _, err := svc.RetryTask(ctx, uuid.New()); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}
