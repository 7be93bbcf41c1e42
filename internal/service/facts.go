package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/credence-ai/credence/internal/domain"
	"github.com/credence-ai/credence/internal/metrics"
	"github.com/credence-ai/credence/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrFactNotFound = errors.New("fact not found")
	ErrTaskNotFound = errors.New("sync task not found")
)

// DefaultCommitRetries bounds re-resolution after optimistic version
// conflicts before the conflict surfaces to the caller.
const DefaultCommitRetries = 3

// StoreResult is returned to the ingesting caller as soon as the canonical
// write lands; graph visibility lags behind via the sync queue.
type StoreResult struct {
	Action     domain.Action `json:"action"`
	Fact       *domain.Fact  `json:"fact"`
	Superseded []uuid.UUID   `json:"superseded,omitempty"`
}

// DeleteResult reports what an entity deletion removed and queued.
type DeleteResult struct {
	DeletedFacts      []domain.Fact `json:"deleted_facts"`
	EnqueuedSyncTasks int           `json:"enqueued_sync_tasks"`
}

// OrphanTrigger requests an out-of-schedule orphan sweep, typically after an
// entity deletion.
type OrphanTrigger interface {
	Trigger()
}

// FactService is the synchronous write path: resolve, commit, enqueue.
type FactService struct {
	factStore       domain.FactStore
	taskStore       domain.SyncTaskStore
	resolver        *ConflictResolver
	embeddingClient domain.EmbeddingClient
	orphanTrigger   OrphanTrigger
	collector       metrics.Collector
	commitRetries   int
	logger          *zap.Logger
}

func NewFactService(fs domain.FactStore, ts domain.SyncTaskStore, resolver *ConflictResolver, ec domain.EmbeddingClient, logger *zap.Logger) *FactService {
	return &FactService{
		factStore:       fs,
		taskStore:       ts,
		resolver:        resolver,
		embeddingClient: ec,
		collector:       metrics.NewNoopCollector(),
		commitRetries:   DefaultCommitRetries,
		logger:          logger,
	}
}

func (s *FactService) SetOrphanTrigger(t OrphanTrigger) {
	s.orphanTrigger = t
}

func (s *FactService) SetCollector(c metrics.Collector) {
	if c != nil {
		s.collector = c
	}
}

func (s *FactService) SetCommitRetries(n int) {
	if n > 0 {
		s.commitRetries = n
	}
}

// Store ingests one candidate fact. Validation and resolution errors return
// immediately; a slot race re-resolves against fresh state up to the retry
// budget and then surfaces the version conflict.
func (s *FactService) Store(ctx context.Context, candidate *domain.CandidateFact) (*StoreResult, error) {
	if err := candidate.Validate(); err != nil {
		return nil, err
	}

	// Enrich with an embedding so dedupe is semantic rather than structural.
	// Failure degrades to the string fallback, it never blocks the write.
	if s.embeddingClient != nil && len(candidate.Embedding) == 0 {
		emb, err := s.embeddingClient.Embed(ctx, candidate.Value)
		if err != nil {
			s.logger.Warn("embedding generation failed, using structural similarity",
				zap.String("subject", candidate.Subject),
				zap.Error(err))
		} else {
			candidate.Embedding = emb
		}
	}

	var lastErr error
	for attempt := 0; attempt < s.commitRetries; attempt++ {
		existing, err := s.factStore.GetActiveBySlot(ctx, candidate.Slot())
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("read slot: %w", err)
		}

		res, err := s.resolver.Resolve(ctx, candidate, existing)
		if err != nil {
			return nil, err
		}

		if res.Action == domain.ActionNone {
			if res.ConfidenceBumped {
				if err := s.factStore.RefreshConfidence(ctx, existing.ID, candidate.Confidence); err != nil {
					s.logger.Warn("failed to refresh confidence on duplicate",
						zap.String("fact_id", existing.FactID.String()),
						zap.Error(err))
				} else {
					existing.Confidence = candidate.Confidence
				}
			}
			s.collector.RecordResolution(string(domain.ActionNone))
			return &StoreResult{Action: domain.ActionNone, Fact: existing}, nil
		}

		expectedVersion := 0
		if existing != nil {
			expectedVersion = existing.Version
		}

		committed, err := s.factStore.Commit(ctx, res.Draft, res.Action, res.SupersededIDs, expectedVersion)
		if errors.Is(err, store.ErrVersionConflict) {
			s.collector.RecordCommitConflict()
			s.logger.Debug("slot changed mid-commit, re-resolving",
				zap.String("subject", candidate.Subject),
				zap.String("predicate", candidate.Predicate),
				zap.Int("attempt", attempt+1))
			lastErr = err
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("commit fact: %w", err)
		}

		s.collector.RecordResolution(string(res.Action))
		s.enqueueUpsert(ctx, committed)

		var superseded []uuid.UUID
		if existing != nil && res.Action == domain.ActionSupersede {
			superseded = append(superseded, existing.FactID)
		}
		return &StoreResult{Action: res.Action, Fact: committed, Superseded: superseded}, nil
	}

	return nil, fmt.Errorf("commit retries exhausted: %w", lastErr)
}

// enqueueUpsert records graph propagation for a committed fact. Queue
// failures are absorbed: the canonical write already succeeded and the graph
// lag is observable through task status.
func (s *FactService) enqueueUpsert(ctx context.Context, f *domain.Fact) {
	payload, err := json.Marshal(domain.SyncPayload{
		FactID:        f.FactID,
		MemorySpaceID: f.MemorySpaceID,
		Subject:       f.Subject,
		Predicate:     f.Predicate,
		Value:         f.Value,
		Type:          f.Type,
		Confidence:    f.Confidence,
	})
	if err != nil {
		s.logger.Error("failed to marshal sync payload", zap.Error(err))
		return
	}
	if _, err := s.taskStore.Enqueue(ctx, domain.SyncEntityFact, f.FactID.String(), domain.SyncOpUpsert, payload); err != nil {
		s.logger.Error("failed to enqueue graph sync task",
			zap.String("fact_id", f.FactID.String()),
			zap.Error(err))
	}
}

func (s *FactService) GetHistory(ctx context.Context, factID uuid.UUID) ([]domain.Fact, error) {
	history, err := s.factStore.GetHistory(ctx, factID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrFactNotFound
		}
		return nil, err
	}
	return history, nil
}

// DeleteForEntity is the deletion hook consumed by the external GDPR cascade:
// it physically removes every fact referencing the entity, queues graph
// deletions, and requests an orphan sweep.
func (s *FactService) DeleteForEntity(ctx context.Context, memorySpaceID, entityID string) (*DeleteResult, error) {
	deleted, err := s.factStore.DeleteForEntity(ctx, memorySpaceID, entityID)
	if err != nil {
		return nil, fmt.Errorf("delete facts for entity: %w", err)
	}

	enqueued := 0
	seen := make(map[uuid.UUID]bool, len(deleted))
	for _, f := range deleted {
		if seen[f.FactID] {
			continue
		}
		seen[f.FactID] = true

		payload, err := json.Marshal(domain.SyncPayload{FactID: f.FactID})
		if err != nil {
			s.logger.Error("failed to marshal delete payload", zap.Error(err))
			continue
		}
		if _, err := s.taskStore.Enqueue(ctx, domain.SyncEntityFact, f.FactID.String(), domain.SyncOpDelete, payload); err != nil {
			s.logger.Error("failed to enqueue graph delete task",
				zap.String("fact_id", f.FactID.String()),
				zap.Error(err))
			continue
		}
		enqueued++
	}

	if s.orphanTrigger != nil {
		s.orphanTrigger.Trigger()
	}

	s.logger.Info("deleted facts for entity",
		zap.String("memory_space_id", memorySpaceID),
		zap.String("entity_id", entityID),
		zap.Int("deleted", len(deleted)),
		zap.Int("enqueued_sync_tasks", enqueued))

	return &DeleteResult{DeletedFacts: deleted, EnqueuedSyncTasks: enqueued}, nil
}

// ListTasks exposes queue state for operational tooling.
func (s *FactService) ListTasks(ctx context.Context, status domain.SyncStatus, limit int) ([]domain.SyncTask, error) {
	return s.taskStore.ListByStatus(ctx, status, limit)
}

// RetryTask re-arms a failed task as pending for replay.
func (s *FactService) RetryTask(ctx context.Context, taskID uuid.UUID) (*domain.SyncTask, error) {
	if err := s.taskStore.Reset(ctx, taskID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return s.taskStore.GetByID(ctx, taskID)
}
