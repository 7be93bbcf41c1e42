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
	"github.com/credence-ai/credence/internal/metrics"
	"github.com/credence-ai/credence/internal/store"
	"go.uber.org/zap"
)

const (
	defaultSyncPollInterval = 500 * time.Millisecond
	defaultSyncBatchSize    = 100
	defaultSyncWorkerCount  = 4
	defaultSyncRetries      = 3
	defaultSyncBackoff      = 1 * time.Second
	defaultSyncVisibility   = 5 * time.Minute
	syncDrainTimeout        = 30 * time.Second
)

// FactNodeID is the deterministic graph node id for a fact lineage. Repeat
// upserts of the same fact converge on the same node.
func FactNodeID(factID string) string {
	return "fact:" + factID
}

// EntityNodeID is the deterministic graph node id for a subject entity
// within a memory space.
func EntityNodeID(memorySpaceID, subject string) string {
	return "entity:" + memorySpaceID + ":" + strings.ToLower(strings.Join(strings.Fields(subject), " "))
}

// SyncWorker drains the sync queue in the background and projects committed
// facts into the graph backend. Failures are absorbed into task state;
// nothing here ever reaches the ingesting caller.
type SyncWorker struct {
	taskStore domain.SyncTaskStore
	mappings  domain.GraphMappingStore
	adapter   domain.GraphAdapter
	collector metrics.Collector
	logger    *zap.Logger

	pollInterval      time.Duration
	retryBackoff      time.Duration
	visibilityTimeout time.Duration
	batchSize         int
	workerCount       int
	retryAttempts     int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewSyncWorker(ts domain.SyncTaskStore, ms domain.GraphMappingStore, adapter domain.GraphAdapter, logger *zap.Logger) *SyncWorker {
	return &SyncWorker{
		taskStore:         ts,
		mappings:          ms,
		adapter:           adapter,
		collector:         metrics.NewNoopCollector(),
		logger:            logger,
		pollInterval:      defaultSyncPollInterval,
		retryBackoff:      defaultSyncBackoff,
		visibilityTimeout: defaultSyncVisibility,
		batchSize:         defaultSyncBatchSize,
		workerCount:       defaultSyncWorkerCount,
		retryAttempts:     defaultSyncRetries,
		stopCh:            make(chan struct{}),
	}
}

func (w *SyncWorker) SetCollector(c metrics.Collector) {
	if c != nil {
		w.collector = c
	}
}

func (w *SyncWorker) SetPollInterval(d time.Duration) {
	if d > 0 {
		w.pollInterval = d
	}
}

func (w *SyncWorker) SetRetryBackoff(d time.Duration) {
	if d > 0 {
		w.retryBackoff = d
	}
}

func (w *SyncWorker) SetBatchSize(n int) {
	if n > 0 {
		w.batchSize = n
	}
}

func (w *SyncWorker) SetWorkerCount(n int) {
	if n > 0 {
		w.workerCount = n
	}
}

func (w *SyncWorker) SetRetryAttempts(n int) {
	if n > 0 {
		w.retryAttempts = n
	}
}

func (w *SyncWorker) SetVisibilityTimeout(d time.Duration) {
	if d > 0 {
		w.visibilityTimeout = d
	}
}

// Start runs the drain loop in a background goroutine.
func (w *SyncWorker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()

		w.logger.Info("graph sync worker started",
			zap.Duration("poll_interval", w.pollInterval),
			zap.Int("batch_size", w.batchSize),
			zap.Int("workers", w.workerCount))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), syncDrainTimeout)
				w.Drain(ctx)
				w.reportDepth(ctx)
				cancel()
			case <-w.stopCh:
				w.logger.Info("graph sync worker stopped")
				return
			}
		}
	}()
}

// Stop lets the in-flight batch finish, then exits. Unprocessed tasks stay
// queued for the next Start.
func (w *SyncWorker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

// Drain claims and processes batches until the queue yields nothing due.
// Claims abandoned by a crashed worker are requeued first, once they age
// past the visibility timeout.
func (w *SyncWorker) Drain(ctx context.Context) {
	if reclaimed, err := w.taskStore.ReclaimStale(ctx, w.visibilityTimeout); err != nil {
		w.logger.Error("failed to reclaim stale sync tasks", zap.Error(err))
	} else if reclaimed > 0 {
		w.logger.Warn("requeued abandoned sync tasks", zap.Int("count", reclaimed))
	}

	for {
		batch, err := w.taskStore.DequeueBatch(ctx, w.batchSize)
		if err != nil {
			w.logger.Error("failed to dequeue sync batch", zap.Error(err))
			return
		}
		if len(batch) == 0 {
			return
		}
		w.processBatch(ctx, batch)
	}
}

// processBatch fans entity groups out to a bounded worker pool. Tasks for the
// same entity stay in one group and run sequentially, so per-entity order
// holds even though entities interleave.
func (w *SyncWorker) processBatch(ctx context.Context, batch []domain.SyncTask) {
	groups := make(map[string][]domain.SyncTask, len(batch))
	var order []string
	for _, task := range batch {
		if _, ok := groups[task.EntityID]; !ok {
			order = append(order, task.EntityID)
		}
		groups[task.EntityID] = append(groups[task.EntityID], task)
	}

	groupCh := make(chan []domain.SyncTask)
	var wg sync.WaitGroup
	workers := w.workerCount
	if workers > len(order) {
		workers = len(order)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for group := range groupCh {
				for _, task := range group {
					w.processTask(ctx, task)
				}
			}
		}()
	}
	for _, entityID := range order {
		groupCh <- groups[entityID]
	}
	close(groupCh)
	wg.Wait()
}

func (w *SyncWorker) processTask(ctx context.Context, task domain.SyncTask) {
	start := time.Now()
	err := w.apply(ctx, task)
	elapsed := time.Since(start).Milliseconds()

	if err == nil {
		if err := w.taskStore.MarkDone(ctx, task.ID); err != nil {
			w.logger.Error("failed to mark sync task done",
				zap.String("task_id", task.ID.String()),
				zap.Error(err))
		}
		w.collector.RecordSyncTask(string(task.Operation), string(domain.SyncDone), elapsed)
		return
	}

	attempts := task.Attempts + 1
	if attempts >= w.retryAttempts {
		if markErr := w.taskStore.MarkFailed(ctx, task.ID, attempts, err.Error()); markErr != nil {
			w.logger.Error("failed to mark sync task failed",
				zap.String("task_id", task.ID.String()),
				zap.Error(markErr))
		}
		w.collector.RecordSyncTask(string(task.Operation), string(domain.SyncFailed), elapsed)
		w.logger.Error("sync task exhausted retry budget",
			zap.String("task_id", task.ID.String()),
			zap.String("entity_id", task.EntityID),
			zap.String("operation", string(task.Operation)),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return
	}

	backoff := w.retryBackoff << (attempts - 1)
	if markErr := w.taskStore.MarkRetry(ctx, task.ID, attempts, err.Error(), time.Now().Add(backoff)); markErr != nil {
		w.logger.Error("failed to schedule sync task retry",
			zap.String("task_id", task.ID.String()),
			zap.Error(markErr))
	}
	w.collector.RecordSyncTask(string(task.Operation), string(domain.SyncPending), elapsed)
	w.logger.Warn("sync task failed, scheduled retry",
		zap.String("task_id", task.ID.String()),
		zap.String("entity_id", task.EntityID),
		zap.Int("attempts", attempts),
		zap.Duration("backoff", backoff),
		zap.Error(err))
}

func (w *SyncWorker) apply(ctx context.Context, task domain.SyncTask) error {
	var payload domain.SyncPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	switch task.Operation {
	case domain.SyncOpUpsert:
		return w.applyUpsert(ctx, payload)
	case domain.SyncOpDelete:
		return w.applyDelete(ctx, payload)
	default:
		return fmt.Errorf("unknown sync operation: %s", task.Operation)
	}
}

func (w *SyncWorker) applyUpsert(ctx context.Context, p domain.SyncPayload) error {
	nodeID := FactNodeID(p.FactID.String())
	entityNodeID := EntityNodeID(p.MemorySpaceID, p.Subject)

	// Record the mapping before touching the graph so a crash between the
	// two leaves a mapping the orphan sweep can reconcile, not a node
	// nothing points at.
	if err := w.mappings.Upsert(ctx, &domain.GraphMapping{
		FactID:       p.FactID,
		NodeID:       nodeID,
		EntityNodeID: entityNodeID,
	}); err != nil {
		return fmt.Errorf("upsert graph mapping: %w", err)
	}

	if err := w.adapter.UpsertNode(ctx, entityNodeID, []string{"entity"}, map[string]any{
		"name":            p.Subject,
		"memory_space_id": p.MemorySpaceID,
	}); err != nil {
		return err
	}

	if err := w.adapter.UpsertNode(ctx, nodeID, []string{"fact", string(p.Type)}, map[string]any{
		"subject":         p.Subject,
		"predicate":       p.Predicate,
		"value":           p.Value,
		"confidence":      p.Confidence,
		"memory_space_id": p.MemorySpaceID,
	}); err != nil {
		return err
	}

	return w.adapter.UpsertEdge(ctx, entityNodeID, nodeID, p.Predicate, map[string]any{
		"memory_space_id": p.MemorySpaceID,
	})
}

func (w *SyncWorker) applyDelete(ctx context.Context, p domain.SyncPayload) error {
	mapping, err := w.mappings.GetByFactID(ctx, p.FactID)
	if errors.Is(err, store.ErrNotFound) {
		// Never projected; nothing to remove.
		return nil
	}
	if err != nil {
		return fmt.Errorf("load graph mapping: %w", err)
	}

	if err := w.adapter.DeleteNode(ctx, mapping.NodeID); err != nil {
		return err
	}
	if err := w.mappings.Delete(ctx, p.FactID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete graph mapping: %w", err)
	}
	return nil
}

func (w *SyncWorker) reportDepth(ctx context.Context) {
	for _, status := range []domain.SyncStatus{domain.SyncPending, domain.SyncFailed} {
		count, err := w.taskStore.CountByStatus(ctx, status)
		if err != nil {
			continue
		}
		w.collector.SetQueueDepth(string(status), int64(count))
	}
}
