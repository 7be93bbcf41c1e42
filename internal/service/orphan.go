package service

import (
	"context"
	"sync"
	"time"

	"github.com/credence-ai/credence/internal/domain"
	"github.com/credence-ai/credence/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultSweepInterval = 15 * time.Minute
	defaultSweepBatch    = 200
	sweepTimeout         = 2 * time.Minute
)

// SweepResult summarizes one orphan cleanup pass.
type SweepResult struct {
	MappingsScanned    int `json:"mappings_scanned"`
	NodesRemoved       int `json:"nodes_removed"`
	EntityNodesRemoved int `json:"entity_nodes_removed"`
}

// OrphanDetector removes graph nodes no longer backed by any active fact.
// It runs on a periodic schedule and on explicit trigger after entity
// deletions.
type OrphanDetector struct {
	factStore domain.FactStore
	mappings  domain.GraphMappingStore
	adapter   domain.GraphAdapter
	collector metrics.Collector
	logger    *zap.Logger

	interval  time.Duration
	batchSize int

	triggerCh chan struct{}
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func NewOrphanDetector(fs domain.FactStore, ms domain.GraphMappingStore, adapter domain.GraphAdapter, logger *zap.Logger) *OrphanDetector {
	return &OrphanDetector{
		factStore: fs,
		mappings:  ms,
		adapter:   adapter,
		collector: metrics.NewNoopCollector(),
		logger:    logger,
		interval:  defaultSweepInterval,
		batchSize: defaultSweepBatch,
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

func (d *OrphanDetector) SetCollector(c metrics.Collector) {
	if c != nil {
		d.collector = c
	}
}

func (d *OrphanDetector) SetInterval(interval time.Duration) {
	if interval > 0 {
		d.interval = interval
	}
}

func (d *OrphanDetector) SetBatchSize(n int) {
	if n > 0 {
		d.batchSize = n
	}
}

// Start runs the detector on a periodic schedule in a background goroutine.
func (d *OrphanDetector) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		d.logger.Info("orphan detector started", zap.Duration("interval", d.interval))

		for {
			select {
			case <-ticker.C:
				d.runSweep()
			case <-d.triggerCh:
				d.runSweep()
			case <-d.stopCh:
				d.logger.Info("orphan detector stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the detector.
func (d *OrphanDetector) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}

// Trigger requests an out-of-schedule sweep without blocking the caller.
// A sweep already queued coalesces with this one.
func (d *OrphanDetector) Trigger() {
	select {
	case d.triggerCh <- struct{}{}:
	default:
	}
}

func (d *OrphanDetector) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	result, err := d.Sweep(ctx)
	if err != nil {
		d.logger.Error("orphan sweep failed", zap.Error(err))
		return
	}
	if result.NodesRemoved > 0 || result.EntityNodesRemoved > 0 {
		d.logger.Info("orphan sweep removed nodes",
			zap.Int("scanned", result.MappingsScanned),
			zap.Int("fact_nodes", result.NodesRemoved),
			zap.Int("entity_nodes", result.EntityNodesRemoved))
	}
}

// Sweep pages through graph mappings in bounded batches and removes nodes
// whose fact lineage has no active version left. A node still backed by an
// active fact is never touched. Entity nodes go only once their last
// referencing mapping is gone.
func (d *OrphanDetector) Sweep(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{}
	var cursor uuid.UUID

	for {
		batch, err := d.mappings.ListBatch(ctx, cursor, d.batchSize)
		if err != nil {
			return result, err
		}
		if len(batch) == 0 {
			d.collector.RecordOrphanSweep(result.NodesRemoved, result.EntityNodesRemoved)
			return result, nil
		}
		cursor = batch[len(batch)-1].FactID
		result.MappingsScanned += len(batch)

		for _, mapping := range batch {
			active, err := d.factStore.HasActiveVersion(ctx, mapping.FactID)
			if err != nil {
				d.logger.Warn("failed to check fact liveness, skipping",
					zap.String("fact_id", mapping.FactID.String()),
					zap.Error(err))
				continue
			}
			if active {
				continue
			}

			if err := d.adapter.DeleteNode(ctx, mapping.NodeID); err != nil {
				d.logger.Warn("failed to delete orphaned node",
					zap.String("node_id", mapping.NodeID),
					zap.Error(err))
				continue
			}
			if err := d.mappings.Delete(ctx, mapping.FactID); err != nil {
				d.logger.Warn("failed to delete graph mapping",
					zap.String("fact_id", mapping.FactID.String()),
					zap.Error(err))
				continue
			}
			result.NodesRemoved++

			remaining, err := d.mappings.CountByEntityNode(ctx, mapping.EntityNodeID)
			if err != nil {
				d.logger.Warn("failed to count entity references",
					zap.String("entity_node_id", mapping.EntityNodeID),
					zap.Error(err))
				continue
			}
			if remaining == 0 {
				if err := d.adapter.DeleteNode(ctx, mapping.EntityNodeID); err != nil {
					d.logger.Warn("failed to delete unreferenced entity node",
						zap.String("entity_node_id", mapping.EntityNodeID),
						zap.Error(err))
					continue
				}
				result.EntityNodesRemoved++
			}
		}
	}
}
