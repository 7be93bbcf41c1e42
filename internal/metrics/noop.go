package metrics

// NoopCollector discards all metrics.
type NoopCollector struct{}

func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

func (n *NoopCollector) RecordResolution(action string) {}

func (n *NoopCollector) RecordCommitConflict() {}

func (n *NoopCollector) RecordSyncTask(operation string, status string, durationMs int64) {}

func (n *NoopCollector) SetQueueDepth(status string, count int64) {}

func (n *NoopCollector) RecordOrphanSweep(nodesRemoved, entityNodesRemoved int) {}
