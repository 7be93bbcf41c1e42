package metrics

// Collector is the interface for metrics collection. Implementations are the
// Prometheus-backed collector and the no-op collector used in tests and when
// no registry is exposed.
type Collector interface {
	RecordResolution(action string)
	RecordCommitConflict()
	RecordSyncTask(operation string, status string, durationMs int64)
	SetQueueDepth(status string, count int64)
	RecordOrphanSweep(nodesRemoved, entityNodesRemoved int)
}
