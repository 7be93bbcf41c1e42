package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector provides Prometheus metrics for the belief revision
// engine: resolution outcomes, commit conflicts, sync throughput and latency,
// queue depth, and orphan cleanup counts.
type PrometheusCollector struct {
	resolutionsTotal  *prometheus.CounterVec
	commitConflicts   prometheus.Counter
	syncTasksTotal    *prometheus.CounterVec
	syncTaskDuration  *prometheus.HistogramVec
	queueDepth        *prometheus.GaugeVec
	orphanNodesSwept  prometheus.Counter
	orphanEntitySwept prometheus.Counter
	registry          *prometheus.Registry
}

func NewCollector() *PrometheusCollector {
	registry := prometheus.NewRegistry()

	resolutionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credence_resolutions_total",
			Help: "Total number of conflict resolutions by resulting action",
		},
		[]string{"action"},
	)

	commitConflicts := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credence_commit_conflicts_total",
			Help: "Total number of optimistic version conflicts during fact commits",
		},
	)

	syncTasksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credence_sync_tasks_total",
			Help: "Total number of processed sync tasks by operation and terminal status",
		},
		[]string{"operation", "status"},
	)

	syncTaskDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "credence_sync_task_duration_seconds",
			Help:    "Duration of individual sync task executions",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"operation"},
	)

	queueDepth := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "credence_sync_queue_depth",
			Help: "Current number of sync tasks by status",
		},
		[]string{"status"},
	)

	orphanNodesSwept := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credence_orphan_nodes_removed_total",
			Help: "Total number of orphaned fact nodes removed from the graph",
		},
	)

	orphanEntitySwept := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credence_orphan_entity_nodes_removed_total",
			Help: "Total number of unreferenced entity nodes removed from the graph",
		},
	)

	registry.MustRegister(resolutionsTotal)
	registry.MustRegister(commitConflicts)
	registry.MustRegister(syncTasksTotal)
	registry.MustRegister(syncTaskDuration)
	registry.MustRegister(queueDepth)
	registry.MustRegister(orphanNodesSwept)
	registry.MustRegister(orphanEntitySwept)

	return &PrometheusCollector{
		resolutionsTotal:  resolutionsTotal,
		commitConflicts:   commitConflicts,
		syncTasksTotal:    syncTasksTotal,
		syncTaskDuration:  syncTaskDuration,
		queueDepth:        queueDepth,
		orphanNodesSwept:  orphanNodesSwept,
		orphanEntitySwept: orphanEntitySwept,
		registry:          registry,
	}
}

func (m *PrometheusCollector) RecordResolution(action string) {
	m.resolutionsTotal.WithLabelValues(action).Inc()
}

func (m *PrometheusCollector) RecordCommitConflict() {
	m.commitConflicts.Inc()
}

func (m *PrometheusCollector) RecordSyncTask(operation string, status string, durationMs int64) {
	m.syncTasksTotal.WithLabelValues(operation, status).Inc()
	m.syncTaskDuration.WithLabelValues(operation).Observe(float64(durationMs) / 1000.0)
}

func (m *PrometheusCollector) SetQueueDepth(status string, count int64) {
	m.queueDepth.WithLabelValues(status).Set(float64(count))
}

func (m *PrometheusCollector) RecordOrphanSweep(nodesRemoved, entityNodesRemoved int) {
	m.orphanNodesSwept.Add(float64(nodesRemoved))
	m.orphanEntitySwept.Add(float64(entityNodesRemoved))
}

// Handler exposes the collector's registry for a /metrics endpoint.
func (m *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
