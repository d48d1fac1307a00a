package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts store operations.
	// Labels: provider (qdrant, chromem), operation, status (success, error).
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workspaced",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector store operations",
		},
		[]string{"provider", "operation", "status"},
	)

	// OperationSeconds tracks how long store operations take.
	OperationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "workspaced",
			Subsystem: "vectorstore",
			Name:      "operation_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	// HealthStatusGauge indicates current health (1 healthy, 0.5 degraded,
	// 0 unreachable), per provider.
	HealthStatusGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "workspaced",
			Subsystem: "vectorstore",
			Name:      "health_status",
			Help:      "Current vector store health (1=healthy, 0.5=degraded, 0=unreachable)",
		},
		[]string{"provider"},
	)
)

func observeOp(provider, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	OperationsTotal.WithLabelValues(provider, operation, status).Inc()
	OperationSeconds.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
}

func observeHealth(provider string, state HealthState) {
	var v float64
	switch state {
	case HealthHealthy:
		v = 1
	case HealthDegraded:
		v = 0.5
	}
	HealthStatusGauge.WithLabelValues(provider).Set(v)
}
