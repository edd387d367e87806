// Package observability exposes Prometheus metrics for the runtime.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Rounds counts backend streaming rounds across all executions.
	Rounds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rook_engine_rounds_total",
		Help: "Backend streaming rounds executed.",
	})

	// RoundLimitHits counts executions terminated by the round budget.
	RoundLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rook_engine_round_limit_hits_total",
		Help: "Executions that reached the tool-round limit.",
	})

	// ToolExecutions counts tool dispatches by tool name and outcome.
	ToolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rook_tool_executions_total",
		Help: "Tool dispatches by tool and outcome.",
	}, []string{"tool", "status"})

	// Cancellations counts accepted cancel requests.
	Cancellations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rook_cancellations_total",
		Help: "Cancel requests that interrupted a run.",
	})

	// BusyRejections counts turn starts rejected by the execution token.
	BusyRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rook_busy_rejections_total",
		Help: "Turn starts rejected while a run was active.",
	})

	// BackendErrors counts unretried backend failures surfaced to callers.
	BackendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rook_backend_errors_total",
		Help: "Backend failures propagated to the caller.",
	})

	// ProviderDisables counts tool providers disabled after failed reconnects.
	ProviderDisables = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rook_provider_disables_total",
		Help: "Tool providers disabled after a failed reconnect.",
	})

	// ArtifactsPurged counts expired subprocess artifacts removed by cleanup.
	ArtifactsPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rook_artifacts_purged_total",
		Help: "Expired subprocess output artifacts deleted.",
	})
)

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
