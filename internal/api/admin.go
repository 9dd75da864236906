package api

import (
	"context"
	"net/http"
	"time"
)

func (h *handlers) queueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.d.Queue.Status())
}

// queueMetrics is a lighter-weight counters-only view of the same report,
// suitable for polling dashboards that don't need the full queued/active
// batch lists.
func (h *handlers) queueMetrics(w http.ResponseWriter, r *http.Request) {
	status := h.d.Queue.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queueLength":       status.QueueLength,
		"activeCount":       status.ActiveCount,
		"utilizationPct":    status.UtilizationPct,
		"counters":          status.Counters,
		"averageCompletion": status.AverageCompletion,
		"throughputPerHour": status.ThroughputPerHour,
		"averageWaitSec":    status.AverageWaitSec,
	})
}

func (h *handlers) clearCompletedMetrics(w http.ResponseWriter, r *http.Request) {
	h.d.Queue.ResetMetrics()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// shutdownDrain triggers the same stop-accepting-new-work-then-wait
// sequence the process's own signal handler runs, as an operational
// escape hatch for draining a node ahead of a planned restart.
func (h *handlers) shutdownDrain(w http.ResponseWriter, r *http.Request) {
	h.d.Queue.PrepareShutdown()
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := h.d.Queue.WaitForActiveBatches(ctx); err != nil {
		writeError(w, http.StatusGatewayTimeout, "DRAIN_TIMEOUT", "active batches did not finish draining in time")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "drained"})
}
