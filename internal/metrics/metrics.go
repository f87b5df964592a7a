// internal/metrics/metrics.go
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Commands counts every command-surface operation by name and outcome.
	// Outcome is "ok" or the error kind string.
	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smallbets_commands_total",
		Help: "Command surface operations by command and outcome.",
	}, []string{"command", "outcome"})

	// CASConflicts counts optimistic-concurrency retries by document kind.
	CASConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smallbets_cas_conflicts_total",
		Help: "Revision conflicts observed during read-modify-write loops.",
	}, []string{"document"})

	// Settlements counts resolved bets.
	Settlements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smallbets_settlements_total",
		Help: "Bets settled.",
	})

	// PointsSettled sums points credited back to winners at settlement.
	PointsSettled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smallbets_points_settled_total",
		Help: "Points credited to winning wagers.",
	})

	// AutomationProposals counts gateway outcomes by action taken.
	AutomationProposals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smallbets_automation_proposals_total",
		Help: "Automation proposals by action taken.",
	}, []string{"action_taken"})
)

// HealthFunc reports readiness of a dependency.
type HealthFunc func(ctx context.Context) error

// StartServer runs a small HTTP server for /metrics and /healthz on its own
// port, separate from the public API. Returns the server so the caller can
// shut it down.
func StartServer(port string, healthFn HealthFunc) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if healthFn != nil {
			if err := healthFn(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprintf(w, "unhealthy: %v", err)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}
