package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ruaan-deysel/mcp-gateway/daemon/domain"
)

// Prometheus metrics, grounded on the teacher's api/metrics.go custom
// registry + GaugeVec pattern, narrowed to the quantities this gateway
// actually owns: live sessions, the stdio child's supervisor state, and a
// counter of successful child reconnects.
var (
	activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcp_gateway_active_sessions",
		Help: "Number of currently registered client sessions",
	})
	childState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcp_gateway_child_state",
		Help: "Child supervisor state (0=not_started, 1=starting, 2=ready, 3=failed)",
	})
	reconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcp_gateway_child_reconnects_total",
		Help: "Total number of child process reconnects that reached the ready state",
	})
)

var metricsRegistry = prometheus.NewRegistry()

func init() {
	metricsRegistry.MustRegister(activeSessions, childState, reconnectAttempts)
}

// childStateValue maps a domain.ChildState to the gauge value handleMetrics
// reports, so the mapping lives in one place next to the gauge itself.
func childStateValue(s domain.ChildState) float64 {
	switch s {
	case domain.ChildStarting:
		return 1
	case domain.ChildReady:
		return 2
	case domain.ChildFailed:
		return 3
	default:
		return 0
	}
}

// handleMetrics refreshes the gauges from live state and serves them in
// Prometheus exposition format (teacher's api/metrics.go handleMetrics).
func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	activeSessions.Set(float64(g.sessions.Count()))
	if g.supervisor != nil {
		childState.Set(childStateValue(g.supervisor.State()))
	}
	promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{EnableOpenMetrics: true}).ServeHTTP(w, r)
}
