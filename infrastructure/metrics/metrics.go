// Package metrics provides Prometheus metrics collection
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/r3e-network/dronectl/infrastructure/runtime"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Drone lifecycle metrics
	StateTransitionsTotal *prometheus.CounterVec
	DronesLive            *prometheus.GaugeVec
	DroneSupplyTotal      prometheus.Gauge
	DroneDemandTotal      prometheus.Gauge

	// Agent call metrics
	AgentCallDuration *prometheus.HistogramVec
	AgentCallsTotal   *prometheus.CounterVec

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP metrics
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		// Error metrics
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "type", "operation"},
		),

		// Drone lifecycle metrics
		StateTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drone_state_transitions_total",
				Help: "Total number of drone state machine transitions, by destination state",
			},
			[]string{"to_state"},
		),
		DronesLive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "drones_live",
				Help: "Current number of drones tracked by the orchestrator, by state",
			},
			[]string{"state"},
		),
		DroneSupplyTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "drone_supply_total",
				Help: "Sum of Supply across all live drones",
			},
		),
		DroneDemandTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "drone_demand_total",
				Help: "Sum of Demand across all live drones",
			},
		),

		// Agent call metrics
		AgentCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_call_duration_seconds",
				Help:    "Site/batch-system agent call duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"agent", "operation"},
		),
		AgentCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_calls_total",
				Help: "Total number of site/batch-system agent calls",
			},
			[]string{"agent", "operation", "status"},
		),

		// Service health
		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.StateTransitionsTotal,
			m.DronesLive,
			m.DroneSupplyTotal,
			m.DroneDemandTotal,
			m.AgentCallDuration,
			m.AgentCallsTotal,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error
func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

// RecordTransition implements drone.MetricsRecorder.
func (m *Metrics) RecordTransition(toState string) {
	m.StateTransitionsTotal.WithLabelValues(toState).Inc()
}

// ObserveAgentCall implements drone.MetricsRecorder.
func (m *Metrics) ObserveAgentCall(agent, operation string, duration time.Duration) {
	m.AgentCallDuration.WithLabelValues(agent, operation).Observe(duration.Seconds())
	m.AgentCallsTotal.WithLabelValues(agent, operation, "ok").Inc()
}

// SetDronesLive replaces the live-drone gauge with the given per-state counts.
func (m *Metrics) SetDronesLive(counts map[string]int) {
	m.DronesLive.Reset()
	for state, count := range counts {
		m.DronesLive.WithLabelValues(state).Set(float64(count))
	}
}

// SetDroneSupplyDemand records the fleet-wide supply/demand totals.
func (m *Metrics) SetDroneSupplyDemand(supply, demand float64) {
	m.DroneSupplyTotal.Set(supply)
	m.DroneDemandTotal.Set(demand)
}

// UpdateUptime updates the service uptime
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests counter
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests counter
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

func getEnvironment() string {
	return string(runtime.Env())
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global metrics instance
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
