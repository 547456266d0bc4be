package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ostin-pil/lesca/internal/types"
)

// PrometheusExporter mirrors the CSV export's columns as gauges
// on its own registry, so a single process can run several Collectors
// (one for a test, one for production) without colliding on the default
// global registry.
type PrometheusExporter struct {
	registry *prometheus.Registry

	poolSize     *prometheus.GaugeVec
	active       *prometheus.GaugeVec
	idle         *prometheus.GaugeVec
	acquisitions *prometheus.GaugeVec
	releases     *prometheus.GaugeVec
	failures     *prometheus.GaugeVec
	created      *prometheus.GaugeVec
	destroyed    *prometheus.GaugeVec
	acqPerMinute *prometheus.GaugeVec
	failureRate  *prometheus.GaugeVec
	circuitTrips *prometheus.GaugeVec
	circuitState *prometheus.GaugeVec
	acquireAvgMs *prometheus.GaugeVec
	releaseAvgMs *prometheus.GaugeVec
	createAvgMs  *prometheus.GaugeVec
}

// NewPrometheusExporter builds gauges under the "lesca" namespace and
// registers them on a fresh registry.
func NewPrometheusExporter() *PrometheusExporter {
	labels := []string{"session_name"}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lesca",
			Subsystem: "pool",
			Name:      name,
			Help:      help,
		}, labels)
	}

	e := &PrometheusExporter{
		registry:     prometheus.NewRegistry(),
		poolSize:     gauge("size", "Configured pool size"),
		active:       gauge("active_browsers", "Browsers currently checked out"),
		idle:         gauge("idle_browsers", "Browsers currently idle"),
		acquisitions: gauge("acquisitions_total", "Lifetime acquisitions"),
		releases:     gauge("releases_total", "Lifetime releases"),
		failures:     gauge("failures_total", "Lifetime launch/health-check failures"),
		created:      gauge("browsers_created_total", "Lifetime browsers created"),
		destroyed:    gauge("browsers_destroyed_total", "Lifetime browsers destroyed"),
		acqPerMinute: gauge("acquisitions_per_minute", "Windowed acquisition rate"),
		failureRate:  gauge("failure_rate", "Windowed failure rate (0-1)"),
		circuitTrips: gauge("circuit_trips_total", "Lifetime circuit breaker trips"),
		circuitState: gauge("circuit_state", "0=closed 1=half-open 2=open"),
		acquireAvgMs: gauge("acquire_avg_ms", "Average acquire duration in ms"),
		releaseAvgMs: gauge("release_avg_ms", "Average release duration in ms"),
		createAvgMs:  gauge("browser_create_avg_ms", "Average browser create duration in ms"),
	}

	e.registry.MustRegister(
		e.poolSize, e.active, e.idle, e.acquisitions, e.releases, e.failures,
		e.created, e.destroyed, e.acqPerMinute, e.failureRate, e.circuitTrips,
		e.circuitState, e.acquireAvgMs, e.releaseAvgMs, e.createAvgMs,
	)
	return e
}

// Update overwrites every gauge from the collector's current state. The
// caller decides the refresh cadence (e.g. on each /metrics scrape, or a
// Collector.Subscribe-driven stream).
func (e *PrometheusExporter) Update(c *Collector) {
	for _, s := range c.AllSessionMetrics() {
		labels := prometheus.Labels{"session_name": s.SessionName}
		e.poolSize.With(labels).Set(float64(s.PoolSize))
		e.active.With(labels).Set(float64(s.Active))
		e.idle.With(labels).Set(float64(s.Idle))
		e.acquisitions.With(labels).Set(float64(s.Acquisitions))
		e.releases.With(labels).Set(float64(s.Releases))
		e.failures.With(labels).Set(float64(s.Failures))
		e.created.With(labels).Set(float64(s.Created))
		e.destroyed.With(labels).Set(float64(s.Destroyed))
		e.acqPerMinute.With(labels).Set(s.AcquisitionsPerMinute)
		e.failureRate.With(labels).Set(s.FailureRate)
		e.circuitTrips.With(labels).Set(float64(s.CircuitTrips))
		e.circuitState.With(labels).Set(circuitStateValue(s.CircuitState))
		e.acquireAvgMs.With(labels).Set(s.AcquireTiming.AvgMs)
		e.releaseAvgMs.With(labels).Set(s.ReleaseTiming.AvgMs)
		e.createAvgMs.With(labels).Set(s.BrowserCreateTiming.AvgMs)
	}
}

func circuitStateValue(s types.BreakerState) float64 {
	switch s {
	case types.BreakerHalfOpen:
		return 1
	case types.BreakerOpen:
		return 2
	default:
		return 0
	}
}

// Handler returns the Prometheus scrape HTTP handler for this exporter's registry.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
