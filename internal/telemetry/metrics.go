// Package telemetry exposes the supervisor's cyclic pipeline to two
// non-owned external collaborators spec.md §1 excludes from the core:
// a Prometheus metrics endpoint and a publish/subscribe feedback feed.
// Neither the Metrics nor the Publisher type is imported by
// internal/fleet; cmd/supervisord drives both from the outside by
// reading fleet.Fleet's already-public FeedbackOut bundle once per tick,
// keeping the core itself collaborator-agnostic per spec.md §1/§6.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide Prometheus registry for the supervisor,
// grounded on openshift-library-go/pkg/operator/certrotation's
// custom-collector use of github.com/prometheus/client_golang, scaled
// down to the promauto convenience constructors since the supervisor's
// metrics are plain gauges/counters/histograms rather than a lister-driven
// Collect() implementation.
type Metrics struct {
	registry *prometheus.Registry

	tickDuration     prometheus.Histogram
	tickErrors       prometheus.Counter
	supervisorState  *prometheus.GaugeVec
	driveFault       *prometheus.GaugeVec
	driveGoalReached *prometheus.GaugeVec
	faultsTotal      prometheus.Counter
}

// New builds a Metrics registry with every series pre-registered (no
// surprise cardinality at runtime; drive label values are bounded by the
// fleet's discovered addr_slug set).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "supervisor_tick_duration_seconds",
			Help:    "Wall-clock duration of one cyclic pipeline tick.",
			Buckets: prometheus.DefBuckets,
		}),
		tickErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "supervisor_tick_errors_total",
			Help: "Ticks that hit exception containment (spec.md §4.6).",
		}),
		supervisorState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "supervisor_state",
			Help: "1 for the currently active supervisor state tag, 0 otherwise.",
		}, []string{"state"}),
		driveFault: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "supervisor_drive_fault",
			Help: "1 if the drive's feedback_out.fault is currently set.",
		}, []string{"addr_slug"}),
		driveGoalReached: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "supervisor_drive_goal_reached",
			Help: "1 if the drive's feedback_out.goal_reached is currently set.",
		}, []string{"addr_slug"}),
		faultsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "supervisor_faults_total",
			Help: "Count of new-fault escalations into fault_1 (spec.md §4.5).",
		}),
	}
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTick records one tick's wall-clock duration.
func (m *Metrics) ObserveTick(d time.Duration) {
	m.tickDuration.Observe(d.Seconds())
}

// ObserveTickError increments the exception-containment counter.
func (m *Metrics) ObserveTickError() {
	m.tickErrors.Inc()
}

// ObserveFault increments the new-fault counter; cmd/supervisord calls it
// once each time the fleet's feedback_out fault bit goes from clear to set.
func (m *Metrics) ObserveFault() {
	m.faultsTotal.Inc()
}

// SetSupervisorState sets the active-state gauge; only the label matching
// state is set to 1, every other previously-seen label is reset to 0 so
// stale series don't linger at 1 after a transition.
func (m *Metrics) SetSupervisorState(states []string, active string) {
	for _, s := range states {
		v := 0.0
		if s == active {
			v = 1.0
		}
		m.supervisorState.WithLabelValues(s).Set(v)
	}
}

// SetDriveFault records one drive's current fault bit.
func (m *Metrics) SetDriveFault(addrSlug string, fault bool) {
	m.driveFault.WithLabelValues(addrSlug).Set(boolToFloat(fault))
}

// SetDriveGoalReached records one drive's current goal_reached bit.
func (m *Metrics) SetDriveGoalReached(addrSlug string, reached bool) {
	m.driveGoalReached.WithLabelValues(addrSlug).Set(boolToFloat(reached))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
