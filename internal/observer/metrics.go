package observer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the observer's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	machinesOnline       prometheus.Gauge
	machineAdds          *prometheus.CounterVec
	machineRemovals      prometheus.Counter
	publishes            *prometheus.CounterVec
	machineListPublishes prometheus.Counter
	discoveryCycles      *prometheus.CounterVec
	discoveryDuration    prometheus.Histogram
}

// NewMetrics registers the observer collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		machinesOnline: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "machine_bridge",
			Name:      "machines_online",
			Help:      "Machines currently registered as online.",
		}),
		machineAdds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "machine_bridge",
			Name:      "machine_adds_total",
			Help:      "Machine registration attempts by result.",
		}, []string{"result"}),
		machineRemovals: f.NewCounter(prometheus.CounterOpts{
			Namespace: "machine_bridge",
			Name:      "machine_removals_total",
			Help:      "Machines removed from the registry.",
		}),
		publishes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "machine_bridge",
			Name:      "machine_publishes_total",
			Help:      "Per-machine telemetry publishes by result.",
		}, []string{"result"}),
		machineListPublishes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "machine_bridge",
			Name:      "machine_list_publishes_total",
			Help:      "Aggregate machine list publishes.",
		}),
		discoveryCycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "machine_bridge",
			Name:      "discovery_cycles_total",
			Help:      "Discovery cycles by result.",
		}, []string{"result"}),
		discoveryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "machine_bridge",
			Name:      "discovery_duration_seconds",
			Help:      "Duration of discovery cycles.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) setOnline(n int) {
	if m == nil {
		return
	}
	m.machinesOnline.Set(float64(n))
}

func (m *Metrics) machineAdded(result string) {
	if m == nil {
		return
	}
	m.machineAdds.WithLabelValues(result).Inc()
}

func (m *Metrics) machineRemoved() {
	if m == nil {
		return
	}
	m.machineRemovals.Inc()
}

func (m *Metrics) published(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.publishes.WithLabelValues(result).Inc()
}

func (m *Metrics) machineListPublished() {
	if m == nil {
		return
	}
	m.machineListPublishes.Inc()
}

func (m *Metrics) discovered(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.discoveryCycles.WithLabelValues(result).Inc()
	m.discoveryDuration.Observe(elapsed.Seconds())
}
