package telemetry

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/energizer-project/pingcache/internal/events"
	"github.com/energizer-project/pingcache/internal/motd"
)

const namespace = "pingcache"

// Metrics exposes responder activity as Prometheus collectors. It plugs
// into the status listener as an observer and a connection hook, and
// follows content and occupancy changes through the event bus.
type Metrics struct {
	registry *prometheus.Registry

	connections  prometheus.Counter
	served       *prometheus.CounterVec
	improper     *prometheus.CounterVec
	loginRefused *prometheus.CounterVec

	reloads     prometheus.Counter
	generation  prometheus.Gauge
	holders     prometheus.Gauge
	holderBytes prometheus.Gauge
	skipped     prometheus.Gauge
	maintenance prometheus.Gauge

	reported   prometheus.Gauge
	online     prometheus.Gauge
	maxOnline  prometheus.Gauge
	failed     prometheus.Gauge
	healthy    prometheus.Gauge
	probeDelay prometheus.Gauge
}

// NewMetrics creates the collectors on a private registry that also
// carries the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		connections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Accepted client connections",
		}),
		served: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Status responses served, by protocol era",
		}, []string{"era", "substituted"}),
		improper: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "improper_pings_total",
			Help:      "Out-of-order status exchanges",
		}, []string{"tolerated"}),
		loginRefused: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_refused_total",
			Help:      "Login attempts answered by the responder",
		}, []string{"kicked"}),

		reloads: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reloads_total",
			Help:      "Completed content rebuilds",
		}),
		generation: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "content_generation",
			Help:      "Generation of the installed content",
		}),
		holders: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "holders",
			Help:      "Pre-encoded response holders",
		}),
		holderBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "holder_bytes",
			Help:      "Bytes held by pre-encoded responses",
		}),
		skipped: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "content_problems",
			Help:      "Content entries skipped during the last rebuild",
		}),
		maintenance: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "maintenance",
			Help:      "1 while maintenance mode is enabled",
		}),

		reported: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "players_reported",
			Help:      "Player count reported by the counter",
		}),
		online: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "players_online",
			Help:      "Online count served to clients",
		}),
		maxOnline: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "players_max",
			Help:      "Max count served to clients",
		}),
		failed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "occupancy_patch_failures",
			Help:      "Holders that failed the last occupancy patch",
		}),
		healthy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "healthy",
			Help:      "1 when the last self probe succeeded",
		}),
		probeDelay: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "probe_latency_seconds",
			Help:      "Latency of the last self probe",
		}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Attach subscribes the gauges to bus events.
func (m *Metrics) Attach(bus *events.EventBus) {
	bus.SubscribeAll("metrics", m.onEvent,
		events.EventReload,
		events.EventMaintenanceChange,
		events.EventOccupancyUpdated,
		events.EventHealth,
	)
}

func (m *Metrics) onEvent(ctx context.Context, ev events.Event) error {
	switch p := ev.Payload.(type) {
	case events.ReloadPayload:
		m.reloads.Inc()
		m.generation.Set(float64(p.Generation))
		m.holders.Set(float64(p.Holders))
		m.holderBytes.Set(float64(p.Bytes))
		m.skipped.Set(float64(p.Skipped))
	case events.MaintenancePayload:
		m.SetMaintenance(p.Enabled)
	case events.OccupancyPayload:
		m.reported.Set(float64(p.Reported))
		m.online.Set(float64(p.Online))
		m.maxOnline.Set(float64(p.Max))
		m.failed.Set(float64(p.Failed))
	case events.HealthPayload:
		m.healthy.Set(boolGauge(p.Healthy))
		m.probeDelay.Set(p.Latency.Seconds())
	}
	return nil
}

// SetMaintenance records the current maintenance state.
func (m *Metrics) SetMaintenance(enabled bool) {
	m.maintenance.Set(boolGauge(enabled))
}

// OnConnect counts the connection and never rejects it.
func (m *Metrics) OnConnect(net.Addr) bool {
	m.connections.Inc()
	return true
}

func (m *Metrics) Served(era motd.Era, substituted bool) {
	m.served.WithLabelValues(era.String(), strconv.FormatBool(substituted)).Inc()
}

func (m *Metrics) Improper(_ net.IP, _ string, tolerated bool) {
	m.improper.WithLabelValues(strconv.FormatBool(tolerated)).Inc()
}

func (m *Metrics) LoginRefused(kicked bool) {
	m.loginRefused.WithLabelValues(strconv.FormatBool(kicked)).Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
