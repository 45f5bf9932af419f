package rendezvous

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "punch"
	metricsSubsystem = "rendezvous"
)

// Drop reasons, used as the "reason" label of Metrics.Dropped.
const (
	DropUnknownOrigin = "unknown_origin"
	DropMalformed     = "malformed"
	DropNoRelay       = "no_relay"
)

type Metrics struct {
	Registrations        prometheus.Counter
	IgnoredRegistrations prometheus.Counter
	Pairings             prometheus.Counter
	Forwarded            prometheus.Counter
	Exits                prometheus.Counter
	Dropped              *prometheus.CounterVec
	WriteErrors          prometheus.Counter

	Waiting prometheus.Gauge
	Links   prometheus.Gauge
}

// NewMetrics creates the server metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		}
	}

	return &Metrics{
		Registrations:        f.NewCounter(opts("registrations_total", "Accepted registrations.")),
		IgnoredRegistrations: f.NewCounter(opts("ignored_registrations_total", "Registrations from peers that were already waiting or linked.")),
		Pairings:             f.NewCounter(opts("pairings_total", "Peer pairs matched.")),
		Forwarded:            f.NewCounter(opts("forwarded_total", "Datagrams relayed between linked peers.")),
		Exits:                f.NewCounter(opts("exits_total", "Links torn down by an exit token.")),
		WriteErrors:          f.NewCounter(opts("write_errors_total", "Failed socket writes.")),
		Dropped:              f.NewCounterVec(opts("dropped_total", "Datagrams dropped, by reason."), []string{"reason"}),

		Waiting: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "waiting_peers",
			Help:      "Registered peers waiting for a partner.",
		}),
		Links: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "links",
			Help:      "Linked peer pairs held for relaying.",
		}),
	}
}
