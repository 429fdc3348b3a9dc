package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the Prometheus recorder.
type Config struct {
	// Namespace is the metrics namespace (default: "islandsync").
	Namespace string

	// ConstLabels are added to every metric.
	ConstLabels prometheus.Labels

	// Registry defaults to prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// Option configures the Prometheus recorder.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the registry metrics are registered with.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Prometheus implements Recorder with Prometheus collectors.
type Prometheus struct {
	envelopesApplied  *prometheus.CounterVec
	envelopesDropped  *prometheus.CounterVec
	globalsStale      prometheus.Counter
	mounts            *prometheus.CounterVec
	unmounts          *prometheus.CounterVec
	mountedInstances  prometheus.Gauge
	resolutionFailure *prometheus.CounterVec
	formEvents        *prometheus.CounterVec
}

var _ Recorder = (*Prometheus)(nil)

// NewPrometheus registers the engine collectors.
func NewPrometheus(opts ...Option) *Prometheus {
	config := Config{
		Namespace: "islandsync",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)

	return &Prometheus{
		envelopesApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "envelopes_applied_total",
			Help:        "Inbound envelopes applied to a store, by event",
			ConstLabels: config.ConstLabels,
		}, []string{"event"}),

		envelopesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "envelopes_dropped_total",
			Help:        "Inbound envelopes dropped, by event and reason",
			ConstLabels: config.ConstLabels,
		}, []string{"event", "reason"}),

		globalsStale: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "globals_stale_total",
			Help:        "Globals snapshots discarded by the version gate",
			ConstLabels: config.ConstLabels,
		}),

		mounts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "mounts_total",
			Help:        "Island mounts completed, by render strategy",
			ConstLabels: config.ConstLabels,
		}, []string{"strategy"}),

		unmounts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "unmounts_total",
			Help:        "Island unmounts, by render strategy",
			ConstLabels: config.ConstLabels,
		}, []string{"strategy"}),

		mountedInstances: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "mounted_instances",
			Help:        "Islands currently mounted",
			ConstLabels: config.ConstLabels,
		}),

		resolutionFailure: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "resolution_failures_total",
			Help:        "Component resolutions that failed, by component name",
			ConstLabels: config.ConstLabels,
		}, []string{"component"}),

		formEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "form_events_total",
			Help:        "Form validate/submit events emitted",
			ConstLabels: config.ConstLabels,
		}, []string{"event"}),
	}
}

func (p *Prometheus) EnvelopeApplied(event string) {
	p.envelopesApplied.WithLabelValues(event).Inc()
}

func (p *Prometheus) EnvelopeDropped(event, reason string) {
	p.envelopesDropped.WithLabelValues(event, reason).Inc()
}

func (p *Prometheus) GlobalsStale() {
	p.globalsStale.Inc()
}

func (p *Prometheus) Mounted(strategy string) {
	p.mounts.WithLabelValues(strategy).Inc()
	p.mountedInstances.Inc()
}

func (p *Prometheus) Unmounted(strategy string) {
	p.unmounts.WithLabelValues(strategy).Inc()
	p.mountedInstances.Dec()
}

func (p *Prometheus) ResolutionFailed(component string) {
	p.resolutionFailure.WithLabelValues(component).Inc()
}

func (p *Prometheus) FormEmitted(event string) {
	p.formEvents.WithLabelValues(event).Inc()
}
