// Package prometheus owns the worker's metric registry and the metrics of
// the ingest loop. The pipeline's own metrics live in intelligence/common
// and register on the same Registerer.
package prometheus

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/monitoring/logging"
)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Namespace      string
	Subsystem      string
	ProcessMetrics bool
	GoMetrics      bool
	ConstLabels    prometheus.Labels
}

// Registry wraps a private prometheus.Registry. Registering a name twice
// returns the vector registered first. A vector whose name is taken by a
// different metric type is returned detached and never exported.
type Registry struct {
	reg    *prometheus.Registry
	cfg    RegistryConfig
	logger logging.Logger

	mu   sync.Mutex
	vecs map[string]prometheus.Collector
}

// NewRegistry creates a Registry. Namespace is required.
func NewRegistry(cfg RegistryConfig, logger logging.Logger) (*Registry, error) {
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("prometheus: namespace is required")
	}
	reg := prometheus.NewRegistry()
	if cfg.ProcessMetrics {
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: cfg.Namespace}))
	}
	if cfg.GoMetrics {
		reg.MustRegister(collectors.NewGoCollector())
	}
	return &Registry{
		reg:    reg,
		cfg:    cfg,
		logger: logging.OrNop(logger),
		vecs:   make(map[string]prometheus.Collector),
	}, nil
}

// Handler serves the registry in the OpenMetrics format when asked for it.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registerer is for components that own their collectors.
func (r *Registry) Registerer() prometheus.Registerer { return r.reg }

func (r *Registry) opts(name, help string) prometheus.Opts {
	return prometheus.Opts{
		Namespace:   r.cfg.Namespace,
		Subsystem:   r.cfg.Subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: r.cfg.ConstLabels,
	}
}

// Counter registers a counter vector.
func (r *Registry) Counter(name, help string, labels ...string) *prometheus.CounterVec {
	return register(r, name, prometheus.NewCounterVec(prometheus.CounterOpts(r.opts(name, help)), labels))
}

// Gauge registers a gauge vector.
func (r *Registry) Gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return register(r, name, prometheus.NewGaugeVec(prometheus.GaugeOpts(r.opts(name, help)), labels))
}

// Histogram registers a histogram vector; nil buckets means prometheus.DefBuckets.
func (r *Registry) Histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	o := r.opts(name, help)
	return register(r, name, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   o.Namespace,
		Subsystem:   o.Subsystem,
		Name:        o.Name,
		Help:        o.Help,
		ConstLabels: o.ConstLabels,
		Buckets:     buckets,
	}, labels))
}

func register[V prometheus.Collector](r *Registry, name string, v V) V {
	fq := prometheus.BuildFQName(r.cfg.Namespace, r.cfg.Subsystem, name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.vecs[fq]; ok {
		if same, ok := existing.(V); ok {
			return same
		}
		r.logger.Warn("metric name taken by another type", logging.String("name", fq))
		return v
	}
	if err := r.reg.Register(v); err != nil {
		r.logger.Error("failed to register metric", logging.String("name", fq), logging.Err(err))
		return v
	}
	r.vecs[fq] = v
	return v
}
