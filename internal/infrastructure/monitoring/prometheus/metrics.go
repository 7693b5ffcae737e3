package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Record outcomes of the ingest worker.
const (
	OutcomeProcessed    = "processed"
	OutcomeRetried      = "retried"
	OutcomeFailed       = "failed"
	OutcomeDeadLettered = "dead_lettered"
)

// WorkerMetrics holds the metrics of the ingest worker around the
// pipeline's own intelligence metrics.
type WorkerMetrics struct {
	RecordsTotal         *prometheus.CounterVec
	RecordDuration       *prometheus.HistogramVec
	ConsumerLag          *prometheus.GaugeVec
	PublishedTotal       *prometheus.CounterVec
	SinkWritesTotal      *prometheus.CounterVec
	SinkWriteDuration    *prometheus.HistogramVec
	HealthCheckStatus    *prometheus.GaugeVec
	ServiceUptime        *prometheus.GaugeVec
	KnowledgeBaseEntries *prometheus.GaugeVec
	ErrorsTotal          *prometheus.CounterVec
}

var (
	DefaultRecordDurationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultDBDurationBuckets     = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5}
)

// NewWorkerMetrics registers all worker metrics on r.
func NewWorkerMetrics(r *Registry) *WorkerMetrics {
	m := &WorkerMetrics{}

	m.RecordsTotal = r.Counter("records_total", "Kafka records handled", "topic", "outcome")
	m.RecordDuration = r.Histogram("record_duration_seconds", "Time spent handling one record", DefaultRecordDurationBuckets, "topic")
	m.ConsumerLag = r.Gauge("consumer_lag", "Records behind the partition high-water mark", "group")
	m.PublishedTotal = r.Counter("published_total", "Processed messages published", "topic", "quality_bucket")

	m.SinkWritesTotal = r.Counter("sink_writes_total", "Result sink writes", "sink", "status")
	m.SinkWriteDuration = r.Histogram("sink_write_duration_seconds", "Result sink write duration", DefaultDBDurationBuckets, "sink")

	m.HealthCheckStatus = r.Gauge("health_check_status", "Health check status (1=up, 0=down)", "component")
	m.ServiceUptime = r.Gauge("service_uptime_seconds", "Service uptime", "service")
	m.KnowledgeBaseEntries = r.Gauge("knowledge_base_entries", "Entries in the loaded knowledge base", "source")
	m.ErrorsTotal = r.Counter("errors_total", "Total errors", "component", "error_type")

	return m
}

// ObserveRecord records one handled record.
func (m *WorkerMetrics) ObserveRecord(topic, outcome string, d time.Duration) {
	m.RecordsTotal.WithLabelValues(topic, outcome).Inc()
	m.RecordDuration.WithLabelValues(topic).Observe(d.Seconds())
}

// ObservePublish records a processed message written to topic.
func (m *WorkerMetrics) ObservePublish(topic, qualityBucket string) {
	m.PublishedTotal.WithLabelValues(topic, qualityBucket).Inc()
}

// ObserveSinkWrite records one result sink write.
func (m *WorkerMetrics) ObserveSinkWrite(sink string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
		m.ErrorsTotal.WithLabelValues(sink, "write").Inc()
	}
	m.SinkWritesTotal.WithLabelValues(sink, status).Inc()
	m.SinkWriteDuration.WithLabelValues(sink).Observe(d.Seconds())
}

// SetHealth sets the health gauge of component.
func (m *WorkerMetrics) SetHealth(component string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	m.HealthCheckStatus.WithLabelValues(component).Set(v)
}

// SetConsumerLag sets the lag gauge of group.
func (m *WorkerMetrics) SetConsumerLag(group string, lag int64) {
	m.ConsumerLag.WithLabelValues(group).Set(float64(lag))
}

// SetUptime sets the uptime gauge of service from its start time.
func (m *WorkerMetrics) SetUptime(service string, since time.Time) {
	m.ServiceUptime.WithLabelValues(service).Set(time.Since(since).Seconds())
}
