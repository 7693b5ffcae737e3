package common

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// IntelligenceMetrics is the telemetry API of the pipeline. Every stage
// records through it so the implementation (Prometheus, in-memory, noop) can
// be swapped without touching pipeline code.
type IntelligenceMetrics interface {
	// RecordInference records one model call (classifier or NER).
	RecordInference(ctx context.Context, params *InferenceMetricParams)

	// RecordBatchProcessing records the outcome of one batch run.
	RecordBatchProcessing(ctx context.Context, params *BatchMetricParams)

	// RecordCacheAccess records a cache hit or miss for the named cache.
	RecordCacheAccess(ctx context.Context, hit bool, cacheName string)

	// RecordModelLoad records a registry load attempt.
	RecordModelLoad(ctx context.Context, modelName string, durationMs float64, success bool)

	// RecordLink records which linking stage resolved an entity.
	RecordLink(ctx context.Context, method string, entityType string)

	// RecordMessage records one assembled message.
	RecordMessage(ctx context.Context, params *MessageMetricParams)

	GetInferenceLatencyHistogram() LatencyHistogram
	GetCurrentStats() *IntelligenceStats
}

// LatencyHistogram provides percentile-based latency observation.
type LatencyHistogram interface {
	Observe(durationMs float64)
	// Percentile returns the value at p (0–100).
	Percentile(p float64) float64
	Count() int64
	Sum() float64
}

// InferenceMetricParams carries the data for a single inference event.
type InferenceMetricParams struct {
	ModelName  string  `json:"model_name"`
	Backend    string  `json:"backend"`
	TaskType   string  `json:"task_type"`
	DurationMs float64 `json:"duration_ms"`
	Success    bool    `json:"success"`
	BatchSize  int     `json:"batch_size"`
}

// BatchMetricParams carries the data for a batch processing event.
type BatchMetricParams struct {
	BatchName         string  `json:"batch_name"`
	TotalItems        int     `json:"total_items"`
	SuccessItems      int     `json:"success_items"`
	FailedItems       int     `json:"failed_items"`
	TimeoutItems      int     `json:"timeout_items"`
	CancelledItems    int     `json:"cancelled_items"`
	TotalDurationMs   float64 `json:"total_duration_ms"`
	AvgItemDurationMs float64 `json:"avg_item_duration_ms"`
	MaxConcurrency    int     `json:"max_concurrency"`
}

// MessageMetricParams describes one processed message.
type MessageMetricParams struct {
	Status        string  `json:"status"`
	IsMedical     bool    `json:"is_medical"`
	QualityBucket string  `json:"quality_bucket"`
	EntityCount   int     `json:"entity_count"`
	DurationMs    float64 `json:"duration_ms"`
}

// IntelligenceStats is a point-in-time snapshot.
type IntelligenceStats struct {
	TotalInferences       int64            `json:"total_inferences"`
	SuccessfulInferences  int64            `json:"successful_inferences"`
	FailedInferences      int64            `json:"failed_inferences"`
	AvgInferenceLatencyMs float64          `json:"avg_inference_latency_ms"`
	P50LatencyMs          float64          `json:"p50_latency_ms"`
	P95LatencyMs          float64          `json:"p95_latency_ms"`
	P99LatencyMs          float64          `json:"p99_latency_ms"`
	CacheHitRate          float64          `json:"cache_hit_rate"`
	MessagesProcessed     int64            `json:"messages_processed"`
	MedicalMessages       int64            `json:"medical_messages"`
	LinkMethods           map[string]int64 `json:"link_methods"`
}

var defaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

type prometheusIntelligenceMetrics struct {
	inferenceLatency        *prometheus.HistogramVec
	inferenceTotal          *prometheus.CounterVec
	batchProcessingDuration *prometheus.HistogramVec
	batchItemsTotal         *prometheus.CounterVec
	cacheAccessTotal        *prometheus.CounterVec
	modelLoadDuration       *prometheus.HistogramVec
	linkTotal               *prometheus.CounterVec
	messagesTotal           *prometheus.CounterVec
	messageDuration         prometheus.Histogram
	entitiesPerMessage      prometheus.Histogram

	latencyHist *latencyHistogram
	totalInf    atomic.Int64
	successInf  atomic.Int64
	failedInf   atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	messages    atomic.Int64
	medical     atomic.Int64
	linkMethods sync.Map // method -> *atomic.Int64
}

// NewPrometheusIntelligenceMetrics creates a Prometheus-backed collector and
// registers it with registerer (the default registerer when nil). Metric
// names are prefixed with namespace + "_pipeline_".
func NewPrometheusIntelligenceMetrics(registerer prometheus.Registerer, namespace string) (IntelligenceMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "medextract"
	}
	const subsystem = "pipeline"

	m := &prometheusIntelligenceMetrics{latencyHist: newLatencyHistogram()}

	m.inferenceLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name:    "inference_duration_milliseconds",
		Help:    "Model inference latency in milliseconds.",
		Buckets: defaultLatencyBuckets,
	}, []string{"model_name", "backend", "task_type"})

	m.inferenceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "inference_total",
		Help: "Model inferences by outcome.",
	}, []string{"model_name", "task_type", "status"})

	m.batchProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name:    "batch_processing_duration_milliseconds",
		Help:    "Batch processing duration in milliseconds.",
		Buckets: defaultLatencyBuckets,
	}, []string{"batch_name"})

	m.batchItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "batch_items_total",
		Help: "Items processed in batches by status.",
	}, []string{"batch_name", "status"})

	m.cacheAccessTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "cache_access_total",
		Help: "Cache accesses by result.",
	}, []string{"cache", "result"})

	m.modelLoadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name:    "model_load_duration_milliseconds",
		Help:    "Model load duration in milliseconds.",
		Buckets: []float64{10, 100, 500, 1000, 5000, 15000, 60000},
	}, []string{"model_name", "status"})

	m.linkTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "link_total",
		Help: "Entity links by matching method.",
	}, []string{"method", "entity_type"})

	m.messagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "messages_total",
		Help: "Processed messages by status, relevance and quality bucket.",
	}, []string{"status", "medical", "quality"})

	m.messageDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name:    "message_duration_milliseconds",
		Help:    "End-to-end processing time per message.",
		Buckets: defaultLatencyBuckets,
	})

	m.entitiesPerMessage = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name:    "entities_per_message",
		Help:    "Number of entities extracted per message.",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
	})

	collectors := []prometheus.Collector{
		m.inferenceLatency,
		m.inferenceTotal,
		m.batchProcessingDuration,
		m.batchItemsTotal,
		m.cacheAccessTotal,
		m.modelLoadDuration,
		m.linkTotal,
		m.messagesTotal,
		m.messageDuration,
		m.entitiesPerMessage,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func (m *prometheusIntelligenceMetrics) RecordInference(_ context.Context, p *InferenceMetricParams) {
	if p == nil {
		return
	}
	m.inferenceLatency.WithLabelValues(p.ModelName, p.Backend, p.TaskType).Observe(p.DurationMs)
	m.inferenceTotal.WithLabelValues(p.ModelName, p.TaskType, statusLabel(p.Success)).Inc()

	m.latencyHist.Observe(p.DurationMs)
	m.totalInf.Add(1)
	if p.Success {
		m.successInf.Add(1)
	} else {
		m.failedInf.Add(1)
	}
}

func (m *prometheusIntelligenceMetrics) RecordBatchProcessing(_ context.Context, p *BatchMetricParams) {
	if p == nil {
		return
	}
	m.batchProcessingDuration.WithLabelValues(p.BatchName).Observe(p.TotalDurationMs)
	m.batchItemsTotal.WithLabelValues(p.BatchName, "success").Add(float64(p.SuccessItems))
	m.batchItemsTotal.WithLabelValues(p.BatchName, "failed").Add(float64(p.FailedItems))
	m.batchItemsTotal.WithLabelValues(p.BatchName, "timeout").Add(float64(p.TimeoutItems))
	m.batchItemsTotal.WithLabelValues(p.BatchName, "cancelled").Add(float64(p.CancelledItems))
}

func (m *prometheusIntelligenceMetrics) RecordCacheAccess(_ context.Context, hit bool, cacheName string) {
	result := "miss"
	if hit {
		result = "hit"
		m.cacheHits.Add(1)
	} else {
		m.cacheMisses.Add(1)
	}
	m.cacheAccessTotal.WithLabelValues(cacheName, result).Inc()
}

func (m *prometheusIntelligenceMetrics) RecordModelLoad(_ context.Context, modelName string, durationMs float64, success bool) {
	m.modelLoadDuration.WithLabelValues(modelName, statusLabel(success)).Observe(durationMs)
}

func (m *prometheusIntelligenceMetrics) RecordLink(_ context.Context, method string, entityType string) {
	m.linkTotal.WithLabelValues(method, entityType).Inc()
	v, _ := m.linkMethods.LoadOrStore(method, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

func (m *prometheusIntelligenceMetrics) RecordMessage(_ context.Context, p *MessageMetricParams) {
	if p == nil {
		return
	}
	medical := "false"
	if p.IsMedical {
		medical = "true"
		m.medical.Add(1)
	}
	m.messages.Add(1)
	m.messagesTotal.WithLabelValues(p.Status, medical, p.QualityBucket).Inc()
	m.messageDuration.Observe(p.DurationMs)
	m.entitiesPerMessage.Observe(float64(p.EntityCount))
}

func (m *prometheusIntelligenceMetrics) GetInferenceLatencyHistogram() LatencyHistogram {
	return m.latencyHist
}

func (m *prometheusIntelligenceMetrics) GetCurrentStats() *IntelligenceStats {
	total := m.totalInf.Load()
	var avgLatency float64
	if total > 0 {
		avgLatency = m.latencyHist.Sum() / float64(total)
	}
	methods := make(map[string]int64)
	m.linkMethods.Range(func(key, value any) bool {
		methods[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})
	return &IntelligenceStats{
		TotalInferences:       total,
		SuccessfulInferences:  m.successInf.Load(),
		FailedInferences:      m.failedInf.Load(),
		AvgInferenceLatencyMs: avgLatency,
		P50LatencyMs:          m.latencyHist.Percentile(50),
		P95LatencyMs:          m.latencyHist.Percentile(95),
		P99LatencyMs:          m.latencyHist.Percentile(99),
		CacheHitRate:          hitRate(m.cacheHits.Load(), m.cacheMisses.Load()),
		MessagesProcessed:     m.messages.Load(),
		MedicalMessages:       m.medical.Load(),
		LinkMethods:           methods,
	}
}

func hitRate(hits, misses int64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

type noopIntelligenceMetrics struct{}

// NewNoopIntelligenceMetrics returns a metrics implementation that records nothing.
func NewNoopIntelligenceMetrics() IntelligenceMetrics {
	return &noopIntelligenceMetrics{}
}

func (n *noopIntelligenceMetrics) RecordInference(context.Context, *InferenceMetricParams)  {}
func (n *noopIntelligenceMetrics) RecordBatchProcessing(context.Context, *BatchMetricParams) {}
func (n *noopIntelligenceMetrics) RecordCacheAccess(context.Context, bool, string)           {}
func (n *noopIntelligenceMetrics) RecordModelLoad(context.Context, string, float64, bool)    {}
func (n *noopIntelligenceMetrics) RecordLink(context.Context, string, string)                {}
func (n *noopIntelligenceMetrics) RecordMessage(context.Context, *MessageMetricParams)       {}

func (n *noopIntelligenceMetrics) GetInferenceLatencyHistogram() LatencyHistogram {
	return newLatencyHistogram()
}

func (n *noopIntelligenceMetrics) GetCurrentStats() *IntelligenceStats {
	return &IntelligenceStats{LinkMethods: map[string]int64{}}
}

// InMemoryIntelligenceMetrics keeps every record for inspection in tests.
type InMemoryIntelligenceMetrics struct {
	mu sync.Mutex

	inferences  []*InferenceMetricParams
	batches     []*BatchMetricParams
	messages    []*MessageMetricParams
	cacheHits   int64
	cacheMisses int64
	modelLoads  []ModelLoadRecord
	linkMethods map[string]int64
	latencyHist *latencyHistogram
}

// ModelLoadRecord is one RecordModelLoad call.
type ModelLoadRecord struct {
	ModelName  string
	DurationMs float64
	Success    bool
	Timestamp  time.Time
}

// NewInMemoryIntelligenceMetrics returns an empty in-memory recorder.
func NewInMemoryIntelligenceMetrics() *InMemoryIntelligenceMetrics {
	return &InMemoryIntelligenceMetrics{
		linkMethods: make(map[string]int64),
		latencyHist: newLatencyHistogram(),
	}
}

func (m *InMemoryIntelligenceMetrics) RecordInference(_ context.Context, p *InferenceMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.inferences = append(m.inferences, &cp)
	m.latencyHist.Observe(p.DurationMs)
}

func (m *InMemoryIntelligenceMetrics) RecordBatchProcessing(_ context.Context, p *BatchMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.batches = append(m.batches, &cp)
}

func (m *InMemoryIntelligenceMetrics) RecordCacheAccess(_ context.Context, hit bool, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.cacheHits++
	} else {
		m.cacheMisses++
	}
}

func (m *InMemoryIntelligenceMetrics) RecordModelLoad(_ context.Context, modelName string, durationMs float64, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelLoads = append(m.modelLoads, ModelLoadRecord{
		ModelName:  modelName,
		DurationMs: durationMs,
		Success:    success,
		Timestamp:  time.Now(),
	})
}

func (m *InMemoryIntelligenceMetrics) RecordLink(_ context.Context, method string, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.linkMethods[method]++
}

func (m *InMemoryIntelligenceMetrics) RecordMessage(_ context.Context, p *MessageMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.messages = append(m.messages, &cp)
}

func (m *InMemoryIntelligenceMetrics) GetInferenceLatencyHistogram() LatencyHistogram {
	return m.latencyHist
}

func (m *InMemoryIntelligenceMetrics) GetCurrentStats() *IntelligenceStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := int64(len(m.inferences))
	var success, failed int64
	var sumLatency float64
	for _, inf := range m.inferences {
		if inf.Success {
			success++
		} else {
			failed++
		}
		sumLatency += inf.DurationMs
	}
	var avgLatency float64
	if total > 0 {
		avgLatency = sumLatency / float64(total)
	}
	var medical int64
	for _, msg := range m.messages {
		if msg.IsMedical {
			medical++
		}
	}
	methods := make(map[string]int64, len(m.linkMethods))
	for k, v := range m.linkMethods {
		methods[k] = v
	}

	return &IntelligenceStats{
		TotalInferences:       total,
		SuccessfulInferences:  success,
		FailedInferences:      failed,
		AvgInferenceLatencyMs: avgLatency,
		P50LatencyMs:          m.latencyHist.Percentile(50),
		P95LatencyMs:          m.latencyHist.Percentile(95),
		P99LatencyMs:          m.latencyHist.Percentile(99),
		CacheHitRate:          hitRate(m.cacheHits, m.cacheMisses),
		MessagesProcessed:     int64(len(m.messages)),
		MedicalMessages:       medical,
		LinkMethods:           methods,
	}
}

// RecordedInferences returns a copy of all recorded inference params.
func (m *InMemoryIntelligenceMetrics) RecordedInferences() []InferenceMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]InferenceMetricParams, len(m.inferences))
	for i, p := range m.inferences {
		out[i] = *p
	}
	return out
}

// RecordedBatches returns a copy of all recorded batch params.
func (m *InMemoryIntelligenceMetrics) RecordedBatches() []BatchMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BatchMetricParams, len(m.batches))
	for i, p := range m.batches {
		out[i] = *p
	}
	return out
}

// RecordedMessages returns a copy of all recorded message params.
func (m *InMemoryIntelligenceMetrics) RecordedMessages() []MessageMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MessageMetricParams, len(m.messages))
	for i, p := range m.messages {
		out[i] = *p
	}
	return out
}

func (m *InMemoryIntelligenceMetrics) CacheHits() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cacheHits
}

func (m *InMemoryIntelligenceMetrics) CacheMisses() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cacheMisses
}

// ModelLoads returns a copy of all model load records.
func (m *InMemoryIntelligenceMetrics) ModelLoads() []ModelLoadRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ModelLoadRecord, len(m.modelLoads))
	copy(out, m.modelLoads)
	return out
}

// latencyHistogram is an in-memory, percentile-capable sample store.
type latencyHistogram struct {
	mu      sync.Mutex
	samples []float64
	sum     float64
	sorted  bool
}

func newLatencyHistogram() *latencyHistogram {
	return &latencyHistogram{samples: make([]float64, 0, 256)}
}

func (h *latencyHistogram) Observe(durationMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = append(h.samples, durationMs)
	h.sum += durationMs
	h.sorted = false
}

// Percentile uses linear interpolation between the two nearest ranks
// (PERCENTILE.INC).
func (h *latencyHistogram) Percentile(p float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.samples)
	if n == 0 {
		return 0
	}
	if !h.sorted {
		sort.Float64s(h.samples)
		h.sorted = true
	}
	if p <= 0 {
		return h.samples[0]
	}
	if p >= 100 {
		return h.samples[n-1]
	}
	rank := (p / 100) * float64(n-1)
	lower := int(math.Floor(rank))
	upper := lower + 1
	if upper >= n {
		return h.samples[n-1]
	}
	frac := rank - float64(lower)
	return h.samples[lower] + frac*(h.samples[upper]-h.samples[lower])
}

func (h *latencyHistogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int64(len(h.samples))
}

func (h *latencyHistogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

var (
	_ IntelligenceMetrics = (*prometheusIntelligenceMetrics)(nil)
	_ IntelligenceMetrics = (*noopIntelligenceMetrics)(nil)
	_ IntelligenceMetrics = (*InMemoryIntelligenceMetrics)(nil)
	_ LatencyHistogram    = (*latencyHistogram)(nil)
)
