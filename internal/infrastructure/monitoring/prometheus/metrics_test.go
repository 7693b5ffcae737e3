package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkerMetrics(t *testing.T) (*WorkerMetrics, *Registry) {
	r := newTestRegistry(t)
	m := NewWorkerMetrics(r)
	require.NotNil(t, m)
	return m, r
}

func TestObserveRecord(t *testing.T) {
	m, c := newTestWorkerMetrics(t)

	m.ObserveRecord("medical.messages.raw", OutcomeProcessed, 20*time.Millisecond)
	m.ObserveRecord("medical.messages.raw", OutcomeProcessed, 30*time.Millisecond)
	m.ObserveRecord("medical.messages.raw", OutcomeDeadLettered, time.Millisecond)

	output := scrapeMetrics(t, c)
	assert.Contains(t, output, `test_unit_records_total{outcome="processed",topic="medical.messages.raw"} 2`)
	assert.Contains(t, output, `test_unit_records_total{outcome="dead_lettered",topic="medical.messages.raw"} 1`)
	assert.Contains(t, output, `test_unit_record_duration_seconds_count{topic="medical.messages.raw"} 3`)
}

func TestObservePublish(t *testing.T) {
	m, c := newTestWorkerMetrics(t)

	m.ObservePublish("out", "high")

	assert.Contains(t, scrapeMetrics(t, c), `test_unit_published_total{quality_bucket="high",topic="out"} 1`)
}

func TestObserveSinkWrite(t *testing.T) {
	m, c := newTestWorkerMetrics(t)

	m.ObserveSinkWrite("postgres", 5*time.Millisecond, nil)
	m.ObserveSinkWrite("postgres", 5*time.Millisecond, errors.New("db error"))

	output := scrapeMetrics(t, c)
	assert.Contains(t, output, `test_unit_sink_writes_total{sink="postgres",status="success"} 1`)
	assert.Contains(t, output, `test_unit_sink_writes_total{sink="postgres",status="failure"} 1`)
	assert.Contains(t, output, `test_unit_errors_total{component="postgres",error_type="write"} 1`)
	assert.Contains(t, output, `test_unit_sink_write_duration_seconds_count{sink="postgres"} 2`)
}

func TestGauges(t *testing.T) {
	m, c := newTestWorkerMetrics(t)

	m.SetHealth("kafka", true)
	m.SetHealth("postgres", false)
	m.SetConsumerLag("workers", 42)
	m.KnowledgeBaseEntries.WithLabelValues("seed").Set(120)

	output := scrapeMetrics(t, c)
	assert.Contains(t, output, `test_unit_health_check_status{component="kafka"} 1`)
	assert.Contains(t, output, `test_unit_health_check_status{component="postgres"} 0`)
	assert.Contains(t, output, `test_unit_consumer_lag{group="workers"} 42`)
	assert.Contains(t, output, `test_unit_knowledge_base_entries{source="seed"} 120`)
}

func TestSetUptime(t *testing.T) {
	m, c := newTestWorkerMetrics(t)

	m.SetUptime("worker", time.Now().Add(-time.Minute))

	assert.Contains(t, scrapeMetrics(t, c), `test_unit_service_uptime_seconds{service="worker"}`)
}

func TestConcurrentMetricRecording(t *testing.T) {
	m, c := newTestWorkerMetrics(t)

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				m.ObserveRecord("t", OutcomeProcessed, time.Millisecond)
			}
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.Contains(t, scrapeMetrics(t, c), `test_unit_records_total{outcome="processed",topic="t"} 1000`)
}
