package kafka

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/monitoring/logging"
)

type mockKafkaWriter struct {
	writeFunc func(ctx context.Context, msgs ...kafka.Message) error
	written   []kafka.Message
	closed    int
}

func (m *mockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.written = append(m.written, msgs...)
	if m.writeFunc != nil {
		return m.writeFunc(ctx, msgs...)
	}
	return nil
}

func (m *mockKafkaWriter) Close() error {
	m.closed++
	return nil
}

func newTestProducer(w WriterInterface) *Producer {
	return &Producer{
		writer:  w,
		config:  ProducerConfig{Brokers: []string{"localhost:9092"}, MaxMessageBytes: 64},
		logger:  logging.NewNopLogger(),
		metrics: &ProducerMetrics{},
	}
}

func TestValidateProducerConfig(t *testing.T) {
	assert.NoError(t, ValidateProducerConfig(ProducerConfig{Brokers: []string{"b:9092"}}))
	assert.Error(t, ValidateProducerConfig(ProducerConfig{}))
	assert.Error(t, ValidateProducerConfig(ProducerConfig{Brokers: []string{"b:9092"}, MaxRetries: -1}))
}

func TestNewProducer_AppliesDefaults(t *testing.T) {
	p, err := NewProducer(ProducerConfig{Brokers: []string{"localhost:9092"}, CompressionCodec: "snappy"}, nil)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 3, p.config.MaxRetries)
	assert.Equal(t, 100, p.config.BatchSize)
	assert.Equal(t, 1024*1024, p.config.MaxMessageBytes)
	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
	assert.Equal(t, 4, w.MaxAttempts)
}

func TestPublish_Success(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	err := p.Publish(context.Background(), &ProducerMessage{
		Topic: "t", Key: []byte("k"), Value: []byte("v"),
		Headers: map[string]string{"status": "success"}, Timestamp: ts,
	})
	require.NoError(t, err)
	require.Len(t, w.written, 1)
	assert.Equal(t, "t", w.written[0].Topic)
	assert.Equal(t, ts, w.written[0].Time)
	require.Len(t, w.written[0].Headers, 1)
	assert.Equal(t, "status", w.written[0].Headers[0].Key)
	assert.Equal(t, int64(1), p.Sent())
}

func TestPublish_Validation(t *testing.T) {
	p := newTestProducer(&mockKafkaWriter{})
	tests := []struct {
		name string
		msg  *ProducerMessage
	}{
		{"nil", nil},
		{"no topic", &ProducerMessage{Value: []byte("v")}},
		{"no value", &ProducerMessage{Topic: "t"}},
		{"too large", &ProducerMessage{Topic: "t", Value: make([]byte, 65)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, p.Publish(context.Background(), tt.msg))
		})
	}
}

func TestPublish_WriteError(t *testing.T) {
	w := &mockKafkaWriter{writeFunc: func(context.Context, ...kafka.Message) error { return stderrors.New("boom") }}
	p := newTestProducer(w)

	err := p.Publish(context.Background(), &ProducerMessage{Topic: "t", Value: []byte("v")})
	assert.Error(t, err)
	assert.Equal(t, int64(1), p.Failed())
}

func TestPublishBatch(t *testing.T) {
	msgs := []*ProducerMessage{
		{Topic: "t", Value: []byte("a")},
		{Topic: "t", Value: []byte("b")},
	}

	t.Run("all succeed", func(t *testing.T) {
		p := newTestProducer(&mockKafkaWriter{})
		res, err := p.PublishBatch(context.Background(), msgs)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Succeeded)
		assert.Zero(t, res.Failed)
	})

	t.Run("partial failure", func(t *testing.T) {
		w := &mockKafkaWriter{writeFunc: func(context.Context, ...kafka.Message) error {
			return kafka.WriteErrors{nil, stderrors.New("rejected")}
		}}
		p := newTestProducer(w)
		res, err := p.PublishBatch(context.Background(), msgs)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Succeeded)
		assert.Equal(t, 1, res.Failed)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, 1, res.Errors[0].Index)
	})

	t.Run("whole batch fails", func(t *testing.T) {
		w := &mockKafkaWriter{writeFunc: func(context.Context, ...kafka.Message) error { return stderrors.New("down") }}
		p := newTestProducer(w)
		res, err := p.PublishBatch(context.Background(), msgs)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Failed)
		assert.Equal(t, -1, res.Errors[0].Index)
	})

	t.Run("empty", func(t *testing.T) {
		p := newTestProducer(&mockKafkaWriter{})
		res, err := p.PublishBatch(context.Background(), nil)
		require.NoError(t, err)
		assert.Zero(t, res.Succeeded)
	})
}

func TestProducer_Close(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, w.closed)

	assert.ErrorIs(t, p.Publish(context.Background(), &ProducerMessage{Topic: "t", Value: []byte("v")}), ErrProducerClosed)
	_, err := p.PublishBatch(context.Background(), []*ProducerMessage{{Topic: "t", Value: []byte("v")}})
	assert.ErrorIs(t, err, ErrProducerClosed)
}
