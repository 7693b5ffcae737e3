// internal/application/ingest/handler.go

// Package ingest connects the message bus to the processing pipeline: raw
// records are decoded, processed, handed to the result sink and published
// to the processed topic.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/application/processing"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/messaging/kafka"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/monitoring/logging"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

// Pipeline is the part of *processing.Processor the handler needs.
type Pipeline interface {
	Process(ctx context.Context, text string, opts ...processing.RequestOption) (*medical.ProcessedMessage, error)
}

// Observer receives per-record measurements. *prometheus.WorkerMetrics
// implements it.
type Observer interface {
	ObserveRecord(topic, outcome string, d time.Duration)
	ObservePublish(topic, qualityBucket string)
	ObserveSinkWrite(sink string, d time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveRecord(string, string, time.Duration)   {}
func (nopObserver) ObservePublish(string, string)                 {}
func (nopObserver) ObserveSinkWrite(string, time.Duration, error) {}

// Handler processes records of the raw topic.
type Handler struct {
	pipeline    Pipeline
	sink        processing.ResultSink
	sinkName    string
	publisher   kafka.Publisher
	outputTopic string
	observer    Observer
	logger      logging.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithSink persists every processed message before it is published. name
// labels the sink in metrics.
func WithSink(name string, s processing.ResultSink) Option {
	return func(h *Handler) {
		h.sink = s
		h.sinkName = name
	}
}

// WithPublisher publishes processed messages to topic.
func WithPublisher(p kafka.Publisher, topic string) Option {
	return func(h *Handler) {
		h.publisher = p
		h.outputTopic = topic
	}
}

// WithObserver reports measurements to o.
func WithObserver(o Observer) Option {
	return func(h *Handler) {
		if o != nil {
			h.observer = o
		}
	}
}

// WithLogger injects a logger.
func WithLogger(l logging.Logger) Option {
	return func(h *Handler) { h.logger = logging.OrNop(l) }
}

// NewHandler creates a Handler.
func NewHandler(p Pipeline, opts ...Option) (*Handler, error) {
	if p == nil {
		return nil, errors.InvalidInput("pipeline is required")
	}
	h := &Handler{pipeline: p, observer: nopObserver{}, logger: logging.NewNopLogger()}
	for _, o := range opts {
		o(h)
	}
	if h.publisher != nil && h.outputTopic == "" {
		h.outputTopic = kafka.TopicProcessedMessages
	}
	return h, nil
}

// Handle is a kafka.MessageHandler. Undecodable records fail permanently;
// ModelUnavailable and sink or publish failures are returned for retry.
func (h *Handler) Handle(ctx context.Context, rec *kafka.Message) error {
	raw, err := kafka.DecodeRaw(rec)
	if err != nil {
		return err
	}
	// Redelivered records must keep their id so the sink upserts.
	if raw.ID == "" {
		raw.ID = fmt.Sprintf("%s-%d-%d", rec.Topic, rec.Partition, rec.Offset)
	}

	opts := []processing.RequestOption{processing.WithMessageID(raw.ID)}
	if raw.MinConfidence != nil {
		opts = append(opts, processing.WithMinConfidence(*raw.MinConfidence))
	}
	msg, err := h.pipeline.Process(ctx, raw.Text, opts...)
	if err != nil {
		return err
	}
	if msg.Status == medical.StatusTimedOut && ctx.Err() != nil {
		return ctx.Err()
	}

	if h.sink != nil {
		start := time.Now()
		err := h.sink.Save(ctx, msg)
		h.observer.ObserveSinkWrite(h.sinkName, time.Since(start), err)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to save processed message")
		}
	}
	if h.publisher != nil {
		out, err := kafka.EncodeProcessed(h.outputTopic, msg)
		if err != nil {
			return kafka.Permanent(err)
		}
		if err := h.publisher.Publish(ctx, out); err != nil {
			return err
		}
		h.observer.ObservePublish(h.outputTopic, string(msg.QualityBucket))
	}

	h.logger.Debug("record processed",
		logging.String("id", msg.ID),
		logging.String("status", string(msg.Status)),
		logging.Bool("is_medical", msg.IsMedical),
		logging.Int64("offset", rec.Offset))
	return nil
}

// Instrumented wraps Handle so every attempt is reported to the observer
// with its outcome. Retries are counted per attempt.
func (h *Handler) Instrumented() kafka.MessageHandler {
	return func(ctx context.Context, rec *kafka.Message) error {
		start := time.Now()
		err := h.Handle(ctx, rec)
		outcome := "processed"
		switch {
		case err == nil:
		case kafka.IsPermanent(err):
			outcome = "failed"
		default:
			outcome = "retried"
		}
		h.observer.ObserveRecord(rec.Topic, outcome, time.Since(start))
		return err
	}
}
