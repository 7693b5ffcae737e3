// internal/application/processing/batch.go

package processing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/monitoring/logging"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/common"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

// BatchOutcome is the result of ProcessBatch. Messages[i] belongs to the
// i-th input text.
type BatchOutcome struct {
	ID       string                      `json:"id"`
	Messages []*medical.ProcessedMessage `json:"messages"`
	Stats    medical.BatchStats          `json:"stats"`
	Duration time.Duration               `json:"-"`
}

type batchRequest struct {
	maxConcurrency int
	timeout        time.Duration
	itemTimeout    time.Duration
	request        []RequestOption
}

// BatchOption adjusts a single ProcessBatch call.
type BatchOption func(*batchRequest)

// WithConcurrency overrides Config.MaxConcurrency.
func WithConcurrency(n int) BatchOption {
	return func(b *batchRequest) {
		if n > 0 {
			b.maxConcurrency = n
		}
	}
}

// WithBatchTimeout overrides Config.BatchTimeout.
func WithBatchTimeout(d time.Duration) BatchOption {
	return func(b *batchRequest) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithRequestOptions applies opts to every message of the batch.
func WithRequestOptions(opts ...RequestOption) BatchOption {
	return func(b *batchRequest) { b.request = append(b.request, opts...) }
}

// ProcessBatch processes texts concurrently. Messages still pending when
// the batch deadline passes come back with status timed_out. The only
// error is ModelUnavailable.
func (p *Processor) ProcessBatch(ctx context.Context, texts []string, opts ...BatchOption) (*BatchOutcome, error) {
	br := batchRequest{
		maxConcurrency: p.cfg.MaxConcurrency,
		timeout:        p.cfg.BatchTimeout,
		itemTimeout:    p.cfg.ItemTimeout,
	}
	for _, o := range opts {
		o(&br)
	}
	out := &BatchOutcome{ID: uuid.NewString(), Messages: make([]*medical.ProcessedMessage, len(texts))}
	start := time.Now()

	engine := common.NewBatchProcessor[string, *medical.ProcessedMessage](
		common.WithBatchName("messages"),
		common.WithMaxConcurrency(br.maxConcurrency),
		common.WithBatchTimeout(br.timeout),
		common.WithItemTimeout(br.itemTimeout),
		common.WithBatchMetrics(p.metrics),
		common.WithBatchLogger(p.logger),
	)
	res, err := engine.Process(ctx, texts, func(ctx context.Context, text string) (*medical.ProcessedMessage, error) {
		return p.Process(ctx, text, br.request...)
	})
	if err != nil {
		return nil, err
	}

	for i, ir := range res.Results {
		switch {
		case ir.Error == nil && ir.Result != nil:
			out.Messages[i] = ir.Result
		case ir.Status == common.ItemStatusTimeout || ir.Status == common.ItemStatusCancelled:
			out.Messages[i] = p.pending(ctx, texts[i])
		case errors.IsModelUnavailable(ir.Error):
			return nil, ir.Error
		default:
			msg := &medical.ProcessedMessage{ID: uuid.NewString(), OriginalText: texts[i]}
			fail(msg, medical.DiagInternal, StageReceived, errorText(ir.Error))
			p.finish(ctx, msg, start)
			out.Messages[i] = msg
		}
	}

	out.Stats = Summarize(out.Messages)
	out.Duration = time.Since(start)
	p.logger.Info("batch processed",
		logging.String("batch_id", out.ID),
		logging.Int("total", out.Stats.TotalMessages),
		logging.Int("medical", out.Stats.MedicalMessages),
		logging.Int("timed_out", out.Stats.TimedOut),
		logging.Duration("elapsed", out.Duration))
	return out, nil
}

// pending is the message of an item that never finished.
func (p *Processor) pending(ctx context.Context, text string) *medical.ProcessedMessage {
	msg := &medical.ProcessedMessage{ID: uuid.NewString(), OriginalText: text}
	timeOut(msg, StageReceived)
	p.finish(ctx, msg, time.Now())
	return msg
}

func errorText(err error) string {
	if err == nil {
		return "no result"
	}
	return err.Error()
}

// Summarize computes the batch statistics: medical percentage is relative
// to all messages, average quality to the ones that were not timed out.
func Summarize(msgs []*medical.ProcessedMessage) medical.BatchStats {
	s := medical.BatchStats{TotalMessages: len(msgs)}
	var quality float64
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Status == medical.StatusTimedOut {
			s.TimedOut++
			continue
		}
		s.Processed++
		quality += m.QualityScore
		if m.IsMedical {
			s.MedicalMessages++
		}
	}
	if s.TotalMessages > 0 {
		s.MedicalPercentage = float64(s.MedicalMessages) / float64(s.TotalMessages) * 100
	}
	if s.Processed > 0 {
		s.AvgQuality = quality / float64(s.Processed)
	}
	return s
}
