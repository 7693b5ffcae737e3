package common

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/monitoring/logging"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
)

// ItemStatus represents the outcome status of a single batch item.
type ItemStatus int

const (
	ItemStatusSuccess   ItemStatus = iota // processing completed
	ItemStatusFailed                      // fn returned an error
	ItemStatusTimeout                     // item or batch deadline passed first
	ItemStatusCancelled                   // caller cancelled the context
)

func (s ItemStatus) String() string {
	switch s {
	case ItemStatusSuccess:
		return "SUCCESS"
	case ItemStatusFailed:
		return "FAILED"
	case ItemStatusTimeout:
		return "TIMEOUT"
	case ItemStatusCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// ProcessFunc processes a single item.
type ProcessFunc[T, R any] func(ctx context.Context, item T) (R, error)

// ItemResult holds the outcome of one item. Results are always reported in
// input order: Results[i].Index == i.
type ItemResult[R any] struct {
	Index      int        `json:"index"`
	Result     R          `json:"result"`
	Error      error      `json:"error,omitempty"`
	DurationMs float64    `json:"duration_ms"`
	Status     ItemStatus `json:"status"`
}

// BatchResult aggregates the outcomes of a batch run.
type BatchResult[R any] struct {
	Results           []*ItemResult[R] `json:"results"`
	TotalCount        int              `json:"total_count"`
	SuccessCount      int              `json:"success_count"`
	FailureCount      int              `json:"failure_count"`
	TimeoutCount      int              `json:"timeout_count"`
	CancelledCount    int              `json:"cancelled_count"`
	TotalDurationMs   float64          `json:"total_duration_ms"`
	AvgItemDurationMs float64          `json:"avg_item_duration_ms"`
}

// BatchProcessor runs a function over a slice of items concurrently.
type BatchProcessor[T, R any] interface {
	// Process executes fn for every item, bounded by the concurrency limit
	// and the batch deadline. Items still pending when the deadline passes
	// are reported with ItemStatusTimeout; Process itself does not fail
	// because of item errors.
	Process(ctx context.Context, items []T, fn ProcessFunc[T, R]) (*BatchResult[R], error)
}

type batchConfig struct {
	name           string
	maxConcurrency int
	itemTimeout    time.Duration
	batchTimeout   time.Duration
	metrics        IntelligenceMetrics
	logger         logging.Logger
}

func defaultBatchConfig() *batchConfig {
	return &batchConfig{
		name:           "batch-processor",
		maxConcurrency: runtime.NumCPU(),
		batchTimeout:   5 * time.Minute,
	}
}

// BatchOption configures a batchProcessor.
type BatchOption func(*batchConfig)

// WithBatchName labels the batch in metrics and logs.
func WithBatchName(name string) BatchOption {
	return func(c *batchConfig) {
		if name != "" {
			c.name = name
		}
	}
}

// WithMaxConcurrency sets the maximum number of items processed concurrently.
func WithMaxConcurrency(n int) BatchOption {
	return func(c *batchConfig) {
		if n > 0 {
			c.maxConcurrency = n
		}
	}
}

// WithItemTimeout sets a per-item deadline. Zero means no per-item deadline.
func WithItemTimeout(d time.Duration) BatchOption {
	return func(c *batchConfig) {
		if d > 0 {
			c.itemTimeout = d
		}
	}
}

// WithBatchTimeout sets the overall deadline of a Process call.
func WithBatchTimeout(d time.Duration) BatchOption {
	return func(c *batchConfig) {
		if d > 0 {
			c.batchTimeout = d
		}
	}
}

// WithBatchMetrics injects a metrics collector.
func WithBatchMetrics(m IntelligenceMetrics) BatchOption {
	return func(c *batchConfig) {
		c.metrics = m
	}
}

// WithBatchLogger injects a logger.
func WithBatchLogger(l logging.Logger) BatchOption {
	return func(c *batchConfig) {
		c.logger = l
	}
}

type batchProcessor[T, R any] struct {
	cfg     *batchConfig
	metrics IntelligenceMetrics
	logger  logging.Logger
}

// NewBatchProcessor creates a BatchProcessor with the supplied options.
func NewBatchProcessor[T, R any](opts ...BatchOption) BatchProcessor[T, R] {
	cfg := defaultBatchConfig()
	for _, o := range opts {
		o(cfg)
	}
	if cfg.metrics == nil {
		cfg.metrics = NewNoopIntelligenceMetrics()
	}
	return &batchProcessor[T, R]{
		cfg:     cfg,
		metrics: cfg.metrics,
		logger:  logging.OrNop(cfg.logger),
	}
}

func (bp *batchProcessor[T, R]) Process(ctx context.Context, items []T, fn ProcessFunc[T, R]) (*BatchResult[R], error) {
	if fn == nil {
		return nil, errors.InvalidInput("process function must not be nil")
	}
	n := len(items)
	if n == 0 {
		return &BatchResult[R]{Results: []*ItemResult[R]{}}, nil
	}

	batchStart := time.Now()
	batchCtx, batchCancel := context.WithTimeout(ctx, bp.cfg.batchTimeout)
	defer batchCancel()

	// Buffered to n so late workers never block after the collector has
	// stopped listening.
	resultCh := make(chan *ItemResult[R], n)
	sem := semaphore.NewWeighted(int64(bp.cfg.maxConcurrency))

	go func() {
		for i := 0; i < n; i++ {
			if err := sem.Acquire(batchCtx, 1); err != nil {
				// Remaining items never started; the collector marks them.
				return
			}
			go func(idx int, item T) {
				defer sem.Release(1)
				resultCh <- bp.processOneItem(batchCtx, idx, item, fn)
			}(i, items[i])
		}
	}()

	results := make([]*ItemResult[R], n)
	received := 0
collect:
	for received < n {
		select {
		case ir := <-resultCh:
			results[ir.Index] = ir
			received++
		case <-batchCtx.Done():
			// Drain what already finished, then give up on the rest.
			for {
				select {
				case ir := <-resultCh:
					results[ir.Index] = ir
					received++
				default:
					break collect
				}
			}
		}
	}

	if received < n {
		status := classifyCtxError(batchCtx.Err())
		for i := range results {
			if results[i] == nil {
				results[i] = &ItemResult[R]{Index: i, Error: batchCtx.Err(), Status: status}
			}
		}
		bp.logger.Warn("batch deadline reached",
			logging.String("batch", bp.cfg.name),
			logging.Int("pending", n-received),
			logging.Int("total", n))
	}

	br := buildBatchResult(results, time.Since(batchStart))
	bp.metrics.RecordBatchProcessing(ctx, &BatchMetricParams{
		BatchName:         bp.cfg.name,
		TotalItems:        br.TotalCount,
		SuccessItems:      br.SuccessCount,
		FailedItems:       br.FailureCount,
		TimeoutItems:      br.TimeoutCount,
		CancelledItems:    br.CancelledCount,
		TotalDurationMs:   br.TotalDurationMs,
		AvgItemDurationMs: br.AvgItemDurationMs,
		MaxConcurrency:    bp.cfg.maxConcurrency,
	})
	return br, nil
}

func (bp *batchProcessor[T, R]) processOneItem(batchCtx context.Context, idx int, item T, fn ProcessFunc[T, R]) (ir *ItemResult[R]) {
	itemStart := time.Now()
	defer func() {
		if r := recover(); r != nil {
			ir = &ItemResult[R]{
				Index:      idx,
				Error:      errors.Newf(errors.CodeInternal, "panic while processing item %d: %v", idx, r),
				Status:     ItemStatusFailed,
				DurationMs: msSince(itemStart),
			}
		}
	}()

	itemCtx := batchCtx
	if bp.cfg.itemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(batchCtx, bp.cfg.itemTimeout)
		defer cancel()
	}

	result, err := fn(itemCtx, item)
	if err != nil {
		status := ItemStatusFailed
		if ctxErr := itemCtx.Err(); ctxErr != nil {
			status = classifyCtxError(ctxErr)
		}
		return &ItemResult[R]{Index: idx, Result: result, Error: err, Status: status, DurationMs: msSince(itemStart)}
	}
	return &ItemResult[R]{Index: idx, Result: result, Status: ItemStatusSuccess, DurationMs: msSince(itemStart)}
}

func buildBatchResult[R any](results []*ItemResult[R], total time.Duration) *BatchResult[R] {
	br := &BatchResult[R]{
		Results:         results,
		TotalCount:      len(results),
		TotalDurationMs: float64(total.Microseconds()) / 1000.0,
	}
	var sum float64
	for _, r := range results {
		switch r.Status {
		case ItemStatusSuccess:
			br.SuccessCount++
		case ItemStatusTimeout:
			br.TimeoutCount++
		case ItemStatusCancelled:
			br.CancelledCount++
		default:
			br.FailureCount++
		}
		sum += r.DurationMs
	}
	if len(results) > 0 {
		br.AvgItemDurationMs = sum / float64(len(results))
	}
	return br
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}

func classifyCtxError(err error) ItemStatus {
	switch {
	case err == nil:
		return ItemStatusSuccess
	case errors.Is(err, context.DeadlineExceeded):
		return ItemStatusTimeout
	default:
		return ItemStatusCancelled
	}
}
