package client

import (
	"context"
	"time"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

// ProcessRequest is the body of POST /v1/process.
type ProcessRequest struct {
	ID            string   `json:"id,omitempty"`
	Text          string   `json:"text"`
	MinConfidence *float64 `json:"min_confidence,omitempty"`
}

// BatchRequest is the body of POST /v1/batch.
type BatchRequest struct {
	Texts         []string `json:"texts"`
	MinConfidence *float64 `json:"min_confidence,omitempty"`
	Concurrency   int      `json:"concurrency,omitempty"`
	TimeoutMs     int      `json:"timeout_ms,omitempty"`
}

// BatchResult is the response of POST /v1/batch. Messages[i] belongs to
// Texts[i].
type BatchResult struct {
	ID       string                      `json:"id"`
	Messages []*medical.ProcessedMessage `json:"messages"`
	Stats    medical.BatchStats          `json:"stats"`
}

// Readiness is the response of GET /readyz.
type Readiness struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentStatus `json:"components,omitempty"`
}

// ComponentStatus is the readiness of one dependency.
type ComponentStatus struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ProcessOption adjusts a Process or ProcessBatch call.
type ProcessOption func(*processOptions)

type processOptions struct {
	id            string
	minConfidence *float64
	concurrency   int
	timeout       time.Duration
}

// WithID sets the message id. Ignored by ProcessBatch.
func WithID(id string) ProcessOption {
	return func(o *processOptions) { o.id = id }
}

// WithMinConfidence overrides the server's minimum entity confidence.
func WithMinConfidence(c float64) ProcessOption {
	return func(o *processOptions) { o.minConfidence = &c }
}

// WithConcurrency bounds the messages the server processes at once.
// Ignored by Process.
func WithConcurrency(n int) ProcessOption {
	return func(o *processOptions) { o.concurrency = n }
}

// WithBatchTimeout sets the server-side batch deadline. Ignored by Process.
func WithBatchTimeout(d time.Duration) ProcessOption {
	return func(o *processOptions) { o.timeout = d }
}

func collect(opts []ProcessOption) processOptions {
	var o processOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Process sends one message through the pipeline.
func (c *Client) Process(ctx context.Context, text string, opts ...ProcessOption) (*medical.ProcessedMessage, error) {
	o := collect(opts)
	var msg medical.ProcessedMessage
	if err := c.post(ctx, "/v1/process", ProcessRequest{ID: o.id, Text: text, MinConfidence: o.minConfidence}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ProcessBatch sends texts as one batch.
func (c *Client) ProcessBatch(ctx context.Context, texts []string, opts ...ProcessOption) (*BatchResult, error) {
	o := collect(opts)
	req := BatchRequest{
		Texts:         texts,
		MinConfidence: o.minConfidence,
		Concurrency:   o.concurrency,
		TimeoutMs:     int(o.timeout / time.Millisecond),
	}
	var out BatchResult
	if err := c.post(ctx, "/v1/batch", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ready queries the readiness probe. A not-ready server answers 503, which
// is returned as an *APIError after the retries are exhausted.
func (c *Client) Ready(ctx context.Context) (*Readiness, error) {
	var r Readiness
	if err := c.get(ctx, "/readyz", &r); err != nil {
		return nil, err
	}
	return &r, nil
}
