package ops

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/application/processing"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

// MaxBatchSize bounds POST /v1/batch.
const MaxBatchSize = 1000

// Pipeline is the part of *processing.Processor served over HTTP.
type Pipeline interface {
	Process(ctx context.Context, text string, opts ...processing.RequestOption) (*medical.ProcessedMessage, error)
	ProcessBatch(ctx context.Context, texts []string, opts ...processing.BatchOption) (*processing.BatchOutcome, error)
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func errorBody(err error) ErrorResponse {
	var ae *errors.AppError
	if errors.As(err, &ae) {
		return ErrorResponse{Code: ae.Code.String(), Message: ae.Message, Detail: ae.Detail}
	}
	return ErrorResponse{Code: errors.ErrCodeInternal.String(), Message: err.Error()}
}

func writeError(c *gin.Context, err error) {
	c.JSON(errors.HTTPStatusForCode(errors.GetCode(err)), errorBody(err))
}

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

// ProcessHandler exposes the pipeline for ad-hoc requests.
type ProcessHandler struct {
	pipeline Pipeline
}

// NewProcessHandler creates a ProcessHandler.
func NewProcessHandler(p Pipeline) *ProcessHandler {
	return &ProcessHandler{pipeline: p}
}

// Process handles POST /v1/process. Per-message failures are reported in
// the body with 200; only ModelUnavailable maps to 503.
func (h *ProcessHandler) Process(c *gin.Context) {
	var req ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	opts := []processing.RequestOption{processing.WithMessageID(req.ID)}
	if req.MinConfidence != nil {
		opts = append(opts, processing.WithMinConfidence(*req.MinConfidence))
	}
	msg, err := h.pipeline.Process(c.Request.Context(), req.Text, opts...)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// Batch handles POST /v1/batch.
func (h *ProcessHandler) Batch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	if len(req.Texts) > MaxBatchSize {
		writeError(c, errors.Newf(errors.ErrCodeInvalidInput, "batch of %d exceeds the limit of %d", len(req.Texts), MaxBatchSize))
		return
	}

	var opts []processing.BatchOption
	if req.Concurrency > 0 {
		opts = append(opts, processing.WithConcurrency(req.Concurrency))
	}
	if req.TimeoutMs > 0 {
		opts = append(opts, processing.WithBatchTimeout(time.Duration(req.TimeoutMs)*time.Millisecond))
	}
	if req.MinConfidence != nil {
		opts = append(opts, processing.WithRequestOptions(processing.WithMinConfidence(*req.MinConfidence)))
	}

	out, err := h.pipeline.ProcessBatch(c.Request.Context(), req.Texts, opts...)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
