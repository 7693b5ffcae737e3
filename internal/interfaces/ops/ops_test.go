package ops

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/application/processing"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/monitoring/logging"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePipeline struct {
	err       error
	lastOpts  int
	batchOpts int
}

func (f *fakePipeline) Process(_ context.Context, text string, opts ...processing.RequestOption) (*medical.ProcessedMessage, error) {
	f.lastOpts = len(opts)
	if f.err != nil {
		return nil, f.err
	}
	return &medical.ProcessedMessage{ID: "m-1", OriginalText: text, IsMedical: true, Status: medical.StatusSuccess}, nil
}

func (f *fakePipeline) ProcessBatch(_ context.Context, texts []string, opts ...processing.BatchOption) (*processing.BatchOutcome, error) {
	f.batchOpts = len(opts)
	if f.err != nil {
		return nil, f.err
	}
	msgs := make([]*medical.ProcessedMessage, len(texts))
	for i, t := range texts {
		msgs[i] = &medical.ProcessedMessage{OriginalText: t, Status: medical.StatusSuccess}
	}
	return &processing.BatchOutcome{ID: "b-1", Messages: msgs, Stats: processing.Summarize(msgs)}, nil
}

type recordingReporter struct {
	mu  sync.Mutex
	ups map[string]bool
}

func (r *recordingReporter) SetHealth(component string, up bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ups == nil {
		r.ups = map[string]bool{}
	}
	r.ups[component] = up
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestLiveness(t *testing.T) {
	s := NewServer(ServerConfig{Version: "1.2.3"}, logging.NewNopLogger())

	w := do(t, s.Handler(), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp LivenessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "alive", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name     string
		checkErr error
		wantCode int
		want     string
	}{
		{name: "all healthy", wantCode: http.StatusOK, want: "ready"},
		{name: "one unhealthy", checkErr: stderrors.New("connection refused"), wantCode: http.StatusServiceUnavailable, want: "not_ready"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := &recordingReporter{}
			hh := NewHealthHandler("v", rep,
				Check("redis", func(context.Context) error { return nil }),
				Check("postgres", func(context.Context) error { return tt.checkErr }),
			)
			s := NewServer(ServerConfig{}, nil, WithHealth(hh))

			w := do(t, s.Handler(), http.MethodGet, "/readyz", nil)
			assert.Equal(t, tt.wantCode, w.Code)

			var resp ReadinessResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp.Status)
			require.Len(t, resp.Components, 2)
			assert.Equal(t, "healthy", resp.Components["redis"].Status)
			assert.True(t, rep.ups["redis"])
			assert.Equal(t, tt.checkErr == nil, rep.ups["postgres"])
			if tt.checkErr != nil {
				assert.Equal(t, "connection refused", resp.Components["postgres"].Error)
			}
		})
	}
}

func TestReadiness_NoCheckers(t *testing.T) {
	s := NewServer(ServerConfig{}, nil)
	w := do(t, s.Handler(), http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("medextract_up 1\n"))
	})
	s := NewServer(ServerConfig{}, nil, WithMetricsHandler(metrics))

	w := do(t, s.Handler(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "medextract_up 1")
}

func TestUnknownRoute(t *testing.T) {
	s := NewServer(ServerConfig{}, nil)
	w := do(t, s.Handler(), http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, errors.ErrCodeNotFound.String(), resp.Code)
}

func TestPipelineRoutesAbsentWithoutPipeline(t *testing.T) {
	s := NewServer(ServerConfig{}, nil)
	w := do(t, s.Handler(), http.MethodPost, "/v1/process", ProcessRequest{Text: "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProcess(t *testing.T) {
	p := &fakePipeline{}
	s := NewServer(ServerConfig{}, nil, WithPipeline(p))

	conf := 0.7
	w := do(t, s.Handler(), http.MethodPost, "/v1/process", ProcessRequest{ID: "abc", Text: "Amoxicillin 500mg", MinConfidence: &conf})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, p.lastOpts)

	var msg medical.ProcessedMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	assert.Equal(t, "Amoxicillin 500mg", msg.OriginalText)
	assert.True(t, msg.IsMedical)
}

func TestProcess_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		body     any
		wantCode int
		wantErr  errors.ErrorCode
	}{
		{
			name:     "malformed body",
			body:     "{not json",
			wantCode: http.StatusBadRequest,
			wantErr:  errors.ErrCodeInvalidInput,
		},
		{
			name:     "model unavailable",
			err:      errors.ModelUnavailable("relevance", stderrors.New("down")),
			body:     ProcessRequest{Text: "fever"},
			wantCode: http.StatusServiceUnavailable,
			wantErr:  errors.ErrCodeModelUnavailable,
		},
		{
			name:     "plain error",
			err:      stderrors.New("boom"),
			body:     ProcessRequest{Text: "fever"},
			wantCode: http.StatusInternalServerError,
			wantErr:  errors.ErrCodeInternal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(ServerConfig{}, nil, WithPipeline(&fakePipeline{err: tt.err}))
			w := do(t, s.Handler(), http.MethodPost, "/v1/process", tt.body)
			assert.Equal(t, tt.wantCode, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantErr.String(), resp.Code)
		})
	}
}

func TestBatch(t *testing.T) {
	p := &fakePipeline{}
	s := NewServer(ServerConfig{}, nil, WithPipeline(p))

	conf := 0.5
	w := do(t, s.Handler(), http.MethodPost, "/v1/batch", BatchRequest{
		Texts:         []string{"a", "b"},
		Concurrency:   2,
		TimeoutMs:     1000,
		MinConfidence: &conf,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, p.batchOpts)

	var out processing.BatchOutcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "b-1", out.ID)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, 2, out.Stats.TotalMessages)
}

func TestBatch_TooLarge(t *testing.T) {
	s := NewServer(ServerConfig{}, nil, WithPipeline(&fakePipeline{}))
	w := do(t, s.Handler(), http.MethodPost, "/v1/batch", BatchRequest{Texts: make([]string, MaxBatchSize+1)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecovery(t *testing.T) {
	engine := gin.New()
	engine.Use(Recovery(nil))
	engine.GET("/panic", func(*gin.Context) { panic("kaboom") })

	w := do(t, engine, http.MethodGet, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, errors.ErrCodeInternal.String(), resp.Code)
}

func TestRequestLogging_SetsRequestID(t *testing.T) {
	engine := gin.New()
	engine.Use(RequestLogging(nil, LoggingConfig{SlowThreshold: time.Second}))
	engine.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := do(t, engine, http.MethodGet, "/x", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "given")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, "given", w.Header().Get("X-Request-ID"))
}
