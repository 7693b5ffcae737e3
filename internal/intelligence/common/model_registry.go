package common

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/monitoring/logging"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
)

// ModelLoader builds one model. It runs at most once per registry entry.
type ModelLoader func(ctx context.Context) (any, error)

// ModelStatus represents the lifecycle state of a registered model.
type ModelStatus string

const (
	ModelStatusRegistered ModelStatus = "registered"
	ModelStatusLoading    ModelStatus = "loading"
	ModelStatusReady      ModelStatus = "ready"
	ModelStatusFailed     ModelStatus = "failed"
)

// ModelRegistry owns the heavyweight models of the pipeline (classifier, NER,
// knowledge base). Each model is initialized exactly once, on first use or
// during Warmup; concurrent callers wait for the same initialization and a
// failed load stays failed for the life of the registry.
type ModelRegistry interface {
	Register(name string, loader ModelLoader) error
	Get(ctx context.Context, name string) (any, error)
	Warmup(ctx context.Context, names ...string) error
	HealthCheck(ctx context.Context) *RegistryHealth
	Close() error
}

// RegistryHealth contains health information about the registry.
type RegistryHealth struct {
	TotalModels  int                           `json:"total_models"`
	ReadyModels  int                           `json:"ready_models"`
	FailedModels int                           `json:"failed_models"`
	ModelHealths map[string]*ModelHealthStatus `json:"model_healths"`
}

// Healthy reports whether no registered model has failed to load.
func (h *RegistryHealth) Healthy() bool {
	return h.FailedModels == 0
}

// ModelHealthStatus contains health information for a specific model.
type ModelHealthStatus struct {
	Name       string      `json:"name"`
	Status     ModelStatus `json:"status"`
	LoadedAt   time.Time   `json:"loaded_at,omitempty"`
	LoadTimeMs float64     `json:"load_time_ms"`
	Error      string      `json:"error,omitempty"`
}

var (
	ErrModelNotRegistered     = errors.New(errors.CodeNotFound, "model not registered")
	ErrModelAlreadyRegistered = errors.New(errors.CodeConflict, "model already registered")
	ErrRegistryClosed         = errors.New(errors.ErrCodeServiceUnavailable, "model registry closed")
)

type modelEntry struct {
	name   string
	loader ModelLoader
	once   sync.Once

	mu       sync.RWMutex
	status   ModelStatus
	model    any
	err      error
	loadedAt time.Time
	loadMs   float64
}

func (e *modelEntry) snapshot() *ModelHealthStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	hs := &ModelHealthStatus{
		Name:       e.name,
		Status:     e.status,
		LoadedAt:   e.loadedAt,
		LoadTimeMs: e.loadMs,
	}
	if e.err != nil {
		hs.Error = e.err.Error()
	}
	return hs
}

type modelRegistry struct {
	models      sync.Map // name -> *modelEntry
	loadTimeout time.Duration
	metrics     IntelligenceMetrics
	logger      logging.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// RegistryOption configures a model registry.
type RegistryOption func(*modelRegistry)

// WithLoadTimeout bounds every individual model load.
func WithLoadTimeout(d time.Duration) RegistryOption {
	return func(r *modelRegistry) {
		if d > 0 {
			r.loadTimeout = d
		}
	}
}

// WithRegistryMetrics injects a metrics collector.
func WithRegistryMetrics(m IntelligenceMetrics) RegistryOption {
	return func(r *modelRegistry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithRegistryLogger injects a logger.
func WithRegistryLogger(l logging.Logger) RegistryOption {
	return func(r *modelRegistry) {
		r.logger = logging.OrNop(l)
	}
}

// NewModelRegistry creates an empty registry.
func NewModelRegistry(opts ...RegistryOption) ModelRegistry {
	r := &modelRegistry{
		loadTimeout: 2 * time.Minute,
		metrics:     NewNoopIntelligenceMetrics(),
		logger:      logging.NewNopLogger(),
		closed:      make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *modelRegistry) Register(name string, loader ModelLoader) error {
	if name == "" || loader == nil {
		return errors.InvalidInput("model name and loader are required")
	}
	if r.isClosed() {
		return ErrRegistryClosed
	}
	entry := &modelEntry{name: name, loader: loader, status: ModelStatusRegistered}
	if _, loaded := r.models.LoadOrStore(name, entry); loaded {
		return ErrModelAlreadyRegistered.WithDetail(name)
	}
	r.logger.Debug("model registered", logging.String("model", name))
	return nil
}

// Get returns the initialized model, loading it on first call. Any failure is
// reported as ModelUnavailable.
func (r *modelRegistry) Get(ctx context.Context, name string) (any, error) {
	if r.isClosed() {
		return nil, errors.ModelUnavailable(name, ErrRegistryClosed)
	}
	value, ok := r.models.Load(name)
	if !ok {
		return nil, errors.ModelUnavailable(name, ErrModelNotRegistered)
	}
	entry := value.(*modelEntry)
	entry.once.Do(func() { r.load(ctx, entry) })

	entry.mu.RLock()
	defer entry.mu.RUnlock()
	if entry.err != nil {
		return nil, errors.ModelUnavailable(name, entry.err)
	}
	return entry.model, nil
}

func (r *modelRegistry) load(ctx context.Context, entry *modelEntry) {
	entry.mu.Lock()
	entry.status = ModelStatusLoading
	entry.mu.Unlock()

	// The first caller's cancellation must not poison the entry for everyone.
	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.loadTimeout)
	defer cancel()

	start := time.Now()
	model, err := safeLoad(loadCtx, entry.loader)
	if err == nil && model == nil {
		err = errors.Internal("loader returned a nil model")
	}
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0

	entry.mu.Lock()
	entry.loadMs = elapsed
	if err != nil {
		entry.status = ModelStatusFailed
		entry.err = err
	} else {
		entry.status = ModelStatusReady
		entry.model = model
		entry.loadedAt = time.Now().UTC()
	}
	entry.mu.Unlock()

	r.metrics.RecordModelLoad(ctx, entry.name, elapsed, err == nil)
	if err != nil {
		r.logger.Error("model load failed",
			logging.String("model", entry.name),
			logging.Float64("duration_ms", elapsed),
			logging.Err(err))
		return
	}
	r.logger.Info("model loaded",
		logging.String("model", entry.name),
		logging.Float64("duration_ms", elapsed))
}

func safeLoad(ctx context.Context, loader ModelLoader) (model any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Newf(errors.CodeInternal, "model loader panicked: %v", rec)
		}
	}()
	return loader(ctx)
}

// Warmup loads the named models (all registered models when names is empty)
// and returns the first failure in name order.
func (r *modelRegistry) Warmup(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		names = r.names()
	}
	var wg sync.WaitGroup
	errs := make([]error, len(names))
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			_, errs[i] = r.Get(ctx, name)
		}(i, name)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *modelRegistry) HealthCheck(_ context.Context) *RegistryHealth {
	h := &RegistryHealth{ModelHealths: make(map[string]*ModelHealthStatus)}
	r.models.Range(func(_, value any) bool {
		hs := value.(*modelEntry).snapshot()
		h.TotalModels++
		switch hs.Status {
		case ModelStatusReady:
			h.ReadyModels++
		case ModelStatusFailed:
			h.FailedModels++
		}
		h.ModelHealths[hs.Name] = hs
		return true
	})
	return h
}

// Close releases every loaded model implementing io.Closer. The registry
// refuses further use afterwards.
func (r *modelRegistry) Close() error {
	var firstErr error
	r.closeOnce.Do(func() {
		close(r.closed)
		for _, name := range r.names() {
			value, _ := r.models.Load(name)
			entry := value.(*modelEntry)
			entry.mu.RLock()
			model := entry.model
			entry.mu.RUnlock()
			c, ok := model.(io.Closer)
			if !ok {
				continue
			}
			if err := c.Close(); err != nil {
				r.logger.Warn("model close failed", logging.String("model", name), logging.Err(err))
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	})
	return firstErr
}

func (r *modelRegistry) isClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

func (r *modelRegistry) names() []string {
	var names []string
	r.models.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// Resolve fetches a model from the registry and asserts its type.
func Resolve[T any](ctx context.Context, r ModelRegistry, name string) (T, error) {
	var zero T
	model, err := r.Get(ctx, name)
	if err != nil {
		return zero, err
	}
	typed, ok := model.(T)
	if !ok {
		return zero, errors.ModelUnavailable(name,
			errors.Newf(errors.CodeInternal, "registered model has type %T", model))
	}
	return typed, nil
}
