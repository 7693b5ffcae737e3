// Package backends provides the relevance and NER models behind the
// pipeline and registers them with a common.ModelRegistry. Three backends
// exist: a lexicon backend derived from the knowledge base, ONNX models run
// in-process through hugot, and a remote model server reached over gRPC.
package backends

import (
	"context"
	"time"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/monitoring/logging"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/common"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/extractor"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/knowledge"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/relevance"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
)

// Registry names of the shared models.
const (
	ModelKnowledgeBase = "knowledge-base"
	ModelRelevance     = "relevance"
	ModelNER           = "ner"

	modelHugotSession  = "hugot-session"
	modelServingClient = "serving-client"
)

// Config selects the backend and locates its models.
type Config struct {
	Backend        common.BackendType
	ClassifierName string
	ClassifierPath string
	NERName        string
	NERPath        string
	ServingAddr    string
	ServingTimeout time.Duration
}

type options struct {
	metrics        common.IntelligenceMetrics
	logger         logging.Logger
	name           string
	onnxFile       string
	positiveLabels []string
	servingOpts    []common.ServingOption
}

// Option configures a backend model.
type Option func(*options)

// WithMetrics injects the inference metrics sink.
func WithMetrics(m common.IntelligenceMetrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithLogger injects a logger.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = logging.OrNop(l) }
}

// WithModelName overrides the name reported in metrics and requests.
func WithModelName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithOnnxFilename selects the ONNX file inside a hugot model directory.
func WithOnnxFilename(f string) Option {
	return func(o *options) { o.onnxFile = f }
}

// WithPositiveLabels overrides DefaultPositiveLabels.
func WithPositiveLabels(labels ...string) Option {
	return func(o *options) { o.positiveLabels = labels }
}

// WithServingOptions passes options to the gRPC serving client.
func WithServingOptions(opts ...common.ServingOption) Option {
	return func(o *options) { o.servingOpts = append(o.servingOpts, opts...) }
}

func newOptions(opts []Option) *options {
	o := &options{
		metrics: common.NewNoopIntelligenceMetrics(),
		logger:  logging.NewNopLogger(),
	}
	for _, fn := range opts {
		fn(o)
	}
	return o
}

func (o *options) modelName(fallback string) string {
	if o.name != "" {
		return o.name
	}
	return fallback
}

func (o *options) with(extra ...Option) []Option {
	base := []Option{
		WithMetrics(o.metrics),
		WithLogger(o.logger),
		WithOnnxFilename(o.onnxFile),
		WithPositiveLabels(o.positiveLabels...),
	}
	return append(base, extra...)
}

// Register adds the knowledge base and the relevance and NER models of the
// configured backend to reg. Nothing is loaded until the models are first
// resolved or warmed up.
func Register(reg common.ModelRegistry, cfg Config, src knowledge.Source, opts ...Option) error {
	if reg == nil || src == nil {
		return errors.InvalidInput("model registry and knowledge source are required")
	}
	o := newOptions(opts)

	err := reg.Register(ModelKnowledgeBase, func(ctx context.Context) (any, error) {
		return knowledge.LoadBase(ctx, src)
	})
	if err != nil {
		return err
	}

	switch cfg.Backend {
	case common.BackendLexicon, "":
		return registerLexicon(reg, cfg, o)
	case common.BackendHugot:
		return registerHugot(reg, cfg, o)
	case common.BackendServing:
		return registerServing(reg, cfg, o)
	default:
		_, err := common.ParseBackendType(string(cfg.Backend))
		return err
	}
}

func registerLexicon(reg common.ModelRegistry, cfg Config, o *options) error {
	err := reg.Register(ModelRelevance, func(ctx context.Context) (any, error) {
		kb, err := common.Resolve[*knowledge.Base](ctx, reg, ModelKnowledgeBase)
		if err != nil {
			return nil, err
		}
		return NewLexiconClassifier(kb, o.with(WithModelName(nameOr(cfg.ClassifierName, "lexicon-relevance")))...)
	})
	if err != nil {
		return err
	}
	return reg.Register(ModelNER, func(ctx context.Context) (any, error) {
		kb, err := common.Resolve[*knowledge.Base](ctx, reg, ModelKnowledgeBase)
		if err != nil {
			return nil, err
		}
		return NewGazetteer(kb, o.with(WithModelName(nameOr(cfg.NERName, "lexicon-ner")))...)
	})
}

func registerHugot(reg common.ModelRegistry, cfg Config, o *options) error {
	if cfg.ClassifierPath == "" || cfg.NERPath == "" {
		return errors.InvalidInput("hugot backend requires classifier and ner model paths")
	}
	err := reg.Register(modelHugotSession, func(context.Context) (any, error) {
		return NewHugotSession()
	})
	if err != nil {
		return err
	}
	err = reg.Register(ModelRelevance, func(ctx context.Context) (any, error) {
		s, err := common.Resolve[*HugotSession](ctx, reg, modelHugotSession)
		if err != nil {
			return nil, err
		}
		return NewHugotClassifier(s, cfg.ClassifierPath, o.with(WithModelName(nameOr(cfg.ClassifierName, ModelRelevance)))...)
	})
	if err != nil {
		return err
	}
	return reg.Register(ModelNER, func(ctx context.Context) (any, error) {
		s, err := common.Resolve[*HugotSession](ctx, reg, modelHugotSession)
		if err != nil {
			return nil, err
		}
		return NewHugotNER(s, cfg.NERPath, o.with(WithModelName(nameOr(cfg.NERName, ModelNER)))...)
	})
}

func registerServing(reg common.ModelRegistry, cfg Config, o *options) error {
	if cfg.ServingAddr == "" {
		return errors.InvalidInput("serving backend requires an address")
	}
	err := reg.Register(modelServingClient, func(context.Context) (any, error) {
		sopts := append([]common.ServingOption{
			common.WithServingTimeout(cfg.ServingTimeout),
			common.WithServingMetrics(o.metrics),
			common.WithServingLogger(o.logger),
		}, o.servingOpts...)
		return common.NewGRPCServingClient(cfg.ServingAddr, sopts...)
	})
	if err != nil {
		return err
	}
	err = reg.Register(ModelRelevance, func(ctx context.Context) (any, error) {
		c, err := common.Resolve[common.ServingClient](ctx, reg, modelServingClient)
		if err != nil {
			return nil, err
		}
		return NewServingClassifier(c, nameOr(cfg.ClassifierName, ModelRelevance))
	})
	if err != nil {
		return err
	}
	return reg.Register(ModelNER, func(ctx context.Context) (any, error) {
		c, err := common.Resolve[common.ServingClient](ctx, reg, modelServingClient)
		if err != nil {
			return nil, err
		}
		return NewServingNER(c, nameOr(cfg.NERName, ModelNER))
	})
}

// Relevance resolves the registered relevance model.
func Relevance(ctx context.Context, reg common.ModelRegistry) (relevance.Model, error) {
	return common.Resolve[relevance.Model](ctx, reg, ModelRelevance)
}

// NER resolves the registered NER model.
func NER(ctx context.Context, reg common.ModelRegistry) (extractor.NERModel, error) {
	return common.Resolve[extractor.NERModel](ctx, reg, ModelNER)
}

// KnowledgeBase resolves the registered knowledge base.
func KnowledgeBase(ctx context.Context, reg common.ModelRegistry) (*knowledge.Base, error) {
	return common.Resolve[*knowledge.Base](ctx, reg, ModelKnowledgeBase)
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
