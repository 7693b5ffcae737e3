// Package bootstrap assembles the processing pipeline from the application
// configuration: the knowledge base source, the model backend and the
// optional Redis link store. The CLI and the worker share it.
package bootstrap

import (
	"context"
	stderrors "errors"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/application/processing"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/config"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/database/redis"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/monitoring/logging"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/storage/minio"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/backends"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/common"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/knowledge"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
)

// Knowledge source kinds.
const (
	SourceSeed  = "seed"
	SourceFile  = "file"
	SourceMinIO = "minio"
)

// Pipeline is an assembled processor together with the resources it owns.
type Pipeline struct {
	Processor *processing.Processor
	Registry  common.ModelRegistry
	Source    knowledge.Source
	// Redis is set when the link cache has a Redis second level.
	Redis *redis.Client
	// MinIO is set when the knowledge base is read from object storage.
	MinIO *minio.MinIOClient

	closers []func() error
}

// Close releases everything in reverse order of acquisition.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return stderrors.Join(errs...)
}

type options struct {
	metrics common.IntelligenceMetrics
	logger  logging.Logger
	source  knowledge.Source
	store   *redis.Client
}

// Option configures Build.
type Option func(*options)

// WithMetrics sets the metrics sink of the registry, the backends and the
// processor.
func WithMetrics(m common.IntelligenceMetrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = logging.OrNop(l) }
}

// WithSource overrides the configured knowledge source.
func WithSource(src knowledge.Source) Option {
	return func(o *options) { o.source = src }
}

// WithRedisClient uses an existing client for the link store instead of
// dialing cfg.Redis. The caller keeps ownership.
func WithRedisClient(c *redis.Client) Option {
	return func(o *options) { o.store = c }
}

// BackendConfig maps the models section.
func BackendConfig(m config.ModelsConfig) backends.Config {
	return backends.Config{
		Backend:        common.BackendType(m.Backend),
		ClassifierName: m.Classifier.Name,
		ClassifierPath: m.Classifier.Path,
		NERName:        m.NER.Name,
		NERPath:        m.NER.Path,
		ServingAddr:    m.ServingAddr,
		ServingTimeout: m.ServingTimeout,
	}
}

// KnowledgeSource opens the configured knowledge source. The returned
// client is non-nil only for the minio source and must be closed by the
// caller.
func KnowledgeSource(ctx context.Context, cfg *config.Config, log logging.Logger) (knowledge.Source, *minio.MinIOClient, error) {
	switch cfg.Knowledge.Source {
	case SourceSeed, "":
		return knowledge.SeedSource{}, nil, nil
	case SourceFile:
		if cfg.Knowledge.Path == "" {
			return nil, nil, errors.InvalidInput("knowledge.path is required for the file source")
		}
		return knowledge.FileSource{Path: cfg.Knowledge.Path}, nil, nil
	case SourceMinIO:
		if cfg.Knowledge.Object == "" {
			return nil, nil, errors.InvalidInput("knowledge.object is required for the minio source")
		}
		client, err := minio.NewMinIOClient(ctx, minio.FromConfig(cfg.MinIO), log)
		if err != nil {
			return nil, nil, err
		}
		return minio.NewKnowledgeSource(client, cfg.Knowledge.Object), client, nil
	default:
		return nil, nil, errors.Newf(errors.ErrCodeValidation, "unknown knowledge source %q", cfg.Knowledge.Source)
	}
}

// Build assembles the pipeline. Models are loaded before it returns, so a
// model that cannot load fails Build with ModelUnavailable.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (p *Pipeline, err error) {
	if cfg == nil {
		return nil, errors.InvalidInput("config is required")
	}
	o := &options{metrics: common.NewNoopIntelligenceMetrics(), logger: logging.NewNopLogger()}
	for _, fn := range opts {
		fn(o)
	}

	p = &Pipeline{}
	defer func() {
		if err != nil {
			_ = p.Close()
			p = nil
		}
	}()

	p.Source = o.source
	if p.Source == nil {
		var mc *minio.MinIOClient
		if p.Source, mc, err = KnowledgeSource(ctx, cfg, o.logger.Named("minio")); err != nil {
			return p, err
		}
		if mc != nil {
			p.MinIO = mc
			p.closers = append(p.closers, mc.Close)
		}
	}

	regOpts := []common.RegistryOption{
		common.WithRegistryMetrics(o.metrics),
		common.WithRegistryLogger(o.logger.Named("registry")),
	}
	if cfg.Models.LoadTimeout > 0 {
		regOpts = append(regOpts, common.WithLoadTimeout(cfg.Models.LoadTimeout))
	}
	p.Registry = common.NewModelRegistry(regOpts...)
	p.closers = append(p.closers, p.Registry.Close)

	if err = backends.Register(p.Registry, BackendConfig(cfg.Models), p.Source,
		backends.WithMetrics(o.metrics),
		backends.WithLogger(o.logger.Named("backends"))); err != nil {
		return p, err
	}

	procOpts := []processing.Option{
		processing.WithMetrics(o.metrics),
		processing.WithLogger(o.logger),
	}
	if cfg.Cache.UseRedis {
		client := o.store
		if client == nil {
			if client, err = redis.NewClient(redis.FromConfig(cfg.Redis), o.logger.Named("redis")); err != nil {
				return p, err
			}
			p.closers = append(p.closers, client.Close)
		}
		p.Redis = client
		var cacheOpts []redis.CacheOption
		if cfg.Redis.KeyPrefix != "" {
			cacheOpts = append(cacheOpts, redis.WithPrefix(cfg.Redis.KeyPrefix))
		}
		store := redis.NewLinkStore(redis.NewRedisCache(client, o.logger.Named("redis"), cacheOpts...))
		procOpts = append(procOpts, processing.WithLinkStore(store))
	}

	if p.Processor, err = processing.NewProcessor(ctx, p.Registry, processing.FromConfig(cfg), procOpts...); err != nil {
		return p, err
	}
	p.closers = append(p.closers, p.Processor.Close)

	o.logger.Info("pipeline ready",
		logging.String("backend", string(BackendConfig(cfg.Models).Backend)),
		logging.String("knowledge_source", p.Source.Name()),
		logging.Int("kb_entries", p.Processor.KnowledgeBase().Len()),
		logging.Bool("redis_link_cache", p.Redis != nil))
	return p, nil
}
