// Package config defines the configuration structures of the medical NLP
// pipeline, its worker and its CLI. Loading lives in loader.go; defaults in
// defaults.go.
package config

import (
	"fmt"
	"math"
	"time"
)

// LogConfig holds structured-logging parameters.
type LogConfig struct {
	Level       string   `mapstructure:"level"`  // "debug" | "info" | "warn" | "error"
	Format      string   `mapstructure:"format"` // "json" | "console"
	OutputPaths []string `mapstructure:"output_paths"`
}

// QualityWeights are the weights of the quality scorer terms. They must sum to 1.
type QualityWeights struct {
	EntityCount    float64 `mapstructure:"entity_count"`
	MeanConfidence float64 `mapstructure:"mean_confidence"`
	Relevance      float64 `mapstructure:"relevance"`
	TextLength     float64 `mapstructure:"text_length"`
}

// Sum returns the total weight.
func (w QualityWeights) Sum() float64 {
	return w.EntityCount + w.MeanConfidence + w.Relevance + w.TextLength
}

// BatchConfig controls ProcessBatch.
type BatchConfig struct {
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ItemTimeout    time.Duration `mapstructure:"item_timeout"`
}

// PipelineConfig holds the thresholds of the processing stages.
type PipelineConfig struct {
	RelevanceThreshold float64        `mapstructure:"relevance_threshold"`
	KeywordBoost       float64        `mapstructure:"keyword_boost"`
	ExtraKeywords      []string       `mapstructure:"extra_keywords"`
	FuzzyThreshold     float64        `mapstructure:"fuzzy_threshold"`
	MinConfidence      float64        `mapstructure:"min_confidence"`
	RuleConfidence     float64        `mapstructure:"rule_confidence"`
	QualityWeights     QualityWeights `mapstructure:"quality_weights"`
	Batch              BatchConfig    `mapstructure:"batch"`
}

// ModelConfig locates one model for a backend.
type ModelConfig struct {
	Name string `mapstructure:"name"`
	Path string `mapstructure:"path"`
}

// ModelsConfig selects and configures the model backend.
type ModelsConfig struct {
	Backend        string        `mapstructure:"backend"` // "lexicon" | "hugot" | "serving"
	Classifier     ModelConfig   `mapstructure:"classifier"`
	NER            ModelConfig   `mapstructure:"ner"`
	ServingAddr    string        `mapstructure:"serving_addr"`
	ServingTimeout time.Duration `mapstructure:"serving_timeout"`
	LoadTimeout    time.Duration `mapstructure:"load_timeout"`
}

// KnowledgeConfig selects where the knowledge base is read from.
type KnowledgeConfig struct {
	Source string `mapstructure:"source"` // "seed" | "file" | "minio"
	Path   string `mapstructure:"path"`
	Object string `mapstructure:"object"`
}

// CacheConfig controls the link cache.
type CacheConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	Capacity uint64        `mapstructure:"capacity"`
	UseRedis bool          `mapstructure:"use_redis"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Mode         string        `mapstructure:"mode"` // "standalone" | "sentinel" | "cluster"
	Addr         string        `mapstructure:"addr"`
	Addrs        []string      `mapstructure:"addrs"`
	MasterName   string        `mapstructure:"master_name"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// KafkaConfig holds the worker's ingest and publish settings.
type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	GroupID     string   `mapstructure:"group_id"`
	InputTopic  string   `mapstructure:"input_topic"`
	OutputTopic string   `mapstructure:"output_topic"`
	DLQTopic    string   `mapstructure:"dlq_topic"`
	MaxRetries  int      `mapstructure:"max_retries"`
	BatchSize   int      `mapstructure:"batch_size"`
	StartOffset string   `mapstructure:"start_offset"` // "earliest" | "latest"
}

// DatabaseConfig holds PostgreSQL parameters for the result store.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationPath   string        `mapstructure:"migration_path"`
}

// MinIOConfig holds object-storage parameters for knowledge base snapshots.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
}

// OpsConfig controls the worker's health and metrics HTTP server.
type OpsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Mode    string `mapstructure:"mode"` // gin mode: "debug" | "release" | "test"

	// RateLimit is requests per second per client on /v1; 0 disables it.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// MetricsConfig controls Prometheus metric registration.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// Config is the root configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Models    ModelsConfig    `mapstructure:"models"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Database  DatabaseConfig  `mapstructure:"database"`
	MinIO     MinIOConfig     `mapstructure:"minio"`
	Ops       OpsConfig       `mapstructure:"ops"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

func inUnit(v float64) bool { return !math.IsNaN(v) && v >= 0 && v <= 1 }

// Validate performs semantic validation of a fully-populated Config and
// returns the first problem found.
func (c *Config) Validate() error {
	p := c.Pipeline
	if !inUnit(p.RelevanceThreshold) {
		return fmt.Errorf("config: pipeline.relevance_threshold %v must be in [0, 1]", p.RelevanceThreshold)
	}
	if !inUnit(p.KeywordBoost) {
		return fmt.Errorf("config: pipeline.keyword_boost %v must be in [0, 1]", p.KeywordBoost)
	}
	if !inUnit(p.FuzzyThreshold) || p.FuzzyThreshold == 0 {
		return fmt.Errorf("config: pipeline.fuzzy_threshold %v must be in (0, 1]", p.FuzzyThreshold)
	}
	if !inUnit(p.MinConfidence) {
		return fmt.Errorf("config: pipeline.min_confidence %v must be in [0, 1]", p.MinConfidence)
	}
	if !inUnit(p.RuleConfidence) {
		return fmt.Errorf("config: pipeline.rule_confidence %v must be in [0, 1]", p.RuleConfidence)
	}
	w := p.QualityWeights
	for _, v := range []float64{w.EntityCount, w.MeanConfidence, w.Relevance, w.TextLength} {
		if v < 0 {
			return fmt.Errorf("config: pipeline.quality_weights must be non-negative")
		}
	}
	if math.Abs(w.Sum()-1) > 1e-6 {
		return fmt.Errorf("config: pipeline.quality_weights sum to %v, expected 1", w.Sum())
	}
	if p.Batch.MaxConcurrency < 1 {
		return fmt.Errorf("config: pipeline.batch.max_concurrency must be ≥ 1, got %d", p.Batch.MaxConcurrency)
	}
	if p.Batch.Timeout < 0 || p.Batch.ItemTimeout < 0 {
		return fmt.Errorf("config: pipeline.batch timeouts must not be negative")
	}

	switch c.Models.Backend {
	case "lexicon":
	case "hugot":
		if c.Models.NER.Path == "" || c.Models.Classifier.Path == "" {
			return fmt.Errorf("config: models.ner.path and models.classifier.path are required for the hugot backend")
		}
	case "serving":
		if c.Models.ServingAddr == "" {
			return fmt.Errorf("config: models.serving_addr is required for the serving backend")
		}
	default:
		return fmt.Errorf("config: models.backend %q is invalid; expected lexicon|hugot|serving", c.Models.Backend)
	}

	switch c.Knowledge.Source {
	case "seed":
	case "file":
		if c.Knowledge.Path == "" {
			return fmt.Errorf("config: knowledge.path is required when knowledge.source is file")
		}
	case "minio":
		if c.Knowledge.Object == "" || c.MinIO.Bucket == "" {
			return fmt.Errorf("config: knowledge.object and minio.bucket are required when knowledge.source is minio")
		}
	default:
		return fmt.Errorf("config: knowledge.source %q is invalid; expected seed|file|minio", c.Knowledge.Source)
	}

	switch c.Redis.Mode {
	case "standalone", "sentinel", "cluster":
	default:
		return fmt.Errorf("config: redis.mode %q is invalid; expected standalone|sentinel|cluster", c.Redis.Mode)
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("config: redis.db must be ≥ 0, got %d", c.Redis.DB)
	}

	if c.Database.Enabled {
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return fmt.Errorf("config: database.host, database.user and database.db_name are required")
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("config: database.port %d is out of range [1, 65535]", c.Database.Port)
		}
	}

	if c.Ops.RateLimit < 0 || math.IsNaN(c.Ops.RateLimit) {
		return fmt.Errorf("config: ops.rate_limit must be ≥ 0, got %v", c.Ops.RateLimit)
	}

	switch c.Kafka.StartOffset {
	case "earliest", "latest":
	default:
		return fmt.Errorf("config: kafka.start_offset %q is invalid; expected earliest|latest", c.Kafka.StartOffset)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}
	return nil
}
