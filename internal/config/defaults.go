package config

import "time"

const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultRelevanceThreshold = 0.6
	DefaultKeywordBoost       = 0.15
	DefaultFuzzyThreshold     = 0.8
	DefaultMinConfidence      = 0.6
	DefaultRuleConfidence     = 0.9

	DefaultWeightEntityCount    = 0.3
	DefaultWeightMeanConfidence = 0.3
	DefaultWeightRelevance      = 0.3
	DefaultWeightTextLength     = 0.1

	DefaultBatchConcurrency = 8
	DefaultBatchTimeout     = 5 * time.Minute

	DefaultModelBackend   = "lexicon"
	DefaultServingTimeout = 10 * time.Second
	DefaultLoadTimeout    = 2 * time.Minute

	DefaultKnowledgeSource = "seed"

	DefaultCacheTTL      = time.Hour
	DefaultCacheCapacity = 10000

	DefaultRedisMode = "standalone"
	DefaultRedisAddr = "localhost:6379"

	DefaultKafkaBroker      = "localhost:9092"
	DefaultKafkaGroupID     = "medextract-worker"
	DefaultKafkaInputTopic  = "medical.messages.raw"
	DefaultKafkaOutputTopic = "medical.messages.processed"
	DefaultKafkaDLQTopic    = "medical.messages.dlq"
	DefaultKafkaMaxRetries  = 3
	DefaultKafkaBatchSize   = 32

	DefaultDBHost     = "localhost"
	DefaultDBPort     = 5432
	DefaultDBName     = "medextract"
	DefaultDBMaxConns = 10

	DefaultMinIOEndpoint = "localhost:9000"

	DefaultOpsAddr  = ":9090"
	DefaultOpsMode  = "release"
	DefaultOpsBurst = 20

	DefaultMetricsNamespace = "medextract"
)

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-value fields in cfg. Explicitly set values win.
// A zero threshold or weight is treated as unset.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	p := &cfg.Pipeline
	if p.RelevanceThreshold == 0 {
		p.RelevanceThreshold = DefaultRelevanceThreshold
	}
	if p.KeywordBoost == 0 {
		p.KeywordBoost = DefaultKeywordBoost
	}
	if p.FuzzyThreshold == 0 {
		p.FuzzyThreshold = DefaultFuzzyThreshold
	}
	if p.MinConfidence == 0 {
		p.MinConfidence = DefaultMinConfidence
	}
	if p.RuleConfidence == 0 {
		p.RuleConfidence = DefaultRuleConfidence
	}
	if p.QualityWeights.Sum() == 0 {
		p.QualityWeights = QualityWeights{
			EntityCount:    DefaultWeightEntityCount,
			MeanConfidence: DefaultWeightMeanConfidence,
			Relevance:      DefaultWeightRelevance,
			TextLength:     DefaultWeightTextLength,
		}
	}
	if p.Batch.MaxConcurrency == 0 {
		p.Batch.MaxConcurrency = DefaultBatchConcurrency
	}
	if p.Batch.Timeout == 0 {
		p.Batch.Timeout = DefaultBatchTimeout
	}

	if cfg.Models.Backend == "" {
		cfg.Models.Backend = DefaultModelBackend
	}
	if cfg.Models.Classifier.Name == "" {
		cfg.Models.Classifier.Name = "relevance"
	}
	if cfg.Models.NER.Name == "" {
		cfg.Models.NER.Name = "ner"
	}
	if cfg.Models.ServingTimeout == 0 {
		cfg.Models.ServingTimeout = DefaultServingTimeout
	}
	if cfg.Models.LoadTimeout == 0 {
		cfg.Models.LoadTimeout = DefaultLoadTimeout
	}

	if cfg.Knowledge.Source == "" {
		cfg.Knowledge.Source = DefaultKnowledgeSource
	}

	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = DefaultCacheTTL
	}
	if cfg.Cache.Capacity == 0 {
		cfg.Cache.Capacity = DefaultCacheCapacity
	}

	if cfg.Redis.Mode == "" {
		cfg.Redis.Mode = DefaultRedisMode
	}
	if cfg.Redis.Addr == "" && len(cfg.Redis.Addrs) == 0 {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "medextract:"
	}

	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.InputTopic == "" {
		cfg.Kafka.InputTopic = DefaultKafkaInputTopic
	}
	if cfg.Kafka.OutputTopic == "" {
		cfg.Kafka.OutputTopic = DefaultKafkaOutputTopic
	}
	if cfg.Kafka.DLQTopic == "" {
		cfg.Kafka.DLQTopic = DefaultKafkaDLQTopic
	}
	if cfg.Kafka.MaxRetries == 0 {
		cfg.Kafka.MaxRetries = DefaultKafkaMaxRetries
	}
	if cfg.Kafka.BatchSize == 0 {
		cfg.Kafka.BatchSize = DefaultKafkaBatchSize
	}
	if cfg.Kafka.StartOffset == "" {
		cfg.Kafka.StartOffset = "earliest"
	}

	if cfg.Database.Host == "" {
		cfg.Database.Host = DefaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = DefaultDBName
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = DefaultDBMaxConns
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}

	if cfg.MinIO.Endpoint == "" {
		cfg.MinIO.Endpoint = DefaultMinIOEndpoint
	}

	if cfg.Ops.Addr == "" {
		cfg.Ops.Addr = DefaultOpsAddr
	}
	if cfg.Ops.Mode == "" {
		cfg.Ops.Mode = DefaultOpsMode
	}
	if cfg.Ops.RateLimit > 0 && cfg.Ops.RateBurst <= 0 {
		cfg.Ops.RateBurst = DefaultOpsBurst
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
}
