// internal/application/processing/config.go

package processing

import (
	"runtime"
	"time"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/config"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/extractor"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/linker"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/quality"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/relevance"
)

// Config holds the thresholds and limits of the processing stages.
type Config struct {
	RelevanceThreshold float64
	KeywordBoost       float64
	ExtraKeywords      []string
	FuzzyThreshold     float64
	MinConfidence      float64
	RuleConfidence     float64
	QualityWeights     quality.Weights

	MaxConcurrency int
	BatchTimeout   time.Duration
	ItemTimeout    time.Duration

	LinkCacheTTL      time.Duration
	LinkCacheCapacity uint64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		RelevanceThreshold: relevance.DefaultThreshold,
		KeywordBoost:       relevance.DefaultBoostIncrement,
		FuzzyThreshold:     linker.DefaultFuzzyThreshold,
		MinConfidence:      extractor.DefaultMinConfidence,
		RuleConfidence:     extractor.DefaultRuleConfidence,
		QualityWeights:     quality.DefaultWeights(),
		MaxConcurrency:     runtime.NumCPU(),
		BatchTimeout:       5 * time.Minute,
		LinkCacheTTL:       linker.DefaultCacheTTL,
		LinkCacheCapacity:  linker.DefaultCacheCapacity,
	}
}

// FromConfig maps the pipeline and cache sections of the application
// configuration.
func FromConfig(c *config.Config) Config {
	p := c.Pipeline
	return Config{
		RelevanceThreshold: p.RelevanceThreshold,
		KeywordBoost:       p.KeywordBoost,
		ExtraKeywords:      p.ExtraKeywords,
		FuzzyThreshold:     p.FuzzyThreshold,
		MinConfidence:      p.MinConfidence,
		RuleConfidence:     p.RuleConfidence,
		QualityWeights: quality.Weights{
			EntityCount:       p.QualityWeights.EntityCount,
			MeanConfidence:    p.QualityWeights.MeanConfidence,
			MedicalConfidence: p.QualityWeights.Relevance,
			TextLength:        p.QualityWeights.TextLength,
		},
		MaxConcurrency:    p.Batch.MaxConcurrency,
		BatchTimeout:      p.Batch.Timeout,
		ItemTimeout:       p.Batch.ItemTimeout,
		LinkCacheTTL:      c.Cache.TTL,
		LinkCacheCapacity: c.Cache.Capacity,
	}
}
