// Package quality scores how useful a processed message is.
package quality

import (
	"fmt"
	"math"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

const (
	// EntityCountCap is the entity count that earns the full count term.
	EntityCountCap = 5
	// WordCountCap is the word count that earns the full length term.
	WordCountCap = 30

	HighThreshold   = 0.7
	MediumThreshold = 0.4
)

// Weights of the score components. They must sum to 1.
type Weights struct {
	EntityCount       float64 `mapstructure:"entity_count" json:"entity_count"`
	MeanConfidence    float64 `mapstructure:"mean_confidence" json:"mean_confidence"`
	MedicalConfidence float64 `mapstructure:"medical_confidence" json:"medical_confidence"`
	TextLength        float64 `mapstructure:"text_length" json:"text_length"`
}

// DefaultWeights returns 0.3 / 0.3 / 0.3 / 0.1.
func DefaultWeights() Weights {
	return Weights{EntityCount: 0.3, MeanConfidence: 0.3, MedicalConfidence: 0.3, TextLength: 0.1}
}

// Validate checks that every weight is non-negative and the sum is 1.
func (w Weights) Validate() error {
	for _, v := range []float64{w.EntityCount, w.MeanConfidence, w.MedicalConfidence, w.TextLength} {
		if math.IsNaN(v) || v < 0 {
			return errors.InvalidInput(fmt.Sprintf("quality weight %v must be non-negative", v))
		}
	}
	if sum := w.EntityCount + w.MeanConfidence + w.MedicalConfidence + w.TextLength; math.Abs(sum-1) > 1e-6 {
		return errors.InvalidInput(fmt.Sprintf("quality weights sum to %.4f, want 1", sum))
	}
	return nil
}

// Scorer is stateless and safe for concurrent use.
type Scorer struct {
	w Weights
}

// NewScorer validates w.
func NewScorer(w Weights) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{w: w}, nil
}

// Weights returns the configured weights.
func (s *Scorer) Weights() Weights { return s.w }

// Score combines capped entity count, mean entity confidence, the medical
// confidence and capped word count. It never decreases when any single
// confidence or wordCount grows. The result is in [0, 1].
func (s *Scorer) Score(entities []medical.MedicalEntity, medicalConfidence float64, wordCount int) float64 {
	count := math.Min(float64(len(entities))/EntityCountCap, 1)

	var mean float64
	if len(entities) > 0 {
		var sum float64
		for _, e := range entities {
			sum += clamp01(e.Confidence)
		}
		mean = sum / float64(len(entities))
	}

	length := math.Min(float64(max(wordCount, 0))/WordCountCap, 1)

	score := s.w.EntityCount*count +
		s.w.MeanConfidence*mean +
		s.w.MedicalConfidence*clamp01(medicalConfidence) +
		s.w.TextLength*length
	return clamp01(score)
}

// Bucket maps a score to its reporting band: high above 0.7, medium in
// [0.4, 0.7], low below 0.4.
func Bucket(score float64) medical.QualityBucket {
	switch {
	case score > HighThreshold:
		return medical.QualityHigh
	case score >= MediumThreshold:
		return medical.QualityMedium
	default:
		return medical.QualityLow
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
