package quality

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

func entities(confs ...float64) []medical.MedicalEntity {
	out := make([]medical.MedicalEntity, len(confs))
	for i, c := range confs {
		out[i] = medical.MedicalEntity{EntityType: medical.EntityMedication, Start: i, End: i + 1, Confidence: c}
	}
	return out
}

func defaultScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := NewScorer(DefaultWeights())
	require.NoError(t, err)
	return s
}

func TestScore(t *testing.T) {
	s := defaultScorer(t)

	tests := []struct {
		name     string
		entities []medical.MedicalEntity
		medConf  float64
		words    int
		want     float64
	}{
		{"nothing", nil, 0, 0, 0},
		{"non-medical chatter", nil, 0.05, 3, 0.3*0.05 + 0.1*0.1},
		{"two entities", entities(0.85, 0.9), 0.8, 4, 0.3*0.4 + 0.3*0.875 + 0.3*0.8 + 0.1*4.0/30},
		{"saturated", entities(1, 1, 1, 1, 1, 1, 1), 1, 100, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Score(tt.entities, tt.medConf, tt.words)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestScore_Monotonic(t *testing.T) {
	s := defaultScorer(t)
	base := s.Score(entities(0.7), 0.6, 10)

	assert.Greater(t, s.Score(entities(0.7), 0.9, 10), base)
	assert.Greater(t, s.Score(entities(0.9), 0.6, 10), base)
	assert.Greater(t, s.Score(entities(0.7), 0.6, 20), base)
	assert.Greater(t, s.Score(entities(0.7, 0.7), 0.6, 10), base)
	assert.Equal(t, s.Score(entities(0.7), 0.6, 30), s.Score(entities(0.7), 0.6, 300))
}

func TestScore_ClampsInputs(t *testing.T) {
	s := defaultScorer(t)
	assert.Equal(t, 0.0, s.Score(nil, -1, -5))
	assert.Equal(t, 0.0, s.Score(nil, math.NaN(), 0))
	assert.InDelta(t, 0.3, s.Score(nil, 7, 0), 1e-9)
}

func TestWeights_Validate(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())

	_, err := NewScorer(Weights{EntityCount: 0.5, MeanConfidence: 0.5, MedicalConfidence: 0.5})
	assert.True(t, errors.IsInvalidInput(err))

	_, err = NewScorer(Weights{EntityCount: -0.2, MeanConfidence: 0.6, MedicalConfidence: 0.6})
	assert.True(t, errors.IsInvalidInput(err))

	s, err := NewScorer(Weights{MedicalConfidence: 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.42, s.Score(entities(1, 1), 0.42, 50), 1e-9)
	assert.Equal(t, 1.0, s.Weights().MedicalConfidence)
}

func TestBucket(t *testing.T) {
	tests := []struct {
		score float64
		want  medical.QualityBucket
	}{
		{0, medical.QualityLow},
		{0.399, medical.QualityLow},
		{0.4, medical.QualityMedium},
		{0.55, medical.QualityMedium},
		{0.7, medical.QualityMedium},
		{0.7001, medical.QualityHigh},
		{1, medical.QualityHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Bucket(tt.score), "score %v", tt.score)
	}
}
