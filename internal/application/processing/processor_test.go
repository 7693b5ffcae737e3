package processing_test

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/application/processing"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/backends"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/common"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/extractor"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/knowledge"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/relevance"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

func testConfig() processing.Config {
	cfg := processing.DefaultConfig()
	cfg.MaxConcurrency = 4
	return cfg
}

func lexiconProcessor(t *testing.T, opts ...processing.Option) *processing.Processor {
	t.Helper()
	reg := common.NewModelRegistry()
	t.Cleanup(func() { _ = reg.Close() })
	require.NoError(t, backends.Register(reg, backends.Config{Backend: common.BackendLexicon}, knowledge.SeedSource{}))

	p, err := processing.NewProcessor(context.Background(), reg, testConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// stubProcessor wires fixed models into a registry.
func stubProcessor(t *testing.T, model relevance.Model, ner extractor.NERModel, opts ...processing.Option) *processing.Processor {
	t.Helper()
	reg := common.NewModelRegistry()
	t.Cleanup(func() { _ = reg.Close() })
	require.NoError(t, reg.Register(backends.ModelKnowledgeBase, func(context.Context) (any, error) {
		return knowledge.NewBase(knowledge.Seed())
	}))
	require.NoError(t, reg.Register(backends.ModelRelevance, func(context.Context) (any, error) { return model, nil }))
	require.NoError(t, reg.Register(backends.ModelNER, func(context.Context) (any, error) { return ner, nil }))

	p, err := processing.NewProcessor(context.Background(), reg, testConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func constRelevance(p float64) relevance.Model {
	return relevance.ModelFunc(func(context.Context, string) (float64, error) { return p, nil })
}

func noSpans() extractor.NERModel {
	return extractor.NERModelFunc(func(context.Context, string) ([]extractor.ModelSpan, error) { return nil, nil })
}

func entityOf(t *testing.T, msg *medical.ProcessedMessage, typ medical.EntityType) medical.MedicalEntity {
	t.Helper()
	ents := msg.EntitiesOfType(typ)
	require.Len(t, ents, 1, "entities of type %s in %+v", typ, msg.Entities)
	return ents[0]
}

func assertFailed(t *testing.T, msg *medical.ProcessedMessage, kind medical.DiagnosticKind, stage string) {
	t.Helper()
	assert.False(t, msg.IsMedical)
	assert.Empty(t, msg.Entities)
	assert.NotNil(t, msg.Entities)
	assert.Equal(t, 0.0, msg.QualityScore)
	assert.Equal(t, medical.QualityLow, msg.QualityBucket)
	require.Len(t, msg.Diagnostics, 1)
	assert.Equal(t, kind, msg.Diagnostics[0].Kind)
	assert.Equal(t, stage, msg.Diagnostics[0].Stage)
}

func TestProcess_MedicalMessage(t *testing.T) {
	p := lexiconProcessor(t)

	msg, err := p.Process(context.Background(), "Amoxicillin 500 mg for infection")
	require.NoError(t, err)

	assert.True(t, msg.IsMedical)
	assert.Equal(t, medical.StatusSuccess, msg.Status)
	assert.Equal(t, "Amoxicillin 500mg for infection", msg.NormalizedText)
	assert.NotEmpty(t, msg.ID)
	assert.Contains(t, msg.Reasoning, "medical keywords detected")

	med := entityOf(t, msg, medical.EntityMedication)
	assert.Equal(t, "Amoxicillin", med.Text)
	assert.Equal(t, "Amoxicillin", med.Normalized)
	dose := entityOf(t, msg, medical.EntityDosage)
	assert.Equal(t, "500mg", dose.Text)
	assert.Equal(t, extractor.DefaultRuleConfidence, dose.Confidence)
	cond := entityOf(t, msg, medical.EntityCondition)
	assert.Equal(t, "Infection", cond.Normalized)

	assert.Equal(t, []string{"Amoxicillin"}, msg.Medications())
	assert.Equal(t, []string{"500mg"}, msg.Dosages())

	require.Len(t, msg.Links, 2)
	assert.Equal(t, medical.LinkExact, msg.Links[0].Method)
	assert.Equal(t, 1.0, msg.Links[0].Confidence)

	for i := 1; i < len(msg.Entities); i++ {
		assert.LessOrEqual(t, msg.Entities[i-1].Start, msg.Entities[i].Start)
	}
	assert.Greater(t, msg.QualityScore, 0.7)
	assert.Equal(t, medical.QualityHigh, msg.QualityBucket)
	assert.False(t, msg.ProcessedAt.IsZero())
}

func TestProcess_NonMedicalMessage(t *testing.T) {
	p := lexiconProcessor(t)

	msg, err := p.Process(context.Background(), "Weather is sunny")
	require.NoError(t, err)

	assert.False(t, msg.IsMedical)
	assert.NotNil(t, msg.Entities)
	assert.Empty(t, msg.Entities)
	assert.Empty(t, msg.Links)
	assert.InDelta(t, 0.0, msg.QualityScore, 0.05)
	assert.Equal(t, medical.QualityLow, msg.QualityBucket)
	assert.Equal(t, medical.StatusSuccess, msg.Status)
	assert.Empty(t, msg.Diagnostics)
}

func TestProcess_UnlinkedEntitiesCarryLowercaseNormalized(t *testing.T) {
	ner := extractor.NERModelFunc(func(context.Context, string) ([]extractor.ModelSpan, error) {
		return []extractor.ModelSpan{{Label: "DRUG", Start: 0, End: 9, Score: 0.9}}, nil
	})
	p := stubProcessor(t, constRelevance(0.9), ner)

	msg, err := p.Process(context.Background(), "Zorblaxin 500MG")
	require.NoError(t, err)

	med := entityOf(t, msg, medical.EntityMedication)
	assert.Equal(t, "Zorblaxin", med.Text)
	assert.Equal(t, "zorblaxin", med.Normalized)
	dose := entityOf(t, msg, medical.EntityDosage)
	assert.Equal(t, strings.ToLower(dose.Text), dose.Normalized)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	var wire struct {
		Entities []map[string]any `json:"entities"`
	}
	require.NoError(t, json.Unmarshal(data, &wire))
	require.Len(t, wire.Entities, 2)
	for _, e := range wire.Entities {
		assert.Contains(t, e, "normalized")
	}
}

func TestProcess_RepeatedTextIsIdempotent(t *testing.T) {
	p := lexiconProcessor(t)
	const text = "Amoxicillin 500 mg for infection and fever"

	first, err := p.Process(context.Background(), text)
	require.NoError(t, err)
	require.Positive(t, p.Linker().CacheLen())
	second, err := p.Process(context.Background(), text)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.NormalizedText, second.NormalizedText)
	assert.Equal(t, first.IsMedical, second.IsMedical)
	assert.Equal(t, first.MedicalConfidence, second.MedicalConfidence)
	assert.Equal(t, first.Reasoning, second.Reasoning)
	assert.Equal(t, first.Entities, second.Entities)
	assert.Equal(t, first.Links, second.Links)
	assert.Equal(t, first.QualityScore, second.QualityScore)
	assert.Equal(t, first.QualityBucket, second.QualityBucket)
	assert.Equal(t, first.Diagnostics, second.Diagnostics)
}

func TestProcess_LinkerCorrectsMisspelling(t *testing.T) {
	p := lexiconProcessor(t)

	res, err := p.Linker().Link(context.Background(), "Amoxicilin", medical.EntityMedication)
	require.NoError(t, err)
	assert.Equal(t, "Amoxicillin", res.Normalized)
	assert.GreaterOrEqual(t, res.Confidence, 0.8)
	assert.Equal(t, medical.LinkFuzzy, res.Method)
}

func TestProcess_MinConfidence(t *testing.T) {
	p := lexiconProcessor(t)

	msg, err := p.Process(context.Background(), "Amoxicillin 500mg for infection", processing.WithMinConfidence(0.88))
	require.NoError(t, err)
	require.Len(t, msg.Entities, 1)
	assert.Equal(t, medical.EntityDosage, msg.Entities[0].EntityType)
	assert.Empty(t, msg.Links)
}

func TestProcess_InvalidInput(t *testing.T) {
	p := lexiconProcessor(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		text  string
		opts  []processing.RequestOption
		kind  medical.DiagnosticKind
		stage string
	}{
		{"empty", "", nil, medical.DiagInvalidInput, processing.StageReceived},
		{"whitespace", " \t\n ", nil, medical.DiagInvalidInput, processing.StageReceived},
		{"control characters only", "\u200b\u0007", nil, medical.DiagInvalidInput, processing.StageNormalized},
		{"min confidence above 1", "aspirin", []processing.RequestOption{processing.WithMinConfidence(1.5)}, medical.DiagInvalidInput, processing.StageReceived},
		{"min confidence NaN", "aspirin", []processing.RequestOption{processing.WithMinConfidence(math.NaN())}, medical.DiagInvalidInput, processing.StageReceived},
		{"malformed encoding", "aspirin \xff\xfe", nil, medical.DiagExtractionFailure, processing.StageReceived},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := p.Process(ctx, tt.text, tt.opts...)
			require.NoError(t, err)
			assert.Equal(t, medical.StatusError, msg.Status)
			assertFailed(t, msg, tt.kind, tt.stage)
		})
	}
}

func TestProcess_ModelUnavailablePropagates(t *testing.T) {
	down := relevance.ModelFunc(func(context.Context, string) (float64, error) {
		return 0, errors.ModelUnavailable("relevance", stderrors.New("connection refused"))
	})
	p := stubProcessor(t, down, noSpans())

	msg, err := p.Process(context.Background(), "aspirin for headache")
	assert.Nil(t, msg)
	assert.True(t, errors.IsModelUnavailable(err))

	_, err = p.ProcessBatch(context.Background(), []string{"aspirin", "fever"})
	assert.True(t, errors.IsModelUnavailable(err))
}

func TestProcess_ClassifierFailureIsAbsorbed(t *testing.T) {
	broken := relevance.ModelFunc(func(context.Context, string) (float64, error) { return 7, nil })
	p := stubProcessor(t, broken, noSpans())

	msg, err := p.Process(context.Background(), "aspirin for headache")
	require.NoError(t, err)
	assert.Equal(t, medical.StatusError, msg.Status)
	assertFailed(t, msg, medical.DiagInternal, processing.StageClassified)
}

func TestProcess_ExtractionFailureIsAbsorbed(t *testing.T) {
	ner := extractor.NERModelFunc(func(context.Context, string) ([]extractor.ModelSpan, error) {
		return nil, stderrors.New("onnx runtime crashed")
	})
	p := stubProcessor(t, constRelevance(0.9), ner)

	msg, err := p.Process(context.Background(), "Amoxicillin 500mg")
	require.NoError(t, err)
	assert.Equal(t, medical.StatusError, msg.Status)
	assertFailed(t, msg, medical.DiagExtractionFailure, processing.StageExtracted)
	assert.Contains(t, msg.Diagnostics[0].Message, "onnx runtime crashed")
}

func TestProcess_PanicIsAbsorbed(t *testing.T) {
	ner := extractor.NERModelFunc(func(context.Context, string) ([]extractor.ModelSpan, error) {
		panic("index out of range")
	})
	p := stubProcessor(t, constRelevance(0.9), ner)

	msg, err := p.Process(context.Background(), "Amoxicillin 500mg")
	require.NoError(t, err)
	assert.Equal(t, medical.StatusError, msg.Status)
	assertFailed(t, msg, medical.DiagInternal, processing.StageExtracted)
	assert.Contains(t, msg.Diagnostics[0].Message, "index out of range")
}

func TestProcess_ExtractionSkippedWhenNotMedical(t *testing.T) {
	called := false
	ner := extractor.NERModelFunc(func(context.Context, string) ([]extractor.ModelSpan, error) {
		called = true
		return nil, nil
	})
	p := stubProcessor(t, constRelevance(0.1), ner)

	msg, err := p.Process(context.Background(), "see you at 5pm")
	require.NoError(t, err)
	assert.False(t, msg.IsMedical)
	assert.False(t, called)
	assert.Empty(t, msg.Entities)
}

func TestProcess_CancelledContext(t *testing.T) {
	p := lexiconProcessor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg, err := p.Process(ctx, "Amoxicillin 500mg")
	require.NoError(t, err)
	assert.Equal(t, medical.StatusTimedOut, msg.Status)
	assertFailed(t, msg, medical.DiagTimedOut, processing.StageReceived)
	assert.Equal(t, "timed out", msg.Diagnostics[0].Message)
}

func TestProcess_OptionsAndMetrics(t *testing.T) {
	metrics := common.NewInMemoryIntelligenceMetrics()
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p := lexiconProcessor(t,
		processing.WithMetrics(metrics),
		processing.WithClock(func() time.Time { return fixed }))

	msg, err := p.Process(context.Background(), "paracetamol 500mg twice daily", processing.WithMessageID("msg-42"))
	require.NoError(t, err)
	assert.Equal(t, "msg-42", msg.ID)
	assert.Equal(t, fixed, msg.ProcessedAt)
	assert.Positive(t, msg.ProcessingTime)

	recorded := metrics.RecordedMessages()
	require.Len(t, recorded, 1)
	assert.Equal(t, "success", recorded[0].Status)
	assert.True(t, recorded[0].IsMedical)
	assert.Equal(t, len(msg.Entities), recorded[0].EntityCount)
	stats := metrics.GetCurrentStats()
	assert.Equal(t, int64(1), stats.LinkMethods["exact"])
	assert.Equal(t, int64(2), stats.LinkMethods["none"])
}

func TestNewProcessor_Failures(t *testing.T) {
	_, err := processing.NewProcessor(context.Background(), nil, testConfig())
	assert.True(t, errors.IsInvalidInput(err))

	reg := common.NewModelRegistry()
	t.Cleanup(func() { _ = reg.Close() })
	require.NoError(t, reg.Register(backends.ModelKnowledgeBase, func(context.Context) (any, error) {
		return nil, stderrors.New("snapshot missing")
	}))
	_, err = processing.NewProcessor(context.Background(), reg, testConfig())
	assert.True(t, errors.IsModelUnavailable(err))

	bad := testConfig()
	bad.QualityWeights.TextLength = 0.5
	_, err = processing.NewProcessor(context.Background(), stubRegistry(t), bad)
	assert.True(t, errors.IsInvalidInput(err))
}

func stubRegistry(t *testing.T) common.ModelRegistry {
	t.Helper()
	reg := common.NewModelRegistry()
	t.Cleanup(func() { _ = reg.Close() })
	require.NoError(t, backends.Register(reg, backends.Config{}, knowledge.SeedSource{}))
	return reg
}
