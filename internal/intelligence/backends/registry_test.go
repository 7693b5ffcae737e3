package backends_test

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/backends"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/common"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/knowledge"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/testutil"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

type failingSource struct{}

func (failingSource) Name() string { return "broken" }

func (failingSource) Load(context.Context) ([]medical.KnowledgeBaseEntry, error) {
	return nil, stderrors.New("bucket missing")
}

func TestRegister_Lexicon(t *testing.T) {
	reg := common.NewModelRegistry()
	t.Cleanup(func() { _ = reg.Close() })
	metrics := common.NewInMemoryIntelligenceMetrics()
	require.NoError(t, backends.Register(reg, backends.Config{Backend: common.BackendLexicon}, knowledge.SeedSource{}, backends.WithMetrics(metrics)))

	ctx := context.Background()
	require.NoError(t, reg.Warmup(ctx))

	kb, err := backends.KnowledgeBase(ctx, reg)
	require.NoError(t, err)
	assert.Equal(t, len(knowledge.Seed()), kb.Len())

	rel, err := backends.Relevance(ctx, reg)
	require.NoError(t, err)
	p, err := rel.Score(ctx, "Amoxicillin 500mg for infection")
	require.NoError(t, err)
	assert.Greater(t, p, 0.6)

	ner, err := backends.NER(ctx, reg)
	require.NoError(t, err)
	spans, err := ner.Recognize(ctx, "Amoxicillin 500mg for infection")
	require.NoError(t, err)
	assert.Len(t, spans, 2)

	h := reg.HealthCheck(ctx)
	assert.True(t, h.Healthy())
	assert.Equal(t, 3, h.ReadyModels)

	inf := metrics.RecordedInferences()
	require.Len(t, inf, 2)
	assert.Equal(t, "lexicon-relevance", inf[0].ModelName)
	assert.Equal(t, "lexicon-ner", inf[1].ModelName)
}

func TestRegister_Serving(t *testing.T) {
	srv := testutil.StartInferenceServer(t, medicalServer)
	reg := common.NewModelRegistry()
	t.Cleanup(func() { _ = reg.Close() })

	cfg := backends.Config{
		Backend:        common.BackendServing,
		ServingAddr:    srv.Addr(),
		ClassifierName: "medical-bert",
	}
	require.NoError(t, backends.Register(reg, cfg, knowledge.SeedSource{},
		backends.WithServingOptions(common.WithDialOptions(srv.DialOption()))))

	ctx := context.Background()
	rel, err := backends.Relevance(ctx, reg)
	require.NoError(t, err)
	p, err := rel.Score(ctx, "fever")
	require.NoError(t, err)
	assert.InDelta(t, 0.83, p, 1e-9)

	ner, err := backends.NER(ctx, reg)
	require.NoError(t, err)
	spans, err := ner.Recognize(ctx, "Amoxicillin 500mg for infection")
	require.NoError(t, err)
	assert.Len(t, spans, 2)
	assert.Equal(t, int64(2), srv.Calls())
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  backends.Config
	}{
		{"hugot without paths", backends.Config{Backend: common.BackendHugot}},
		{"serving without address", backends.Config{Backend: common.BackendServing}},
		{"unknown backend", backends.Config{Backend: "tensorflow"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := backends.Register(common.NewModelRegistry(), tt.cfg, knowledge.SeedSource{})
			assert.True(t, errors.IsInvalidInput(err), "%v", err)
		})
	}

	err := backends.Register(nil, backends.Config{}, knowledge.SeedSource{})
	assert.True(t, errors.IsInvalidInput(err))
	err = backends.Register(common.NewModelRegistry(), backends.Config{}, nil)
	assert.True(t, errors.IsInvalidInput(err))
}

func TestRegister_KnowledgeBaseFailure(t *testing.T) {
	reg := common.NewModelRegistry()
	t.Cleanup(func() { _ = reg.Close() })
	require.NoError(t, backends.Register(reg, backends.Config{}, failingSource{}))

	ctx := context.Background()
	_, err := backends.Relevance(ctx, reg)
	assert.True(t, errors.IsModelUnavailable(err))
	_, err = backends.NER(ctx, reg)
	assert.True(t, errors.IsModelUnavailable(err))

	h := reg.HealthCheck(ctx)
	assert.False(t, h.Healthy())
	assert.Equal(t, 3, h.FailedModels)
}
