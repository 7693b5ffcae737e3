package backends_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/backends"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/common"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/extractor"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/testutil"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
)

func medicalServer(ctx context.Context, req *common.PredictRequest) (*common.PredictResponse, error) {
	resp := &common.PredictResponse{ModelName: req.ModelName}
	for range req.Texts {
		switch req.Task {
		case common.TaskClassification:
			resp.Scores = append(resp.Scores, 0.83)
		case common.TaskTokenClassification:
			resp.Spans = append(resp.Spans, []common.SpanPrediction{
				{Label: "B-DRUG", Start: 0, End: 11, Score: 0.91, Word: "Amoxicillin"},
				{Label: "DISEASE", Start: 22, End: 31, Score: 0.77, Word: "infection"},
			})
		}
	}
	return resp, nil
}

func TestServingClassifier(t *testing.T) {
	srv := testutil.StartInferenceServer(t, medicalServer)
	c, err := backends.NewServingClassifier(srv.Client(t), "medical-bert")
	require.NoError(t, err)

	p, err := c.Score(context.Background(), "Amoxicillin 500mg for infection")
	require.NoError(t, err)
	assert.InDelta(t, 0.83, p, 1e-9)
}

func TestServingNER(t *testing.T) {
	srv := testutil.StartInferenceServer(t, medicalServer)
	n, err := backends.NewServingNER(srv.Client(t), "")
	require.NoError(t, err)

	spans, err := n.Recognize(context.Background(), "Amoxicillin 500mg for infection")
	require.NoError(t, err)
	assert.Equal(t, []extractor.ModelSpan{
		{Label: "B-DRUG", Start: 0, End: 11, Score: 0.91},
		{Label: "DISEASE", Start: 22, End: 31, Score: 0.77},
	}, spans)
}

func TestServing_Unavailable(t *testing.T) {
	srv := testutil.StartInferenceServer(t, func(context.Context, *common.PredictRequest) (*common.PredictResponse, error) {
		return nil, status.Error(codes.Unavailable, "model not loaded")
	})
	client := srv.Client(t)

	c, err := backends.NewServingClassifier(client, "")
	require.NoError(t, err)
	_, err = c.Score(context.Background(), "fever")
	assert.True(t, errors.IsModelUnavailable(err))

	n, err := backends.NewServingNER(client, "")
	require.NoError(t, err)
	_, err = n.Recognize(context.Background(), "fever")
	assert.True(t, errors.IsModelUnavailable(err))
}

func TestServing_NilClient(t *testing.T) {
	_, err := backends.NewServingClassifier(nil, "")
	assert.True(t, errors.IsModelUnavailable(err))
	_, err = backends.NewServingNER(nil, "")
	assert.True(t, errors.IsModelUnavailable(err))
}
