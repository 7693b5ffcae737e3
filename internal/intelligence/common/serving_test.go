package common_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/common"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/testutil"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
)

func scoringHandler(ctx context.Context, req *common.PredictRequest) (*common.PredictResponse, error) {
	resp := &common.PredictResponse{ModelName: req.ModelName, ModelVersion: "3"}
	for _, text := range req.Texts {
		switch req.Task {
		case common.TaskClassification:
			resp.Scores = append(resp.Scores, float64(len(text))/100)
		case common.TaskTokenClassification:
			resp.Spans = append(resp.Spans, []common.SpanPrediction{{Label: "MEDICATION", Start: 0, End: 4, Score: 0.93, Word: text[:4]}})
		}
	}
	return resp, nil
}

func TestNewGRPCServingClient_EmptyAddress(t *testing.T) {
	_, err := common.NewGRPCServingClient("")
	assert.True(t, errors.IsInvalidInput(err))
}

func TestServing_PredictClassification(t *testing.T) {
	srv := testutil.StartInferenceServer(t, scoringHandler)
	metrics := common.NewInMemoryIntelligenceMetrics()
	client := srv.Client(t, common.WithServingMetrics(metrics))

	resp, err := client.Predict(context.Background(), &common.PredictRequest{
		ModelName: "relevance",
		Task:      common.TaskClassification,
		Texts:     []string{"aspirin 100mg", "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "relevance", resp.ModelName)
	assert.Equal(t, "3", resp.ModelVersion)
	require.Len(t, resp.Scores, 2)
	assert.InDelta(t, 0.13, resp.Scores[0], 1e-9)
	assert.InDelta(t, 0.02, resp.Scores[1], 1e-9)
	assert.Equal(t, int64(1), srv.Calls())

	inf := metrics.RecordedInferences()
	require.Len(t, inf, 1)
	assert.Equal(t, "serving", inf[0].Backend)
	assert.True(t, inf[0].Success)
	assert.Equal(t, 2, inf[0].BatchSize)
}

func TestServing_PredictTokenClassification(t *testing.T) {
	srv := testutil.StartInferenceServer(t, scoringHandler)
	client := srv.Client(t)

	resp, err := client.Predict(context.Background(), &common.PredictRequest{
		ModelName: "ner",
		Task:      common.TaskTokenClassification,
		Texts:     []string{"Amoxicillin 500mg"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Spans, 1)
	require.Len(t, resp.Spans[0], 1)
	span := resp.Spans[0][0]
	assert.Equal(t, "MEDICATION", span.Label)
	assert.Equal(t, 0, span.Start)
	assert.Equal(t, 4, span.End)
	assert.Equal(t, "Amox", span.Word)
}

func TestServing_InvalidRequestNeverLeavesClient(t *testing.T) {
	srv := testutil.StartInferenceServer(t, scoringHandler)
	client := srv.Client(t)

	_, err := client.Predict(context.Background(), &common.PredictRequest{ModelName: "ner", Task: "translate", Texts: []string{"x"}})
	assert.True(t, errors.IsInvalidInput(err))
	_, err = client.Predict(context.Background(), &common.PredictRequest{ModelName: "ner", Task: common.TaskClassification})
	assert.True(t, errors.IsInvalidInput(err))
	assert.Equal(t, int64(0), srv.Calls())
}

func TestServing_ShapeMismatch(t *testing.T) {
	srv := testutil.StartInferenceServer(t, func(ctx context.Context, req *common.PredictRequest) (*common.PredictResponse, error) {
		return &common.PredictResponse{ModelName: req.ModelName, Scores: []float64{0.5}}, nil
	})
	client := srv.Client(t)

	_, err := client.Predict(context.Background(), &common.PredictRequest{
		ModelName: "relevance",
		Task:      common.TaskClassification,
		Texts:     []string{"a", "b"},
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeExternalService))
}

func TestServing_ErrorClassification(t *testing.T) {
	tests := []struct {
		name            string
		code            codes.Code
		wantUnavailable bool
	}{
		{"unavailable", codes.Unavailable, true},
		{"unimplemented", codes.Unimplemented, true},
		{"internal", codes.Internal, false},
		{"invalid argument", codes.InvalidArgument, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutil.StartInferenceServer(t, func(ctx context.Context, req *common.PredictRequest) (*common.PredictResponse, error) {
				return nil, status.Error(tt.code, "backend said no")
			})
			client := srv.Client(t)
			_, err := client.Predict(context.Background(), &common.PredictRequest{
				ModelName: "relevance",
				Task:      common.TaskClassification,
				Texts:     []string{"x"},
			})
			require.Error(t, err)
			assert.Equal(t, tt.wantUnavailable, errors.IsModelUnavailable(err))
			if !tt.wantUnavailable {
				assert.True(t, errors.IsCode(err, errors.ErrCodeExternalService))
			}
		})
	}
}

func TestServing_CallTimeoutIsUnavailable(t *testing.T) {
	srv := testutil.StartInferenceServer(t, func(ctx context.Context, req *common.PredictRequest) (*common.PredictResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	client := srv.Client(t, common.WithServingTimeout(20*time.Millisecond))

	_, err := client.Predict(context.Background(), &common.PredictRequest{
		ModelName: "ner",
		Task:      common.TaskTokenClassification,
		Texts:     []string{"x"},
	})
	require.Error(t, err)
	assert.True(t, errors.IsModelUnavailable(err))
}

func TestServing_Healthy(t *testing.T) {
	srv := testutil.StartInferenceServer(t, scoringHandler)
	client := srv.Client(t)

	assert.NoError(t, client.Healthy(context.Background()))

	srv.Health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	err := client.Healthy(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeServiceUnavailable))
}

func TestServing_Close(t *testing.T) {
	srv := testutil.StartInferenceServer(t, scoringHandler)
	client := srv.Client(t)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	_, err := client.Predict(context.Background(), &common.PredictRequest{
		ModelName: "ner",
		Task:      common.TaskTokenClassification,
		Texts:     []string{"x"},
	})
	assert.True(t, errors.IsModelUnavailable(err))
	assert.Error(t, client.Healthy(context.Background()))
}

func TestStructRoundTrip(t *testing.T) {
	req := &common.PredictRequest{
		ModelName: "ner",
		Task:      common.TaskTokenClassification,
		Texts:     []string{"a", "b"},
		Metadata:  map[string]string{"request_id": "r-1"},
	}
	s, err := common.EncodeStruct(req)
	require.NoError(t, err)

	var got common.PredictRequest
	require.NoError(t, common.DecodeStruct(s, &got))
	assert.Equal(t, *req, got)

	_, err = common.EncodeStruct([]string{"not", "an", "object"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeSerialization))
	assert.Error(t, common.DecodeStruct(nil, &got))
}

func TestParseBackendType(t *testing.T) {
	for _, s := range []string{"lexicon", "hugot", "serving"} {
		b, err := common.ParseBackendType(s)
		require.NoError(t, err)
		assert.Equal(t, s, string(b))
	}
	_, err := common.ParseBackendType("triton")
	assert.True(t, errors.IsInvalidInput(err))
}
