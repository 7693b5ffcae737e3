package backends

import (
	"context"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/common"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/extractor"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/relevance"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
)

// ServingClassifier asks a remote model server for P(medical).
type ServingClassifier struct {
	client common.ServingClient
	model  string
}

var _ relevance.Model = (*ServingClassifier)(nil)

// NewServingClassifier binds model on client.
func NewServingClassifier(client common.ServingClient, model string) (*ServingClassifier, error) {
	if client == nil {
		return nil, errors.ModelUnavailable(model, errors.InvalidInput("nil serving client"))
	}
	if model == "" {
		model = ModelRelevance
	}
	return &ServingClassifier{client: client, model: model}, nil
}

func (c *ServingClassifier) Score(ctx context.Context, text string) (float64, error) {
	resp, err := c.client.Predict(ctx, &common.PredictRequest{
		ModelName: c.model,
		Task:      common.TaskClassification,
		Texts:     []string{text},
	})
	if err != nil {
		return 0, err
	}
	return resp.Scores[0], nil
}

// ServingNER asks a remote model server for entity spans.
type ServingNER struct {
	client common.ServingClient
	model  string
}

var _ extractor.NERModel = (*ServingNER)(nil)

// NewServingNER binds model on client.
func NewServingNER(client common.ServingClient, model string) (*ServingNER, error) {
	if client == nil {
		return nil, errors.ModelUnavailable(model, errors.InvalidInput("nil serving client"))
	}
	if model == "" {
		model = ModelNER
	}
	return &ServingNER{client: client, model: model}, nil
}

func (n *ServingNER) Recognize(ctx context.Context, text string) ([]extractor.ModelSpan, error) {
	resp, err := n.client.Predict(ctx, &common.PredictRequest{
		ModelName: n.model,
		Task:      common.TaskTokenClassification,
		Texts:     []string{text},
	})
	if err != nil {
		return nil, err
	}
	preds := resp.Spans[0]
	spans := make([]extractor.ModelSpan, len(preds))
	for i, p := range preds {
		spans[i] = extractor.ModelSpan{Label: p.Label, Start: p.Start, End: p.End, Score: p.Score}
	}
	return spans, nil
}
