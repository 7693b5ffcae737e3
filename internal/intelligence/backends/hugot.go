package backends

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/monitoring/logging"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/common"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/extractor"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/relevance"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
)

// DefaultPositiveLabels name the medical class of a binary text classifier.
var DefaultPositiveLabels = []string{"MEDICAL", "LABEL_1", "POSITIVE", "1"}

// HugotSession owns the pure-Go ONNX runtime shared by the hugot pipelines.
// Pipelines created from a session stop working once it is closed.
type HugotSession struct {
	mu      sync.Mutex
	session *hugot.Session
}

// NewHugotSession starts a Go-backend session.
func NewHugotSession() (*HugotSession, error) {
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeModelUnavailable, "create hugot session")
	}
	return &HugotSession{session: session}, nil
}

func (s *HugotSession) get() (*hugot.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, errors.New(errors.ErrCodeModelUnavailable, "hugot session closed")
	}
	return s.session, nil
}

// Close destroys the session. It is safe to call more than once.
func (s *HugotSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}

// HugotNER runs an ONNX token classification model.
type HugotNER struct {
	name     string
	pipeline *pipelines.TokenClassificationPipeline
	metrics  common.IntelligenceMetrics
	logger   logging.Logger
}

var _ extractor.NERModel = (*HugotNER)(nil)

// NewHugotNER loads the model at modelPath into s. Labels of "O" are dropped
// and word pieces are merged into whole-word entities.
func NewHugotNER(s *HugotSession, modelPath string, opts ...Option) (*HugotNER, error) {
	o := newOptions(opts)
	name := o.modelName(ModelNER)
	session, err := s.get()
	if err != nil {
		return nil, errors.ModelUnavailable(name, err)
	}
	config := hugot.TokenClassificationConfig{
		ModelPath:    modelPath,
		Name:         name,
		OnnxFilename: o.onnxFile,
		Options: []hugot.TokenClassificationOption{
			pipelines.WithSimpleAggregation(),
			pipelines.WithIgnoreLabels([]string{"O"}),
		},
	}
	p, err := hugot.NewPipeline(session, config)
	if err != nil {
		return nil, errors.ModelUnavailable(name, fmt.Errorf("create token classification pipeline from %s: %w", modelPath, err))
	}
	return &HugotNER{name: name, pipeline: p, metrics: o.metrics, logger: o.logger}, nil
}

// Recognize tags text. Offsets reported by the pipeline are byte offsets
// into text.
func (n *HugotNER) Recognize(ctx context.Context, text string) ([]extractor.ModelSpan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := n.pipeline.RunPipeline([]string{text})
	n.metrics.RecordInference(ctx, &common.InferenceMetricParams{
		ModelName:  n.name,
		Backend:    string(common.BackendHugot),
		TaskType:   string(common.TaskTokenClassification),
		DurationMs: msSince(start),
		Success:    err == nil,
		BatchSize:  1,
	})
	if err != nil {
		return nil, fmt.Errorf("run token classification: %w", err)
	}
	if out == nil || len(out.Entities) == 0 {
		return nil, nil
	}

	spans := make([]extractor.ModelSpan, 0, len(out.Entities[0]))
	for _, e := range out.Entities[0] {
		s, end := int(e.Start), int(e.End)
		if s < 0 || end > len(text) || s >= end {
			n.logger.Debug("skipping entity with invalid offsets",
				logging.String("label", e.Entity),
				logging.Int("start", s),
				logging.Int("end", end))
			continue
		}
		spans = append(spans, extractor.ModelSpan{
			Label: e.Entity,
			Start: s,
			End:   end,
			Score: float64(e.Score),
		})
	}
	return spans, nil
}

// HugotClassifier runs an ONNX sequence classification model and reports the
// probability of the medical class.
type HugotClassifier struct {
	name     string
	pipeline *pipelines.TextClassificationPipeline
	positive map[string]struct{}
	metrics  common.IntelligenceMetrics
}

var _ relevance.Model = (*HugotClassifier)(nil)

// NewHugotClassifier loads the model at modelPath into s.
func NewHugotClassifier(s *HugotSession, modelPath string, opts ...Option) (*HugotClassifier, error) {
	o := newOptions(opts)
	name := o.modelName(ModelRelevance)
	session, err := s.get()
	if err != nil {
		return nil, errors.ModelUnavailable(name, err)
	}
	config := hugot.TextClassificationConfig{
		ModelPath:    modelPath,
		Name:         name,
		OnnxFilename: o.onnxFile,
	}
	p, err := hugot.NewPipeline(session, config)
	if err != nil {
		return nil, errors.ModelUnavailable(name, fmt.Errorf("create text classification pipeline from %s: %w", modelPath, err))
	}
	labels := o.positiveLabels
	if len(labels) == 0 {
		labels = DefaultPositiveLabels
	}
	positive := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		positive[strings.ToUpper(l)] = struct{}{}
	}
	return &HugotClassifier{name: name, pipeline: p, positive: positive, metrics: o.metrics}, nil
}

// Score returns P(medical) for text.
func (c *HugotClassifier) Score(ctx context.Context, text string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	start := time.Now()
	out, err := c.pipeline.RunPipeline([]string{text})
	c.metrics.RecordInference(ctx, &common.InferenceMetricParams{
		ModelName:  c.name,
		Backend:    string(common.BackendHugot),
		TaskType:   string(common.TaskClassification),
		DurationMs: msSince(start),
		Success:    err == nil,
		BatchSize:  1,
	})
	if err != nil {
		return 0, fmt.Errorf("run text classification: %w", err)
	}
	if out == nil || len(out.ClassificationOutputs) == 0 || len(out.ClassificationOutputs[0]) == 0 {
		return 0, errors.New(errors.ErrCodeClassifierFailure, "text classification returned no labels")
	}
	return c.positiveProbability(out.ClassificationOutputs[0]), nil
}

// positiveProbability reads P(medical) from the label distribution. When
// the pipeline reports only the winning label of a binary model, the
// probability of the other class is its complement.
func (c *HugotClassifier) positiveProbability(labels []pipelines.ClassificationOutput) float64 {
	for _, l := range labels {
		if _, ok := c.positive[strings.ToUpper(l.Label)]; ok {
			return float64(l.Score)
		}
	}
	if len(labels) == 1 {
		return 1 - float64(labels[0].Score)
	}
	return 0
}
