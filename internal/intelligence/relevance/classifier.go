// Package relevance decides whether a message is medical. A Model supplies
// the raw probability; the KeywordBoost step raises it for texts containing
// medical vocabulary; the threshold turns it into a label.
package relevance

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/monitoring/logging"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/textnorm"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
)

// DefaultThreshold is the minimum confidence for the medical label.
const DefaultThreshold = 0.6

// shortTextWords marks texts too short for a confident decision.
const shortTextWords = 5

// Model returns P(medical) for a normalized text.
type Model interface {
	Score(ctx context.Context, text string) (float64, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, text string) (float64, error)

func (f ModelFunc) Score(ctx context.Context, text string) (float64, error) { return f(ctx, text) }

// Result is the outcome of Classify.
type Result struct {
	IsMedical  bool     `json:"is_medical"`
	Confidence float64  `json:"confidence"`
	RawScore   float64  `json:"raw_score"`
	Boosted    bool     `json:"boosted"`
	Keywords   []string `json:"keywords,omitempty"`
	Reasoning  string   `json:"reasoning"`
}

// Classifier is safe for concurrent use.
type Classifier struct {
	model     Model
	boost     *KeywordBoost
	threshold float64
	logger    logging.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithThreshold overrides DefaultThreshold.
func WithThreshold(t float64) Option {
	return func(c *Classifier) { c.threshold = t }
}

// WithLogger injects a logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Classifier) { c.logger = logging.OrNop(l) }
}

// NewClassifier builds a classifier. boost may be nil to disable the
// keyword step.
func NewClassifier(model Model, boost *KeywordBoost, opts ...Option) (*Classifier, error) {
	if model == nil {
		return nil, errors.ModelUnavailable("relevance", errors.InvalidInput("nil relevance model"))
	}
	c := &Classifier{
		model:     model,
		boost:     boost,
		threshold: DefaultThreshold,
		logger:    logging.NewNopLogger(),
	}
	for _, o := range opts {
		o(c)
	}
	if math.IsNaN(c.threshold) || c.threshold < 0 || c.threshold > 1 {
		return nil, errors.InvalidInput(fmt.Sprintf("relevance threshold %v must be in [0, 1]", c.threshold))
	}
	return c, nil
}

// Threshold returns the decision threshold.
func (c *Classifier) Threshold() float64 { return c.threshold }

// Classify labels doc. An empty document is non-medical with confidence 0.
// Model failures are returned as errors and never turned into a label:
// ModelUnavailable when the model cannot be reached, ClassifierFailure for
// anything else.
func (c *Classifier) Classify(ctx context.Context, doc textnorm.Document) (Result, error) {
	if doc.Empty() {
		return Result{Reasoning: "empty text"}, nil
	}

	raw, err := c.model.Score(ctx, doc.Text)
	if err != nil {
		if errors.IsModelUnavailable(err) || ctx.Err() != nil {
			return Result{}, err
		}
		return Result{}, errors.Wrap(err, errors.ErrCodeClassifierFailure, "relevance model failed")
	}
	if math.IsNaN(raw) || raw < 0 || raw > 1 {
		return Result{}, errors.Newf(errors.ErrCodeClassifierFailure, "relevance model returned %v outside [0, 1]", raw)
	}

	res := Result{RawScore: raw, Confidence: raw}
	if c.boost != nil {
		res.Confidence, res.Boosted, res.Keywords = c.boost.Apply(raw, doc.Folded)
	}
	res.IsMedical = res.Confidence >= c.threshold
	res.Reasoning = reasoning(res, textnorm.WordCount(doc.Text))

	c.logger.Debug("message classified",
		logging.Bool("is_medical", res.IsMedical),
		logging.Float64("raw_score", raw),
		logging.Float64("confidence", res.Confidence),
		logging.Bool("boosted", res.Boosted))
	return res, nil
}

func reasoning(r Result, words int) string {
	var parts []string
	if r.Boosted {
		parts = append(parts, fmt.Sprintf("medical keywords detected (%s)", strings.Join(r.Keywords, ", ")))
	}
	if r.RawScore > DefaultThreshold {
		parts = append(parts, fmt.Sprintf("model confidence %.2f", r.RawScore))
	}
	if words < shortTextWords {
		parts = append(parts, "short text, may have lower confidence")
	}
	if len(parts) == 0 {
		return "default classification"
	}
	return strings.Join(parts, "; ")
}
