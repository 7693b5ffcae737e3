package extractor

import (
	"context"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/monitoring/logging"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/textnorm"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

// ModelSpan is one labeled span returned by a NER model. Offsets are byte
// offsets into the text passed to Recognize.
type ModelSpan struct {
	Label string
	Start int
	End   int
	Score float64
}

// NERModel is the opaque token-classification model.
type NERModel interface {
	Recognize(ctx context.Context, text string) ([]ModelSpan, error)
}

// NERModelFunc adapts a function to NERModel.
type NERModelFunc func(ctx context.Context, text string) ([]ModelSpan, error)

func (f NERModelFunc) Recognize(ctx context.Context, text string) ([]ModelSpan, error) {
	return f(ctx, text)
}

// DefaultLabelMap maps model label vocabularies onto entity types. Keys are
// upper case without BIO prefixes.
var DefaultLabelMap = map[string]medical.EntityType{
	"MEDICATION":  medical.EntityMedication,
	"MEDICINE":    medical.EntityMedication,
	"DRUG":        medical.EntityMedication,
	"CHEMICAL":    medical.EntityMedication,
	"PRODUCT":     medical.EntityMedication,
	"DOSAGE":      medical.EntityDosage,
	"DOSE":        medical.EntityDosage,
	"STRENGTH":    medical.EntityDosage,
	"QUANTITY":    medical.EntityDosage,
	"CONDITION":   medical.EntityCondition,
	"DISEASE":     medical.EntityCondition,
	"DIAGNOSIS":   medical.EntityCondition,
	"SYMPTOM":     medical.EntitySymptom,
	"SIGN":        medical.EntitySymptom,
	"PRICE":       medical.EntityPrice,
	"MONEY":       medical.EntityPrice,
	"FREQUENCY":   medical.EntityFrequency,
	"FACILITY":    medical.EntityFacility,
	"ORG":         medical.EntityFacility,
	"SIDE_EFFECT": medical.EntitySideEffect,
	"ADR":         medical.EntitySideEffect,
}

// bioPrefixes are stripped before label lookup.
var bioPrefixes = []string{"B-", "I-", "E-", "S-", "L-", "U-"}

// MapLabel resolves a raw model label against labels.
func MapLabel(labels map[string]medical.EntityType, raw string) (medical.EntityType, error) {
	key := strings.ToUpper(strings.TrimSpace(raw))
	for _, p := range bioPrefixes {
		if strings.HasPrefix(key, p) {
			key = key[len(p):]
			break
		}
	}
	key = strings.ReplaceAll(key, "-", "_")
	if t, ok := labels[key]; ok {
		return t, nil
	}
	return "", errors.New(errors.ErrCodeUnknownEntityType, "unknown model label").WithDetail(raw)
}

// ModelStrategy turns NER model output into candidate entities. Spans with
// unknown labels, invalid offsets or scores outside [0, 1] are dropped.
type ModelStrategy struct {
	name   string
	model  NERModel
	labels map[string]medical.EntityType
	logger logging.Logger
}

// ModelOption configures a ModelStrategy.
type ModelOption func(*ModelStrategy)

// WithLabelMap replaces DefaultLabelMap. Keys are upper-cased.
func WithLabelMap(m map[string]medical.EntityType) ModelOption {
	return func(s *ModelStrategy) {
		labels := make(map[string]medical.EntityType, len(m))
		for k, v := range m {
			labels[strings.ToUpper(k)] = v
		}
		s.labels = labels
	}
}

// WithModelLogger injects a logger.
func WithModelLogger(l logging.Logger) ModelOption {
	return func(s *ModelStrategy) { s.logger = logging.OrNop(l) }
}

// NewModelStrategy wraps model. name identifies the model in errors and logs.
func NewModelStrategy(name string, model NERModel, opts ...ModelOption) (*ModelStrategy, error) {
	if model == nil {
		return nil, errors.ModelUnavailable(name, errors.InvalidInput("nil NER model"))
	}
	s := &ModelStrategy{
		name:   name,
		model:  model,
		labels: DefaultLabelMap,
		logger: logging.NewNopLogger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *ModelStrategy) Name() string { return s.name }

func (s *ModelStrategy) Kind() medical.Source { return medical.SourceModel }

// Spans runs the model on doc.Text. ModelUnavailable and context errors are
// returned unchanged; any other model error is an ExtractionFailure.
func (s *ModelStrategy) Spans(ctx context.Context, doc textnorm.Document) ([]medical.MedicalEntity, error) {
	if doc.Empty() {
		return nil, nil
	}
	raw, err := s.model.Recognize(ctx, doc.Text)
	if err != nil {
		if errors.IsModelUnavailable(err) || ctx.Err() != nil {
			return nil, err
		}
		return nil, errors.ExtractionFailure(s.name, err)
	}

	out := make([]medical.MedicalEntity, 0, len(raw))
	for _, sp := range raw {
		t, err := MapLabel(s.labels, sp.Label)
		if err != nil {
			s.logger.Warn("dropping span with unknown label",
				logging.String("model", s.name), logging.String("label", sp.Label))
			continue
		}
		if !validSpan(doc.Text, sp) {
			s.logger.Warn("dropping malformed model span",
				logging.String("model", s.name),
				logging.Int("start", sp.Start), logging.Int("end", sp.End),
				logging.Float64("score", sp.Score))
			continue
		}
		out = append(out, medical.MedicalEntity{
			Text:       doc.Text[sp.Start:sp.End],
			EntityType: t,
			Confidence: sp.Score,
			Start:      sp.Start,
			End:        sp.End,
			Source:     medical.SourceModel,
		})
	}
	return out, nil
}

func validSpan(text string, sp ModelSpan) bool {
	if sp.Start < 0 || sp.End <= sp.Start || sp.End > len(text) {
		return false
	}
	if math.IsNaN(sp.Score) || sp.Score < 0 || sp.Score > 1 {
		return false
	}
	if !utf8.RuneStart(text[sp.Start]) || (sp.End < len(text) && !utf8.RuneStart(text[sp.End])) {
		return false
	}
	return true
}
