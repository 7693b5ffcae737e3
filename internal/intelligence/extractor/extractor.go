// Package extractor finds medical entity spans in normalized text. Candidate
// spans come from an ordered list of strategies (statistical NER, patterns)
// and are reconciled by a deterministic conflict resolution pass.
package extractor

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/monitoring/logging"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/textnorm"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

// DefaultMinConfidence drops weaker candidates before resolution.
const DefaultMinConfidence = 0.6

// Strategy produces candidate spans for one document.
type Strategy interface {
	Name() string
	Kind() medical.Source
	Spans(ctx context.Context, doc textnorm.Document) ([]medical.MedicalEntity, error)
}

// Extractor is safe for concurrent use when its strategies are.
type Extractor struct {
	strategies    []Strategy
	minConfidence float64
	logger        logging.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMinConfidence sets the default filter used when Extract is called with
// a negative threshold.
func WithMinConfidence(c float64) Option {
	return func(e *Extractor) { e.minConfidence = c }
}

// WithLogger injects a logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Extractor) { e.logger = logging.OrNop(l) }
}

// New builds an extractor running strategies in the given order.
func New(strategies []Strategy, opts ...Option) (*Extractor, error) {
	if len(strategies) == 0 {
		return nil, errors.InvalidInput("extractor needs at least one strategy")
	}
	for _, s := range strategies {
		if s == nil {
			return nil, errors.InvalidInput("nil extraction strategy")
		}
	}
	e := &Extractor{
		strategies:    append([]Strategy(nil), strategies...),
		minConfidence: DefaultMinConfidence,
		logger:        logging.NewNopLogger(),
	}
	for _, o := range opts {
		o(e)
	}
	if !validConfidence(e.minConfidence) {
		return nil, errors.InvalidInput("extractor min confidence must be in [0, 1]")
	}
	return e, nil
}

// Strategies returns the strategy names in execution order.
func (e *Extractor) Strategies() []string {
	names := make([]string, len(e.strategies))
	for i, s := range e.strategies {
		names[i] = s.Name()
	}
	return names
}

// MinConfidence returns the default filter.
func (e *Extractor) MinConfidence() float64 { return e.minConfidence }

// Extract returns the resolved entities of doc ordered by (start, end).
// A negative minConfidence selects the configured default. An empty
// document yields an empty, non-nil slice.
func (e *Extractor) Extract(ctx context.Context, doc textnorm.Document, minConfidence float64) ([]medical.MedicalEntity, error) {
	if doc.Empty() {
		return []medical.MedicalEntity{}, nil
	}
	if minConfidence < 0 || math.IsNaN(minConfidence) {
		minConfidence = e.minConfidence
	}
	if minConfidence > 1 {
		return nil, errors.InvalidInput("min confidence must be in [0, 1]")
	}

	start := time.Now()
	var candidates []medical.MedicalEntity
	for _, s := range e.strategies {
		spans, err := s.Spans(ctx, doc)
		if err != nil {
			if errors.IsModelUnavailable(err) || ctx.Err() != nil || errors.IsCode(err, errors.ErrCodeExtractionFailure) {
				return nil, err
			}
			return nil, errors.ExtractionFailure(s.Name(), err)
		}
		for _, sp := range spans {
			if sp.Confidence >= minConfidence {
				candidates = append(candidates, sp)
			}
		}
	}

	entities := Resolve(doc, candidates)
	e.logger.Debug("entities extracted",
		logging.Int("candidates", len(candidates)),
		logging.Int("entities", len(entities)),
		logging.Duration("elapsed", time.Since(start)))
	return entities, nil
}

func validConfidence(c float64) bool {
	return !math.IsNaN(c) && c >= 0 && c <= 1
}

// Resolve reconciles candidate spans:
//   - exact duplicates (same offsets and type) collapse to the most confident;
//   - overlapping spans of different types keep the higher confidence, then
//     the longer span, then the rule match over the model match;
//   - surviving same-type spans that overlap or touch merge, keeping the max
//     confidence.
//
// The result is ordered by start then end and does not depend on the input
// order.
func Resolve(doc textnorm.Document, candidates []medical.MedicalEntity) []medical.MedicalEntity {
	if len(candidates) == 0 {
		return []medical.MedicalEntity{}
	}
	spans := dedupe(candidates)

	// Greedy selection in priority order. Same-type overlaps are left for
	// the merge.
	sort.Slice(spans, func(i, j int) bool { return outranks(spans[i], spans[j]) })
	kept := make([]medical.MedicalEntity, 0, len(spans))
	for _, c := range spans {
		clash := false
		for _, k := range kept {
			if c.EntityType != k.EntityType && c.Overlaps(k) {
				clash = true
				break
			}
		}
		if !clash {
			kept = append(kept, c)
		}
	}

	kept = mergeSameType(kept)
	for i := range kept {
		kept[i].Text = doc.Slice(kept[i].Start, kept[i].End)
	}
	sort.Slice(kept, func(i, j int) bool { return spanLess(kept[i], kept[j]) })
	return kept
}

type spanKey struct {
	start, end int
	typ        medical.EntityType
}

func dedupe(candidates []medical.MedicalEntity) []medical.MedicalEntity {
	seen := make(map[spanKey]int, len(candidates))
	out := make([]medical.MedicalEntity, 0, len(candidates))
	for _, c := range candidates {
		key := spanKey{c.Start, c.End, c.EntityType}
		if i, ok := seen[key]; ok {
			if better(c, out[i]) {
				out[i] = c
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, c)
	}
	return out
}

// mergeSameType joins spans of one type whose ranges overlap or touch.
func mergeSameType(candidates []medical.MedicalEntity) []medical.MedicalEntity {
	byType := make(map[medical.EntityType][]medical.MedicalEntity)
	for _, c := range candidates {
		byType[c.EntityType] = append(byType[c.EntityType], c)
	}
	out := make([]medical.MedicalEntity, 0, len(candidates))
	for _, t := range medical.AllEntityTypes {
		group := byType[t]
		if len(group) == 0 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return spanLess(group[i], group[j]) })
		cur := group[0]
		for _, next := range group[1:] {
			if next.Start <= cur.End {
				if better(next, cur) {
					cur.Source = next.Source
				}
				cur.End = max(cur.End, next.End)
				cur.Confidence = math.Max(cur.Confidence, next.Confidence)
				continue
			}
			out = append(out, cur)
			cur = next
		}
		out = append(out, cur)
	}
	return out
}

// better prefers higher confidence, then the rule source.
func better(a, b medical.MedicalEntity) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.Source == medical.SourceRule && b.Source != medical.SourceRule
}

// outranks is the total order used for cross-type conflicts.
func outranks(a, b medical.MedicalEntity) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.Len() != b.Len() {
		return a.Len() > b.Len()
	}
	if a.Source != b.Source {
		return a.Source == medical.SourceRule
	}
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	return a.EntityType < b.EntityType
}

func spanLess(a, b medical.MedicalEntity) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	if a.End != b.End {
		return a.End < b.End
	}
	return a.EntityType < b.EntityType
}
