// internal/application/processing/processor.go

// Package processing runs raw messages through the NLP pipeline:
// normalization, relevance classification, entity extraction, linking and
// quality scoring. Only ModelUnavailable escapes Process; every other
// failure is recorded on the returned message.
package processing

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/monitoring/logging"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/backends"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/common"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/extractor"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/knowledge"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/linker"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/quality"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/relevance"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/textnorm"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

// Stage names reported in diagnostics.
const (
	StageReceived   = "received"
	StageNormalized = "normalized"
	StageClassified = "classified"
	StageExtracted  = "extracted"
	StageLinked     = "linked"
	StageScored     = "scored"
	StageAssembled  = "assembled"
)

// ---------------------------------------------------------------------------
// Processor
// ---------------------------------------------------------------------------

// Processor is safe for concurrent use.
type Processor struct {
	cfg        Config
	kb         *knowledge.Base
	classifier *relevance.Classifier
	extractor  *extractor.Extractor
	linker     *linker.Linker
	scorer     *quality.Scorer

	secondLevel linker.SecondLevel
	metrics     common.IntelligenceMetrics
	logger      logging.Logger
	now         func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithMetrics injects the metrics sink shared with the pipeline components.
func WithMetrics(m common.IntelligenceMetrics) Option {
	return func(p *Processor) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithLogger injects a logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Processor) { p.logger = logging.OrNop(l) }
}

// WithLinkStore puts a shared store (Redis) behind the link cache.
func WithLinkStore(s linker.SecondLevel) Option {
	return func(p *Processor) { p.secondLevel = s }
}

// WithClock overrides time.Now for ProcessedAt.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProcessor resolves the knowledge base and the relevance and NER models
// from reg and assembles the pipeline. Models are loaded here, so a model
// that cannot load fails construction with ModelUnavailable.
func NewProcessor(ctx context.Context, reg common.ModelRegistry, cfg Config, opts ...Option) (*Processor, error) {
	if reg == nil {
		return nil, errors.InvalidInput("model registry is required")
	}
	p := &Processor{
		cfg:     cfg,
		metrics: common.NewNoopIntelligenceMetrics(),
		logger:  logging.NewNopLogger(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(p)
	}

	kb, err := backends.KnowledgeBase(ctx, reg)
	if err != nil {
		return nil, err
	}
	model, err := backends.Relevance(ctx, reg)
	if err != nil {
		return nil, err
	}
	ner, err := backends.NER(ctx, reg)
	if err != nil {
		return nil, err
	}
	p.kb = kb

	boost := relevance.NewKeywordBoost(cfg.KeywordBoost, kb, relevance.WithExtraKeywords(cfg.ExtraKeywords...))
	if p.classifier, err = relevance.NewClassifier(model, boost,
		relevance.WithThreshold(cfg.RelevanceThreshold),
		relevance.WithLogger(p.logger.Named("relevance"))); err != nil {
		return nil, err
	}

	modelStrategy, err := extractor.NewModelStrategy(backends.ModelNER, ner, extractor.WithModelLogger(p.logger.Named("ner")))
	if err != nil {
		return nil, err
	}
	ruleStrategy := extractor.NewRuleStrategy(extractor.WithRuleConfidence(cfg.RuleConfidence))
	if p.extractor, err = extractor.New([]extractor.Strategy{modelStrategy, ruleStrategy},
		extractor.WithMinConfidence(cfg.MinConfidence),
		extractor.WithLogger(p.logger.Named("extractor"))); err != nil {
		return nil, err
	}

	linkOpts := []linker.Option{
		linker.WithFuzzyThreshold(cfg.FuzzyThreshold),
		linker.WithMetrics(p.metrics),
		linker.WithLogger(p.logger.Named("linker")),
	}
	if cfg.LinkCacheCapacity > 0 {
		linkOpts = append(linkOpts, linker.WithCache(cfg.LinkCacheTTL, cfg.LinkCacheCapacity))
	}
	if p.secondLevel != nil {
		linkOpts = append(linkOpts, linker.WithSecondLevel(p.secondLevel))
	}
	if p.linker, err = linker.New(kb, linkOpts...); err != nil {
		return nil, err
	}

	if p.scorer, err = quality.NewScorer(cfg.QualityWeights); err != nil {
		return nil, err
	}
	return p, nil
}

// Close releases the link cache. The model registry belongs to the caller.
func (p *Processor) Close() error {
	return p.linker.Close()
}

// KnowledgeBase returns the knowledge base entities are linked against.
func (p *Processor) KnowledgeBase() *knowledge.Base { return p.kb }

// Linker returns the entity linker.
func (p *Processor) Linker() *linker.Linker { return p.linker }

// ---------------------------------------------------------------------------
// Per-message processing
// ---------------------------------------------------------------------------

type request struct {
	id            string
	minConfidence float64
}

// RequestOption adjusts a single Process call.
type RequestOption func(*request)

// WithMinConfidence filters entities below c. A negative value selects the
// configured default.
func WithMinConfidence(c float64) RequestOption {
	return func(r *request) { r.minConfidence = c }
}

// WithMessageID sets the message id instead of a generated one.
func WithMessageID(id string) RequestOption {
	return func(r *request) {
		if id != "" {
			r.id = id
		}
	}
}

// Process runs text through every stage. The returned error is non-nil only
// for ModelUnavailable; any other failure yields a non-medical message with
// no entities, quality 0 and a diagnostic. A context that ends mid-way
// yields a timed_out message.
func (p *Processor) Process(ctx context.Context, text string, opts ...RequestOption) (msg *medical.ProcessedMessage, err error) {
	start := time.Now()
	req := request{id: uuid.NewString(), minConfidence: -1}
	for _, o := range opts {
		o(&req)
	}
	msg = &medical.ProcessedMessage{
		ID:           req.id,
		OriginalText: text,
		Entities:     []medical.MedicalEntity{},
		Status:       medical.StatusSuccess,
	}
	stage := StageReceived

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while processing message",
				logging.String("id", msg.ID),
				logging.String("stage", stage),
				logging.Any("panic", r))
			fail(msg, medical.DiagInternal, stage, fmt.Sprintf("panic: %v", r))
			err = nil
		}
		if err == nil {
			p.finish(ctx, msg, start)
		}
	}()

	if ctx.Err() != nil {
		timeOut(msg, stage)
		return msg, nil
	}
	if strings.TrimSpace(text) == "" {
		fail(msg, medical.DiagInvalidInput, stage, "empty text")
		return msg, nil
	}
	if math.IsNaN(req.minConfidence) || req.minConfidence > 1 {
		fail(msg, medical.DiagInvalidInput, stage, fmt.Sprintf("min confidence %v must be in [0, 1]", req.minConfidence))
		return msg, nil
	}
	if !utf8.ValidString(text) {
		fail(msg, medical.DiagExtractionFailure, stage, "malformed input encoding")
		return msg, nil
	}

	stage = StageNormalized
	doc := textnorm.Normalize(text)
	msg.NormalizedText = doc.Text
	if doc.Empty() {
		fail(msg, medical.DiagInvalidInput, stage, "no text left after normalization")
		return msg, nil
	}

	stage = StageClassified
	verdict, err := p.classifier.Classify(ctx, doc)
	if err != nil {
		if stop := p.absorb(ctx, msg, stage, medical.DiagInternal, err); stop != nil {
			return nil, stop
		}
		return msg, nil
	}
	msg.IsMedical = verdict.IsMedical
	msg.MedicalConfidence = verdict.Confidence
	msg.Reasoning = verdict.Reasoning

	// Non-medical messages are never sent through extraction.
	if msg.IsMedical {
		stage = StageExtracted
		entities, err := p.extractor.Extract(ctx, doc, req.minConfidence)
		if err != nil {
			kind := medical.DiagExtractionFailure
			if errors.IsInvalidInput(err) {
				kind = medical.DiagInvalidInput
			}
			if stop := p.absorb(ctx, msg, stage, kind, err); stop != nil {
				return nil, stop
			}
			return msg, nil
		}

		stage = StageLinked
		if !p.link(ctx, msg, entities) {
			timeOut(msg, stage)
			return msg, nil
		}
	}

	stage = StageScored
	msg.QualityScore = p.scorer.Score(msg.Entities, msg.MedicalConfidence, textnorm.WordCount(doc.Text))
	msg.QualityBucket = quality.Bucket(msg.QualityScore)

	stage = StageAssembled
	return msg, nil
}

// absorb records err on msg. It returns err back only when it must
// propagate (ModelUnavailable).
func (p *Processor) absorb(ctx context.Context, msg *medical.ProcessedMessage, stage string, kind medical.DiagnosticKind, err error) error {
	switch {
	case ctx.Err() != nil:
		timeOut(msg, stage)
	case errors.IsModelUnavailable(err):
		p.logger.Error("model unavailable",
			logging.String("id", msg.ID),
			logging.String("stage", stage),
			logging.Err(err))
		return err
	default:
		p.logger.Warn("message processing failed",
			logging.String("id", msg.ID),
			logging.String("stage", stage),
			logging.Err(err))
		fail(msg, kind, stage, err.Error())
	}
	return nil
}

// link links every entity and stores the results on msg. A linking failure
// leaves its entity unlinked and adds a diagnostic. It returns false when
// ctx ended.
func (p *Processor) link(ctx context.Context, msg *medical.ProcessedMessage, entities []medical.MedicalEntity) bool {
	msg.Entities = make([]medical.MedicalEntity, 0, len(entities))
	for _, e := range entities {
		linked, res, err := p.linker.LinkEntity(ctx, e)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			p.logger.Warn("entity linking failed",
				logging.String("id", msg.ID),
				logging.String("entity", e.Text),
				logging.Err(err))
			msg.AddDiagnostic(medical.DiagLinkingFailure, StageLinked, err.Error())
			msg.Entities = append(msg.Entities, linked)
			continue
		}
		msg.Entities = append(msg.Entities, linked)
		if _, linkable := e.EntityType.KBCategory(); linkable {
			msg.Links = append(msg.Links, res)
		}
	}
	return true
}

func (p *Processor) finish(ctx context.Context, msg *medical.ProcessedMessage, start time.Time) {
	msg.ProcessingTime = time.Since(start)
	msg.ProcessedAt = p.now().UTC()
	if msg.QualityBucket == "" {
		msg.QualityBucket = quality.Bucket(msg.QualityScore)
	}
	p.metrics.RecordMessage(ctx, &common.MessageMetricParams{
		Status:        string(msg.Status),
		IsMedical:     msg.IsMedical,
		QualityBucket: string(msg.QualityBucket),
		EntityCount:   len(msg.Entities),
		DurationMs:    float64(msg.ProcessingTime.Microseconds()) / 1000.0,
	})
	p.logger.Debug("message processed",
		logging.String("id", msg.ID),
		logging.String("status", string(msg.Status)),
		logging.Bool("is_medical", msg.IsMedical),
		logging.Int("entities", len(msg.Entities)),
		logging.Float64("quality", msg.QualityScore),
		logging.Duration("elapsed", msg.ProcessingTime))
}

// fail turns msg into the failed-message shape.
func fail(msg *medical.ProcessedMessage, kind medical.DiagnosticKind, stage, message string) {
	reset(msg)
	msg.Status = medical.StatusError
	msg.Diagnostics = append(msg.Diagnostics, medical.Diagnostic{Kind: kind, Stage: stage, Message: message})
}

func timeOut(msg *medical.ProcessedMessage, stage string) {
	reset(msg)
	msg.Status = medical.StatusTimedOut
	msg.Diagnostics = append(msg.Diagnostics, medical.Diagnostic{Kind: medical.DiagTimedOut, Stage: stage, Message: "timed out"})
}

func reset(msg *medical.ProcessedMessage) {
	msg.IsMedical = false
	msg.MedicalConfidence = 0
	msg.Reasoning = ""
	msg.Entities = []medical.MedicalEntity{}
	msg.Links = nil
	msg.QualityScore = 0
	msg.QualityBucket = medical.QualityLow
}
