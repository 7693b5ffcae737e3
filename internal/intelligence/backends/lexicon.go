package backends

import (
	"context"
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/common"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/extractor"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/knowledge"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/linker"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/relevance"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/textnorm"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

// Logistic coefficients of the lexicon relevance model.
const (
	lexiconBias      = -2.5
	lexiconKBWeight  = 1.6
	lexiconVocab     = 1.0
	lexiconDoseTerms = 1.2
)

const (
	// GazetteerConfidence is the score of an exact knowledge base term hit.
	GazetteerConfidence = 0.85
	// GazetteerFuzzyThreshold is the minimum similarity for a misspelled hit.
	GazetteerFuzzyThreshold = 0.85
	// gazetteerFuzzyScale discounts misspelled hits against exact ones.
	gazetteerFuzzyScale = 0.75
	// gazetteerMinFuzzyRunes keeps short words out of fuzzy matching.
	gazetteerMinFuzzyRunes = 5
)

var categoryLabels = map[medical.Category]string{
	medical.CategoryMedication: "MEDICATION",
	medical.CategoryCondition:  "CONDITION",
	medical.CategorySymptom:    "SYMPTOM",
	medical.CategoryFacility:   "FACILITY",
}

// LexiconClassifier is a relevance.Model that needs no trained weights. It
// counts knowledge base terms, general medical vocabulary and dosage
// expressions and maps the counts through a logistic function.
type LexiconClassifier struct {
	name    string
	kb      *knowledge.Base
	vocab   []string
	rules   *extractor.RuleStrategy
	metrics common.IntelligenceMetrics
}

var _ relevance.Model = (*LexiconClassifier)(nil)

// NewLexiconClassifier builds the classifier over kb.
func NewLexiconClassifier(kb *knowledge.Base, opts ...Option) (*LexiconClassifier, error) {
	if kb == nil {
		return nil, errors.ModelUnavailable(ModelRelevance, errors.InvalidInput("nil knowledge base"))
	}
	o := newOptions(opts)
	c := &LexiconClassifier{
		name:    o.modelName(ModelRelevance),
		kb:      kb,
		rules:   extractor.NewRuleStrategy(),
		metrics: o.metrics,
	}
	for _, w := range relevance.DefaultKeywords {
		if k := knowledge.FoldTerm(w); k != "" && !kb.Contains(k) {
			c.vocab = append(c.vocab, k)
		}
	}
	return c, nil
}

// Score returns P(medical) for text.
func (c *LexiconClassifier) Score(ctx context.Context, text string) (float64, error) {
	start := time.Now()
	p, err := c.score(ctx, text)
	c.metrics.RecordInference(ctx, &common.InferenceMetricParams{
		ModelName:  c.name,
		Backend:    string(common.BackendLexicon),
		TaskType:   string(common.TaskClassification),
		DurationMs: msSince(start),
		Success:    err == nil,
		BatchSize:  1,
	})
	return p, err
}

func (c *LexiconClassifier) score(ctx context.Context, text string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	doc := textnorm.Normalize(text)

	seen := make(map[*medical.KnowledgeBaseEntry]struct{})
	for _, t := range c.kb.Terms() {
		if _, dup := seen[t.Entry]; dup {
			continue
		}
		if textnorm.ContainsTerm(doc.Folded, t.Text) {
			seen[t.Entry] = struct{}{}
		}
	}
	var vocabHits int
	for _, w := range c.vocab {
		if textnorm.ContainsTerm(doc.Folded, w) {
			vocabHits++
		}
	}
	spans, err := c.rules.Spans(ctx, doc)
	if err != nil {
		return 0, err
	}
	var doses int
	for _, s := range spans {
		if s.EntityType == medical.EntityDosage {
			doses++
		}
	}

	z := lexiconBias +
		lexiconKBWeight*float64(len(seen)) +
		lexiconVocab*float64(vocabHits) +
		lexiconDoseTerms*float64(doses)
	return 1 / (1 + math.Exp(-z)), nil
}

// Gazetteer is an extractor.NERModel that tags knowledge base terms found
// in the text. Single words within GazetteerFuzzyThreshold of a one-word
// term are tagged with a discounted score.
type Gazetteer struct {
	name    string
	kb      *knowledge.Base
	single  []knowledge.Term
	metrics common.IntelligenceMetrics
}

var _ extractor.NERModel = (*Gazetteer)(nil)

// NewGazetteer builds the tagger over kb.
func NewGazetteer(kb *knowledge.Base, opts ...Option) (*Gazetteer, error) {
	if kb == nil {
		return nil, errors.ModelUnavailable(ModelNER, errors.InvalidInput("nil knowledge base"))
	}
	o := newOptions(opts)
	g := &Gazetteer{
		name:    o.modelName(ModelNER),
		kb:      kb,
		metrics: o.metrics,
	}
	for _, t := range kb.Terms() {
		if _, ok := categoryLabels[t.Category]; !ok {
			continue
		}
		if !strings.ContainsRune(t.Text, ' ') && utf8.RuneCountInString(t.Text) >= gazetteerMinFuzzyRunes {
			g.single = append(g.single, t)
		}
	}
	return g, nil
}

// Recognize returns spans with byte offsets into text.
func (g *Gazetteer) Recognize(ctx context.Context, text string) ([]extractor.ModelSpan, error) {
	start := time.Now()
	spans, err := g.recognize(ctx, text)
	g.metrics.RecordInference(ctx, &common.InferenceMetricParams{
		ModelName:  g.name,
		Backend:    string(common.BackendLexicon),
		TaskType:   string(common.TaskTokenClassification),
		DurationMs: msSince(start),
		Success:    err == nil,
		BatchSize:  1,
	})
	return spans, err
}

func (g *Gazetteer) recognize(ctx context.Context, text string) ([]extractor.ModelSpan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	folded := textnorm.Fold(text)
	var (
		out     []extractor.ModelSpan
		claimed [][2]int
	)
	free := func(s, e int) bool {
		for _, c := range claimed {
			if s < c[1] && c[0] < e {
				return false
			}
		}
		return true
	}

	// Terms come longest first, so "typhoid fever" wins over "fever".
	for _, t := range g.kb.Terms() {
		label, ok := categoryLabels[t.Category]
		if !ok {
			continue
		}
		for _, hit := range textnorm.FindTerm(folded, t.Text) {
			if !free(hit[0], hit[1]) {
				continue
			}
			claimed = append(claimed, hit)
			out = append(out, extractor.ModelSpan{Label: label, Start: hit[0], End: hit[1], Score: GazetteerConfidence})
		}
	}

	for _, tok := range textnorm.Tokenize(folded) {
		if !free(tok.Start, tok.End) || !fuzzyCandidate(tok.Text) {
			continue
		}
		var (
			best    *knowledge.Term
			bestSim float64
		)
		for i := range g.single {
			if sim := linker.Similarity(tok.Text, g.single[i].Text); sim > bestSim {
				best, bestSim = &g.single[i], sim
			}
		}
		if best == nil || bestSim < GazetteerFuzzyThreshold {
			continue
		}
		claimed = append(claimed, [2]int{tok.Start, tok.End})
		out = append(out, extractor.ModelSpan{
			Label: categoryLabels[best.Category],
			Start: tok.Start,
			End:   tok.End,
			Score: gazetteerFuzzyScale * bestSim,
		})
	}
	return out, nil
}

func fuzzyCandidate(word string) bool {
	if utf8.RuneCountInString(word) < gazetteerMinFuzzyRunes {
		return false
	}
	for _, r := range word {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}
