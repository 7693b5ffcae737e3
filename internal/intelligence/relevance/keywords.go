package relevance

import (
	"math"
	"sort"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/knowledge"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/textnorm"
)

// DefaultKeywords is the general medical vocabulary that triggers the
// keyword boost in addition to every knowledge base term.
var DefaultKeywords = []string{
	"medication", "drug", "medicine", "treatment", "disease",
	"symptom", "patient", "doctor", "hospital", "clinic",
	"fever", "cough", "pain", "infection", "vaccine",
	"tablet", "capsule", "injection", "dosage", "prescription",
	"health", "medical", "pharma", "pharmacy", "antibiotics", "malaria",
	"syrup", "ointment", "antibiotic",
}

// DefaultBoostIncrement is added to the model score when a keyword matches.
const DefaultBoostIncrement = 0.15

// KeywordBoost is the post-processing step applied to the raw model score:
// when the text contains a medical term the score is raised by Increment and
// clamped to 1. It never lowers a score.
type KeywordBoost struct {
	increment float64
	keywords  []string // folded, longest first
}

// BoostOption adjusts the keyword vocabulary.
type BoostOption func(map[string]struct{})

// WithExtraKeywords adds keywords to the vocabulary.
func WithExtraKeywords(words ...string) BoostOption {
	return func(set map[string]struct{}) {
		for _, w := range words {
			if k := knowledge.FoldTerm(w); k != "" {
				set[k] = struct{}{}
			}
		}
	}
}

// WithoutKeywords removes keywords from the vocabulary.
func WithoutKeywords(words ...string) BoostOption {
	return func(set map[string]struct{}) {
		for _, w := range words {
			delete(set, knowledge.FoldTerm(w))
		}
	}
}

// NewKeywordBoost builds the boost vocabulary from DefaultKeywords and the
// terms of kb (which may be nil). A non-positive increment disables the step.
func NewKeywordBoost(increment float64, kb *knowledge.Base, opts ...BoostOption) *KeywordBoost {
	set := make(map[string]struct{})
	for _, w := range DefaultKeywords {
		set[knowledge.FoldTerm(w)] = struct{}{}
	}
	if kb != nil {
		for _, term := range kb.Terms() {
			set[term.Text] = struct{}{}
		}
	}
	for _, o := range opts {
		o(set)
	}
	keywords := make([]string, 0, len(set))
	for k := range set {
		keywords = append(keywords, k)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if len(keywords[i]) != len(keywords[j]) {
			return len(keywords[i]) > len(keywords[j])
		}
		return keywords[i] < keywords[j]
	})
	return &KeywordBoost{increment: math.Max(0, increment), keywords: keywords}
}

// Increment returns the configured boost.
func (k *KeywordBoost) Increment() float64 { return k.increment }

// Matches returns the keywords present in folded as whole words, in
// vocabulary order.
func (k *KeywordBoost) Matches(folded string) []string {
	var out []string
	for _, kw := range k.keywords {
		if textnorm.ContainsTerm(folded, kw) {
			out = append(out, kw)
		}
	}
	return out
}

// Apply returns the boosted score, whether the boost fired, and the matched
// keywords.
func (k *KeywordBoost) Apply(score float64, folded string) (float64, bool, []string) {
	matched := k.Matches(folded)
	if len(matched) == 0 || k.increment == 0 {
		return score, false, matched
	}
	return math.Min(1, score+k.increment), true, matched
}
