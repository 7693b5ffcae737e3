package extractor

import (
	"context"
	"regexp"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/textnorm"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

// DefaultRuleConfidence is assigned to every pattern match.
const DefaultRuleConfidence = 0.9

// Patterns run against the folded text. Longest() is applied so that
// alternations such as "twice daily" / "daily" pick the longest form.
var (
	dosagePattern = regexp.MustCompile(
		`\b\d+(?:[.,]\d+)?(?:\s?-\s?\d+(?:[.,]\d+)?)?\s?` +
			`(?:mg|mcg|g|kg|ml|iu|mmol|units?|tablets?|tabs?|capsules?|caps?|drops?|puffs?|sachets?)\b`)

	pricePattern = regexp.MustCompile(
		`\b\d+(?:[.,]\d+)*\s?(?:etb|birr|br|usd|dollars?|cents?|eur|euros?)\b` +
			`|[$€£]\s?\d+(?:[.,]\d+)*`)

	frequencyPattern = regexp.MustCompile(`\b(?:` +
		`(?:once|twice|thrice|(?:\d+|one|two|three|four|five|six) times?) (?:a|per|each|every) (?:day|week|month|hour)` +
		`|(?:once|twice|thrice|(?:\d+|two|three|four) times) (?:daily|weekly|monthly)` +
		`|every (?:\d+(?: ?- ?\d+)? ?)?(?:hours?|hrs?|days?|weeks?)` +
		`|every (?:other day|morning|evening|night)` +
		`|(?:daily|weekly|monthly|nightly)` +
		`|at (?:bedtime|night)` +
		`|(?:before|after|with) (?:meals|food)` +
		`|as needed|when needed|prn|bid|tid|qid` +
		`)\b`)
)

func init() {
	dosagePattern.Longest()
	pricePattern.Longest()
	frequencyPattern.Longest()
}

type rule struct {
	entityType medical.EntityType
	re         *regexp.Regexp
}

var defaultRules = []rule{
	{medical.EntityDosage, dosagePattern},
	{medical.EntityPrice, pricePattern},
	{medical.EntityFrequency, frequencyPattern},
}

// RuleStrategy finds DOSAGE, PRICE and FREQUENCY spans by pattern.
type RuleStrategy struct {
	confidence float64
	rules      []rule
}

// RuleOption configures a RuleStrategy.
type RuleOption func(*RuleStrategy)

// WithRuleConfidence overrides DefaultRuleConfidence.
func WithRuleConfidence(c float64) RuleOption {
	return func(s *RuleStrategy) {
		if c > 0 && c <= 1 {
			s.confidence = c
		}
	}
}

// NewRuleStrategy returns the pattern strategy.
func NewRuleStrategy(opts ...RuleOption) *RuleStrategy {
	s := &RuleStrategy{confidence: DefaultRuleConfidence, rules: defaultRules}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *RuleStrategy) Name() string { return "rules" }

func (s *RuleStrategy) Kind() medical.Source { return medical.SourceRule }

// Spans never fails.
func (s *RuleStrategy) Spans(ctx context.Context, doc textnorm.Document) ([]medical.MedicalEntity, error) {
	if doc.Empty() {
		return nil, nil
	}
	var out []medical.MedicalEntity
	for _, r := range s.rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, loc := range r.re.FindAllStringIndex(doc.Folded, -1) {
			out = append(out, medical.MedicalEntity{
				Text:       doc.Slice(loc[0], loc[1]),
				EntityType: r.entityType,
				Confidence: s.confidence,
				Start:      loc[0],
				End:        loc[1],
				Source:     medical.SourceRule,
			})
		}
	}
	return out, nil
}
