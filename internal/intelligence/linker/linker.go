// Package linker maps entity surface forms to canonical knowledge base
// entries. Matching stops at the first stage that succeeds: exact name or
// alias, normalized Levenshtein similarity, Soundex, and finally no match.
package linker

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/monitoring/logging"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/common"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/knowledge"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

const (
	// DefaultFuzzyThreshold is the minimum similarity for a fuzzy match.
	DefaultFuzzyThreshold = 0.8
	// PhoneticConfidence is assigned to Soundex matches.
	PhoneticConfidence = 0.6

	cacheName = "link"
)

// KnowledgeBase is the read side of knowledge.Base used for linking.
type KnowledgeBase interface {
	Exact(c medical.Category, term string) (*medical.KnowledgeBaseEntry, bool)
	Candidates(c medical.Category) []*medical.KnowledgeBaseEntry
	Categories() []medical.Category
}

var _ KnowledgeBase = (*knowledge.Base)(nil)

// candidate is an entry with its precomputed match keys.
type candidate struct {
	entry   *medical.KnowledgeBaseEntry
	names   []string // folded canonical name and aliases
	soundex []string
}

// Linker is safe for concurrent use.
type Linker struct {
	kb             KnowledgeBase
	index          map[medical.Category][]candidate
	fuzzyThreshold float64

	cacheEnabled  bool
	cacheTTL      time.Duration
	cacheCapacity uint64
	cache         *resultCache
	l2            SecondLevel
	flight        singleflight.Group

	metrics common.IntelligenceMetrics
	logger  logging.Logger
}

// Option configures a Linker.
type Option func(*Linker)

// WithFuzzyThreshold overrides DefaultFuzzyThreshold.
func WithFuzzyThreshold(t float64) Option {
	return func(l *Linker) { l.fuzzyThreshold = t }
}

// WithCache enables the in-process result cache.
func WithCache(ttl time.Duration, capacity uint64) Option {
	return func(l *Linker) {
		l.cacheEnabled = true
		l.cacheTTL = ttl
		l.cacheCapacity = capacity
	}
}

// WithSecondLevel adds a shared result store consulted on local misses. It
// implies WithCache with default settings unless WithCache is also given.
func WithSecondLevel(s SecondLevel) Option {
	return func(l *Linker) { l.l2 = s }
}

// WithMetrics injects a metrics sink.
func WithMetrics(m common.IntelligenceMetrics) Option {
	return func(l *Linker) {
		if m != nil {
			l.metrics = m
		}
	}
}

// WithLogger injects a logger.
func WithLogger(lg logging.Logger) Option {
	return func(l *Linker) { l.logger = logging.OrNop(lg) }
}

// New indexes kb for linking.
func New(kb KnowledgeBase, opts ...Option) (*Linker, error) {
	if kb == nil {
		return nil, errors.ModelUnavailable("knowledge-base", errors.InvalidInput("nil knowledge base"))
	}
	l := &Linker{
		kb:             kb,
		index:          make(map[medical.Category][]candidate),
		fuzzyThreshold: DefaultFuzzyThreshold,
		metrics:        common.NewNoopIntelligenceMetrics(),
		logger:         logging.NewNopLogger(),
	}
	for _, o := range opts {
		o(l)
	}
	if math.IsNaN(l.fuzzyThreshold) || l.fuzzyThreshold <= 0 || l.fuzzyThreshold > 1 {
		return nil, errors.InvalidInput(fmt.Sprintf("fuzzy threshold %v must be in (0, 1]", l.fuzzyThreshold))
	}
	for _, c := range kb.Categories() {
		entries := kb.Candidates(c)
		list := make([]candidate, 0, len(entries))
		for _, e := range entries {
			cand := candidate{entry: e}
			for _, n := range e.Names() {
				folded := knowledge.FoldTerm(n)
				cand.names = append(cand.names, folded)
				cand.soundex = append(cand.soundex, Soundex(folded))
			}
			list = append(list, cand)
		}
		l.index[c] = list
	}
	if l.cacheEnabled || l.l2 != nil {
		l.cache = newResultCache(l.cacheTTL, l.cacheCapacity)
	}
	return l, nil
}

// FuzzyThreshold returns the configured threshold.
func (l *Linker) FuzzyThreshold() float64 { return l.fuzzyThreshold }

// Close stops the cache janitor.
func (l *Linker) Close() error {
	if l.cache != nil {
		l.cache.stop()
	}
	return nil
}

// Link resolves text for entityType. A miss is not an error: the result is
// unlinked with confidence 0. Errors carry ErrCodeLinkingFailure (or the
// context error) and come with an unlinked result.
func (l *Linker) Link(ctx context.Context, text string, entityType medical.EntityType) (medical.LinkResult, error) {
	miss := noMatch(text, entityType)
	if err := ctx.Err(); err != nil {
		return miss, err
	}
	if !entityType.IsValid() {
		return miss, errors.LinkingFailure(text, errors.New(errors.ErrCodeUnknownEntityType, "unknown entity type").WithDetail(string(entityType)))
	}
	folded := knowledge.FoldTerm(text)
	category, linkable := entityType.KBCategory()
	if folded == "" || !linkable {
		l.metrics.RecordLink(ctx, string(medical.LinkNone), string(entityType))
		return miss, nil
	}

	if l.cache == nil {
		res, err := l.match(category, text, folded, entityType)
		if err != nil {
			return miss, err
		}
		l.metrics.RecordLink(ctx, string(res.Method), string(entityType))
		return res, nil
	}

	key := cacheKey(entityType, folded)
	if res, ok := l.cache.get(key); ok {
		l.metrics.RecordCacheAccess(ctx, true, cacheName)
		l.metrics.RecordLink(ctx, string(res.Method), string(entityType))
		return withInput(res, text), nil
	}
	l.metrics.RecordCacheAccess(ctx, false, cacheName)

	v, err, _ := l.flight.Do(key, func() (any, error) {
		if l.l2 != nil {
			stored, ok, err := l.l2.GetLink(ctx, key)
			if err != nil {
				l.logger.Warn("link cache read failed", logging.String("key", key), logging.Err(err))
			} else if ok {
				if res, ok := l.rehydrate(category, text, stored); ok {
					l.cache.set(key, res)
					return res, nil
				}
			}
		}
		res, err := l.match(category, text, folded, entityType)
		if err != nil {
			return nil, err
		}
		l.cache.set(key, res)
		if l.l2 != nil {
			if err := l.l2.SetLink(ctx, key, dehydrate(res), l.cache.ttl); err != nil {
				l.logger.Warn("link cache write failed", logging.String("key", key), logging.Err(err))
			}
		}
		return res, nil
	})
	if err != nil {
		return miss, err
	}
	res := v.(medical.LinkResult)
	l.metrics.RecordLink(ctx, string(res.Method), string(entityType))
	return withInput(res, text), nil
}

// LinkEntity links e and returns a copy with Normalized set from the result:
// the canonical name when linked, the lower-cased text otherwise.
func (l *Linker) LinkEntity(ctx context.Context, e medical.MedicalEntity) (medical.MedicalEntity, medical.LinkResult, error) {
	res, err := l.Link(ctx, e.Text, e.EntityType)
	e.Normalized = res.Normalized
	return e, res, err
}

// CacheLen reports the number of cached results (0 when caching is off).
func (l *Linker) CacheLen() int {
	if l.cache == nil {
		return 0
	}
	return l.cache.len()
}

// match runs the stages. Panics from a KnowledgeBase implementation are
// reported as LinkingFailure.
func (l *Linker) match(category medical.Category, text, folded string, t medical.EntityType) (res medical.LinkResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = noMatch(text, t)
			err = errors.LinkingFailure(text, errors.Internal(fmt.Sprintf("panic during linking: %v", r)))
		}
	}()

	if e, ok := l.kb.Exact(category, folded); ok {
		return linked(text, t, e, 1.0, medical.LinkExact), nil
	}

	candidates := l.index[category]
	var (
		best    *medical.KnowledgeBaseEntry
		bestSim float64
	)
	// Candidates are sorted by canonical name, so keeping the first maximum
	// breaks ties lexicographically.
	for _, c := range candidates {
		for _, n := range c.names {
			if sim := Similarity(folded, n); sim > bestSim {
				best, bestSim = c.entry, sim
			}
		}
	}
	if best != nil && bestSim >= l.fuzzyThreshold {
		return linked(text, t, best, bestSim, medical.LinkFuzzy), nil
	}

	if code := Soundex(folded); code != "" {
		for _, c := range candidates {
			for _, s := range c.soundex {
				if s == code {
					return linked(text, t, c.entry, PhoneticConfidence, medical.LinkPhonetic), nil
				}
			}
		}
	}
	return noMatch(text, t), nil
}

func linked(text string, t medical.EntityType, e *medical.KnowledgeBaseEntry, conf float64, m medical.LinkMethod) medical.LinkResult {
	return medical.LinkResult{
		InputText:  text,
		Normalized: e.CanonicalName,
		EntityType: t,
		Confidence: conf,
		Method:     m,
		Entry:      e,
	}
}

func noMatch(text string, t medical.EntityType) medical.LinkResult {
	return medical.LinkResult{
		InputText:  text,
		Normalized: strings.ToLower(text),
		EntityType: t,
		Method:     medical.LinkNone,
	}
}

// dehydrate drops the entry from r. The shared store keeps only the
// canonical name; the entry is looked up again on read.
func dehydrate(r medical.LinkResult) medical.LinkResult {
	r.Entry = nil
	return r
}

// rehydrate resolves a stored result against the local knowledge base so
// that Entry is the same shared entry a local match returns. It reports false
// when the canonical name is no longer in the base.
func (l *Linker) rehydrate(category medical.Category, text string, stored medical.LinkResult) (medical.LinkResult, bool) {
	if stored.Method == medical.LinkNone || stored.Method == "" {
		return noMatch(text, stored.EntityType), true
	}
	e, ok := l.kb.Exact(category, knowledge.FoldTerm(stored.Normalized))
	if !ok || e.CanonicalName != stored.Normalized {
		return medical.LinkResult{}, false
	}
	return linked(text, stored.EntityType, e, stored.Confidence, stored.Method), true
}

// withInput rebinds a cached result to the caller's surface form.
func withInput(r medical.LinkResult, text string) medical.LinkResult {
	r.InputText = text
	if !r.Linked() {
		r.Normalized = strings.ToLower(text)
	}
	return r
}
