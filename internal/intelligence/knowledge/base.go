// Package knowledge holds the read-only knowledge base of canonical medical
// names that extracted entities are linked against.
package knowledge

import (
	"sort"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/textnorm"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

// Term is one folded surface form (canonical name or alias) of an entry.
type Term struct {
	Text     string
	Category medical.Category
	Entry    *medical.KnowledgeBaseEntry
}

// Base is an immutable, validated knowledge base. All methods are safe for
// concurrent use.
type Base struct {
	entries    []*medical.KnowledgeBaseEntry
	byCategory map[medical.Category][]*medical.KnowledgeBaseEntry
	exact      map[medical.Category]map[string]*medical.KnowledgeBaseEntry
	terms      []Term
}

// FoldTerm is the key under which names are stored and looked up.
func FoldTerm(s string) string {
	return textnorm.Normalize(s).Folded
}

// NewBase validates entries and builds the lookup indexes. Entries are
// deep-copied; the caller may reuse its slice.
func NewBase(entries []medical.KnowledgeBaseEntry) (*Base, error) {
	if len(entries) == 0 {
		return nil, errors.New(errors.ErrCodeKBEmpty, "knowledge base has no entries")
	}
	b := &Base{
		byCategory: make(map[medical.Category][]*medical.KnowledgeBaseEntry),
		exact:      make(map[medical.Category]map[string]*medical.KnowledgeBaseEntry),
	}
	for i := range entries {
		e, err := copyEntry(entries[i])
		if err != nil {
			return nil, err.WithDetail(entries[i].CanonicalName)
		}
		idx := b.exact[e.Category]
		if idx == nil {
			idx = make(map[string]*medical.KnowledgeBaseEntry)
			b.exact[e.Category] = idx
		}
		for _, name := range e.Names() {
			key := FoldTerm(name)
			if key == "" {
				continue
			}
			if prev, ok := idx[key]; ok {
				if prev == e {
					continue
				}
				return nil, errors.Newf(errors.ErrCodeKBInvalidEntry,
					"term %q of %q collides with %q in category %s",
					name, e.CanonicalName, prev.CanonicalName, e.Category)
			}
			idx[key] = e
			b.terms = append(b.terms, Term{Text: key, Category: e.Category, Entry: e})
		}
		b.entries = append(b.entries, e)
		b.byCategory[e.Category] = append(b.byCategory[e.Category], e)
	}

	for _, list := range b.byCategory {
		sort.SliceStable(list, func(i, j int) bool { return list[i].CanonicalName < list[j].CanonicalName })
	}
	// Longest terms first so gazetteers prefer "acetylsalicylic acid" over
	// any shorter term inside it.
	sort.SliceStable(b.terms, func(i, j int) bool {
		if len(b.terms[i].Text) != len(b.terms[j].Text) {
			return len(b.terms[i].Text) > len(b.terms[j].Text)
		}
		return b.terms[i].Text < b.terms[j].Text
	})
	return b, nil
}

func copyEntry(in medical.KnowledgeBaseEntry) (*medical.KnowledgeBaseEntry, *errors.AppError) {
	if FoldTerm(in.CanonicalName) == "" {
		return nil, errors.New(errors.ErrCodeKBInvalidEntry, "canonical name is empty")
	}
	cat, err := medical.ParseCategory(string(in.Category))
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeKBInvalidEntry, "unknown category %q", in.Category)
	}
	out := &medical.KnowledgeBaseEntry{
		CanonicalName: textnorm.Normalize(in.CanonicalName).Text,
		Category:      cat,
	}
	for _, a := range in.Aliases {
		if a = textnorm.Normalize(a).Text; a != "" {
			out.Aliases = append(out.Aliases, a)
		}
	}
	if len(in.Metadata) > 0 {
		out.Metadata = make(map[string]string, len(in.Metadata))
		for k, v := range in.Metadata {
			out.Metadata[k] = v
		}
	}
	return out, nil
}

// Candidates returns the entries of category sorted by canonical name. The
// returned slice must not be modified.
func (b *Base) Candidates(c medical.Category) []*medical.KnowledgeBaseEntry {
	return b.byCategory[c]
}

// Exact finds the entry whose canonical name or alias equals term, ignoring
// case and normalization differences.
func (b *Base) Exact(c medical.Category, term string) (*medical.KnowledgeBaseEntry, bool) {
	e, ok := b.exact[c][FoldTerm(term)]
	return e, ok
}

// Contains reports whether term names any entry in any category.
func (b *Base) Contains(term string) bool {
	key := FoldTerm(term)
	for _, idx := range b.exact {
		if _, ok := idx[key]; ok {
			return true
		}
	}
	return false
}

// Terms returns every folded surface form, longest first.
func (b *Base) Terms() []Term {
	return b.terms
}

// Categories returns the populated categories in sorted order.
func (b *Base) Categories() []medical.Category {
	out := make([]medical.Category, 0, len(b.byCategory))
	for c := range b.byCategory {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of entries.
func (b *Base) Len() int { return len(b.entries) }

// Entries returns copies of all entries in load order.
func (b *Base) Entries() []medical.KnowledgeBaseEntry {
	out := make([]medical.KnowledgeBaseEntry, len(b.entries))
	for i, e := range b.entries {
		cp := *e
		cp.Aliases = append([]string(nil), e.Aliases...)
		if e.Metadata != nil {
			cp.Metadata = make(map[string]string, len(e.Metadata))
			for k, v := range e.Metadata {
				cp.Metadata[k] = v
			}
		}
		out[i] = cp
	}
	return out
}
