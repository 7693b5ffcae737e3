// Package medical defines the data types exchanged between the pipeline stages,
// the CLI, the worker and the persistence adapters. No pipeline logic lives
// here, only plain values and their validation.
package medical

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// EntityType
// ─────────────────────────────────────────────────────────────────────────────

// EntityType is the closed set of entity labels the pipeline produces.
type EntityType string

const (
	EntityMedication EntityType = "MEDICATION"
	EntityDosage     EntityType = "DOSAGE"
	EntityCondition  EntityType = "CONDITION"
	EntitySymptom    EntityType = "SYMPTOM"
	EntityPrice      EntityType = "PRICE"
	EntityFrequency  EntityType = "FREQUENCY"
	EntityFacility   EntityType = "FACILITY"
	EntitySideEffect EntityType = "SIDE_EFFECT"
)

// AllEntityTypes lists every EntityType in declaration order.
var AllEntityTypes = []EntityType{
	EntityMedication,
	EntityDosage,
	EntityCondition,
	EntitySymptom,
	EntityPrice,
	EntityFrequency,
	EntityFacility,
	EntitySideEffect,
}

// ParseEntityType converts a label to an EntityType. Matching ignores case and
// surrounding whitespace; anything outside the closed set is rejected.
func ParseEntityType(s string) (EntityType, error) {
	candidate := EntityType(strings.ToUpper(strings.TrimSpace(s)))
	if candidate.IsValid() {
		return candidate, nil
	}
	return "", errors.New(errors.ErrCodeUnknownEntityType, "unknown entity type").WithDetail(s)
}

// IsValid reports whether t is one of the declared entity types.
func (t EntityType) IsValid() bool {
	for _, known := range AllEntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

func (t EntityType) String() string { return string(t) }

// UnmarshalJSON rejects unknown labels.
func (t *EntityType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseEntityType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// KBCategory returns the knowledge-base category entities of this type link
// against, and false for types that are never linked (amounts, prices, ...).
func (t EntityType) KBCategory() (Category, bool) {
	switch t {
	case EntityMedication:
		return CategoryMedication, true
	case EntityCondition:
		return CategoryCondition, true
	case EntitySymptom, EntitySideEffect:
		return CategorySymptom, true
	case EntityFacility:
		return CategoryFacility, true
	default:
		return "", false
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Knowledge base entries
// ─────────────────────────────────────────────────────────────────────────────

// Category groups knowledge-base entries. Linking never crosses categories.
type Category string

const (
	CategoryMedication Category = "medication"
	CategoryCondition  Category = "condition"
	CategorySymptom    Category = "symptom"
	CategoryFacility   Category = "facility"
)

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CategoryMedication, CategoryCondition, CategorySymptom, CategoryFacility:
		return c, nil
	}
	return "", errors.New(errors.ErrCodeKBInvalidEntry, "unknown knowledge base category").WithDetail(s)
}

// KnowledgeBaseEntry is one canonical concept. Entries are immutable once the
// knowledge base is built.
type KnowledgeBaseEntry struct {
	CanonicalName string            `json:"canonical_name"`
	Aliases       []string          `json:"aliases,omitempty"`
	Category      Category          `json:"category"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Names returns the canonical name followed by the aliases.
func (e KnowledgeBaseEntry) Names() []string {
	names := make([]string, 0, len(e.Aliases)+1)
	names = append(names, e.CanonicalName)
	return append(names, e.Aliases...)
}

// ─────────────────────────────────────────────────────────────────────────────
// Entities
// ─────────────────────────────────────────────────────────────────────────────

// Source records which extraction strategy produced a span.
type Source string

const (
	SourceModel Source = "model"
	SourceRule  Source = "rule"
)

// MedicalEntity is an extracted span. Start and End are byte offsets into the
// normalized text, End exclusive.
type MedicalEntity struct {
	Text       string     `json:"text"`
	EntityType EntityType `json:"entity_type"`
	Confidence float64    `json:"confidence"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
	Normalized string     `json:"normalized"`
	Source     Source     `json:"-"`
}

// NewMedicalEntity builds a validated entity.
func NewMedicalEntity(text string, t EntityType, start, end int, confidence float64) (MedicalEntity, error) {
	e := MedicalEntity{Text: text, EntityType: t, Start: start, End: end, Confidence: confidence}
	if err := e.Validate(); err != nil {
		return MedicalEntity{}, err
	}
	return e, nil
}

// Validate checks offsets, confidence range and type.
func (e MedicalEntity) Validate() error {
	if !e.EntityType.IsValid() {
		return errors.New(errors.ErrCodeUnknownEntityType, "unknown entity type").WithDetail(string(e.EntityType))
	}
	if e.Start < 0 || e.End <= e.Start {
		return errors.InvalidInput("invalid entity span").WithDetail(fmt.Sprintf("[%d,%d)", e.Start, e.End))
	}
	if math.IsNaN(e.Confidence) || e.Confidence < 0 || e.Confidence > 1 {
		return errors.InvalidInput("confidence out of range").WithDetail(fmt.Sprintf("%f", e.Confidence))
	}
	return nil
}

// Len is the span length in bytes.
func (e MedicalEntity) Len() int { return e.End - e.Start }

// Overlaps reports whether the two half-open spans share at least one byte.
func (e MedicalEntity) Overlaps(o MedicalEntity) bool {
	return e.Start < o.End && o.Start < e.End
}

// ─────────────────────────────────────────────────────────────────────────────
// Linking
// ─────────────────────────────────────────────────────────────────────────────

// LinkMethod names the matching stage that produced a LinkResult.
type LinkMethod string

const (
	LinkExact    LinkMethod = "exact"
	LinkFuzzy    LinkMethod = "fuzzy"
	LinkPhonetic LinkMethod = "phonetic"
	LinkNone     LinkMethod = "none"
)

// LinkResult is the outcome of linking one surface form. Entry is nil when
// nothing matched, in which case Confidence is 0 and Normalized is the
// lowercased input.
type LinkResult struct {
	InputText  string              `json:"input_text"`
	Normalized string              `json:"normalized"`
	EntityType EntityType          `json:"entity_type"`
	Confidence float64             `json:"confidence"`
	Method     LinkMethod          `json:"method"`
	Entry      *KnowledgeBaseEntry `json:"kb_entry,omitempty"`
}

// Linked reports whether a knowledge-base entry was found.
func (r LinkResult) Linked() bool { return r.Entry != nil }

// ─────────────────────────────────────────────────────────────────────────────
// Processed message
// ─────────────────────────────────────────────────────────────────────────────

// Status is the terminal state of a processed message.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusDegraded Status = "degraded"
	StatusError    Status = "error"
	StatusTimedOut Status = "timed_out"
)

// DiagnosticKind classifies a recoverable failure recorded on a message.
type DiagnosticKind string

const (
	DiagInvalidInput      DiagnosticKind = "invalid_input"
	DiagExtractionFailure DiagnosticKind = "extraction_failure"
	DiagLinkingFailure    DiagnosticKind = "linking_failure"
	DiagTimedOut          DiagnosticKind = "timed_out"
	DiagInternal          DiagnosticKind = "internal"
)

// Diagnostic describes a failure that was absorbed instead of propagated.
type Diagnostic struct {
	Kind    DiagnosticKind `json:"kind"`
	Stage   string         `json:"stage,omitempty"`
	Message string         `json:"message"`
}

func (d Diagnostic) String() string {
	if d.Stage == "" {
		return fmt.Sprintf("%s: %s", d.Kind, d.Message)
	}
	return fmt.Sprintf("%s at %s: %s", d.Kind, d.Stage, d.Message)
}

// QualityBucket is the coarse band of a quality score.
type QualityBucket string

const (
	QualityHigh   QualityBucket = "high"
	QualityMedium QualityBucket = "medium"
	QualityLow    QualityBucket = "low"
)

// ProcessedMessage is the assembled result for one input message.
type ProcessedMessage struct {
	ID                string          `json:"id,omitempty"`
	OriginalText      string          `json:"original_text"`
	NormalizedText    string          `json:"normalized_text,omitempty"`
	IsMedical         bool            `json:"is_medical"`
	MedicalConfidence float64         `json:"medical_confidence"`
	Reasoning         string          `json:"reasoning,omitempty"`
	Entities          []MedicalEntity `json:"entities"`
	Links             []LinkResult    `json:"linked_entities,omitempty"`
	QualityScore      float64         `json:"quality_score"`
	QualityBucket     QualityBucket   `json:"quality_bucket,omitempty"`
	ProcessingTime    time.Duration   `json:"-"`
	Status            Status          `json:"status"`
	Diagnostics       []Diagnostic    `json:"diagnostics,omitempty"`
	ProcessedAt       time.Time       `json:"processed_at"`
}

// processedMessageJSON carries processing_time as seconds.
type processedMessageJSON struct {
	alias
	ProcessingTime float64 `json:"processing_time"`
}

type alias ProcessedMessage

// MarshalJSON emits processing_time in seconds.
func (m ProcessedMessage) MarshalJSON() ([]byte, error) {
	out := processedMessageJSON{alias: alias(m), ProcessingTime: m.ProcessingTime.Seconds()}
	if out.Entities == nil {
		out.Entities = []MedicalEntity{}
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads processing_time in seconds.
func (m *ProcessedMessage) UnmarshalJSON(data []byte) error {
	var in processedMessageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*m = ProcessedMessage(in.alias)
	m.ProcessingTime = time.Duration(in.ProcessingTime * float64(time.Second))
	return nil
}

// EntitiesOfType returns the entities carrying t, in span order.
func (m *ProcessedMessage) EntitiesOfType(t EntityType) []MedicalEntity {
	var out []MedicalEntity
	for _, e := range m.Entities {
		if e.EntityType == t {
			out = append(out, e)
		}
	}
	return out
}

// Medications returns the normalized (or surface) names of MEDICATION entities.
func (m *ProcessedMessage) Medications() []string {
	return namesOf(m.EntitiesOfType(EntityMedication))
}

// Dosages returns the surface text of DOSAGE entities.
func (m *ProcessedMessage) Dosages() []string {
	var out []string
	for _, e := range m.EntitiesOfType(EntityDosage) {
		out = append(out, e.Text)
	}
	return out
}

// AddDiagnostic appends a diagnostic and downgrades a successful status.
func (m *ProcessedMessage) AddDiagnostic(kind DiagnosticKind, stage, message string) {
	m.Diagnostics = append(m.Diagnostics, Diagnostic{Kind: kind, Stage: stage, Message: message})
	if m.Status == StatusSuccess || m.Status == "" {
		m.Status = StatusDegraded
	}
}

func namesOf(entities []MedicalEntity) []string {
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		if e.Normalized != "" {
			out = append(out, e.Normalized)
			continue
		}
		out = append(out, e.Text)
	}
	return out
}

// BatchStats is the caller-side summary of a batch.
type BatchStats struct {
	TotalMessages     int     `json:"total_messages"`
	Processed         int     `json:"processed"`
	MedicalMessages   int     `json:"medical_messages"`
	MedicalPercentage float64 `json:"medical_percentage"`
	TimedOut          int     `json:"timed_out"`
	AvgQuality        float64 `json:"avg_quality"`
}
