package types

import (
	"fmt"
	"strings"
)

// ExtractionPayload is the structured output of the external extraction
// service for a single ingestion event. The extractor's JSON is loosely
// typed; Validate converts it into strict internal form, rejecting malformed
// entries individually rather than failing the whole event.
type ExtractionPayload struct {
	Entities      []ExtractedEntity       `json:"entities,omitempty"`
	Relationships []ExtractedRelationship `json:"relationships,omitempty"`
	Behaviors     []ExtractedBehavior     `json:"behaviors,omitempty"`
	Topics        []ExtractedTopic        `json:"topics,omitempty"`
}

// ExtractedEntity is a candidate entity mention.
type ExtractedEntity struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Subtype    string  `json:"subtype,omitempty"`
	Context    string  `json:"context,omitempty"`
	Sentiment  float64 `json:"sentiment,omitempty"` // -1.0..1.0
	Confidence float64 `json:"confidence"`
}

// ExtractedRelationship is a candidate subject-predicate-object fact.
// Subject and Object are entity names as they appear in the event text;
// ingestion resolves them against the registry.
type ExtractedRelationship struct {
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Category   string  `json:"category,omitempty"`
	Confidence float64 `json:"confidence"`
}

// ExtractedBehavior is a candidate first-person stance.
type ExtractedBehavior struct {
	Type         string  `json:"type"` // behavior predicate, e.g. "trusts_opinion_of"
	TargetEntity string  `json:"target_entity,omitempty"`
	Topic        string  `json:"topic,omitempty"`
	Evidence     string  `json:"evidence,omitempty"`
	Confidence   float64 `json:"confidence"`
}

// ExtractedTopic is a topical category signal for summary evolution.
type ExtractedTopic struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Validate checks an extracted entity for required fields and sane ranges.
// Unknown types are coerced to "other" rather than rejected — the extractor's
// taxonomy drifts and a usable name is worth keeping.
func (e *ExtractedEntity) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("entity name is required")
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("entity %q: confidence %.2f outside [0,1]", e.Name, e.Confidence)
	}
	if !IsValidEntityType(e.Type) {
		e.Type = EntityTypeOther
	}
	if e.Sentiment < -1 || e.Sentiment > 1 {
		return fmt.Errorf("entity %q: sentiment %.2f outside [-1,1]", e.Name, e.Sentiment)
	}
	return nil
}

// Validate checks an extracted relationship for required fields.
func (r *ExtractedRelationship) Validate() error {
	if strings.TrimSpace(r.Subject) == "" {
		return fmt.Errorf("relationship subject is required")
	}
	if strings.TrimSpace(r.Predicate) == "" {
		return fmt.Errorf("relationship predicate is required")
	}
	if strings.TrimSpace(r.Object) == "" {
		return fmt.Errorf("relationship object is required")
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("relationship %s %s: confidence %.2f outside [0,1]",
			r.Subject, r.Predicate, r.Confidence)
	}
	return nil
}

// Validate checks an extracted behavior for required fields.
func (b *ExtractedBehavior) Validate() error {
	if strings.TrimSpace(b.Type) == "" {
		return fmt.Errorf("behavior type is required")
	}
	if b.Confidence < 0 || b.Confidence > 1 {
		return fmt.Errorf("behavior %q: confidence %.2f outside [0,1]", b.Type, b.Confidence)
	}
	return nil
}

// Validate checks an extracted topic for required fields.
func (t *ExtractedTopic) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("topic name is required")
	}
	if t.Confidence < 0 || t.Confidence > 1 {
		return fmt.Errorf("topic %q: confidence %.2f outside [0,1]", t.Name, t.Confidence)
	}
	return nil
}

// IsValidSourceType reports whether st is a recognised ingestion source type.
func IsValidSourceType(st string) bool {
	switch st {
	case SourceNote, SourceConversation, SourceMeeting, SourceProfile:
		return true
	}
	return false
}

// IngestResult reports per-store counts for a single ingestion event.
// Ingestion is partially tolerant: malformed sub-items are skipped and
// counted rather than aborting the event.
type IngestResult struct {
	EntitiesCreated  int `json:"entities_created"`
	EntitiesUpdated  int `json:"entities_updated"`
	FactsCreated     int `json:"facts_created"`
	FactsUpdated     int `json:"facts_updated"`
	BehaviorsCreated int `json:"behaviors_created"`
	BehaviorsUpdated int `json:"behaviors_updated"`
	LinksCreated     int `json:"links_created"`

	// SkippedItems holds one message per rejected or soft-skipped sub-item.
	SkippedItems []string `json:"skipped_items,omitempty"`
}
