package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

type FactType string

const (
	FactTypeAttribute    FactType = "attribute"
	FactTypePreference   FactType = "preference"
	FactTypeRelationship FactType = "relationship"
	FactTypeEvent        FactType = "event"
)

func ValidFactType(t string) bool {
	switch FactType(t) {
	case FactTypeAttribute, FactTypePreference, FactTypeRelationship, FactTypeEvent:
		return true
	}
	return false
}

type FactStatus string

const (
	StatusActive     FactStatus = "active"
	StatusSuperseded FactStatus = "superseded"
)

// Action is the outcome of resolving a candidate fact against its slot.
type Action string

const (
	ActionCreate    Action = "CREATE"
	ActionUpdate    Action = "UPDATE"
	ActionSupersede Action = "SUPERSEDE"
	ActionNone      Action = "NONE"
)

const (
	MinConfidence = 0
	MaxConfidence = 100
)

// Fact is one version row of a piece of knowledge. ID is unique per version;
// FactID is the stable lineage identity shared by all versions of the same
// logical fact. At most one active row exists per slot.
type Fact struct {
	ID                uuid.UUID      `json:"id"`
	FactID            uuid.UUID      `json:"fact_id"`
	MemorySpaceID     string         `json:"memory_space_id"`
	Subject           string         `json:"subject"`
	Predicate         string         `json:"predicate"`
	Value             string         `json:"value"`
	Content           string         `json:"content,omitempty"`
	Type              FactType       `json:"type"`
	Confidence        int            `json:"confidence"`
	Embedding         []float32      `json:"-"`
	Version           int            `json:"version"`
	Status            FactStatus     `json:"status"`
	SupersededBy      *uuid.UUID     `json:"superseded_by,omitempty"`
	PreviousVersionID *uuid.UUID     `json:"previous_version_id,omitempty"`
	SourceRefs        []string       `json:"source_refs,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Slot identifies "one fact's worth" of knowledge.
type Slot struct {
	MemorySpaceID string
	Subject       string
	Predicate     string
}

func (f *Fact) Slot() Slot {
	return Slot{MemorySpaceID: f.MemorySpaceID, Subject: f.Subject, Predicate: f.Predicate}
}

// CandidateFact is an extracted, not-yet-committed piece of knowledge.
type CandidateFact struct {
	MemorySpaceID string         `json:"memory_space_id"`
	Subject       string         `json:"subject"`
	Predicate     string         `json:"predicate"`
	Value         string         `json:"value"`
	Content       string         `json:"content,omitempty"`
	Type          FactType       `json:"type,omitempty"`
	Confidence    int            `json:"confidence"`
	Embedding     []float32      `json:"-"`
	SourceRefs    []string       `json:"source_refs,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

var (
	ErrValidation            = errors.New("invalid candidate fact")
	ErrCandidateSubjectEmpty = errors.New("invalid candidate fact: subject is required")
	ErrCandidatePredEmpty    = errors.New("invalid candidate fact: predicate is required")
	ErrCandidateValueEmpty   = errors.New("invalid candidate fact: value is required")
	ErrCandidateSpaceEmpty   = errors.New("invalid candidate fact: memory_space_id is required")
	ErrCandidateConfidence   = errors.New("invalid candidate fact: confidence must be in [0,100]")
	ErrCandidateType         = errors.New("invalid candidate fact: unknown fact type")
)

func (c *CandidateFact) Validate() error {
	if strings.TrimSpace(c.MemorySpaceID) == "" {
		return ErrCandidateSpaceEmpty
	}
	if strings.TrimSpace(c.Subject) == "" {
		return ErrCandidateSubjectEmpty
	}
	if strings.TrimSpace(c.Predicate) == "" {
		return ErrCandidatePredEmpty
	}
	if strings.TrimSpace(c.Value) == "" {
		return ErrCandidateValueEmpty
	}
	if c.Confidence < MinConfidence || c.Confidence > MaxConfidence {
		return ErrCandidateConfidence
	}
	if c.Type != "" && !ValidFactType(string(c.Type)) {
		return ErrCandidateType
	}
	return nil
}

func (c *CandidateFact) Slot() Slot {
	return Slot{MemorySpaceID: c.MemorySpaceID, Subject: c.Subject, Predicate: c.Predicate}
}

// IsValidationError reports whether err is one of the candidate validation sentinels.
func IsValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrCandidateSubjectEmpty),
		errors.Is(err, ErrCandidatePredEmpty),
		errors.Is(err, ErrCandidateValueEmpty),
		errors.Is(err, ErrCandidateSpaceEmpty),
		errors.Is(err, ErrCandidateConfidence),
		errors.Is(err, ErrCandidateType),
		errors.Is(err, ErrValidation):
		return true
	}
	return false
}
