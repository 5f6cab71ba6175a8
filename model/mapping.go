package model

import (
	"time"

	"github.com/google/uuid"
)

// Gender is an optional hint steering first name pool draws.
type Gender string

const (
	GenderFemale Gender = "female"
	GenderMale   Gender = "male"
)

// MappingRecord is the durable entity to pseudonym correspondence. The name
// and pseudonym fields are encrypted at rest, entity type and timestamps stay
// in plaintext. Once the pseudonym fields are set the record is immutable
// except for LastUsedAt.
type MappingRecord struct {
	ID   int64      `json:"id"`
	RID  uuid.UUID  `json:"rid"`
	Type EntityType `json:"entity_type"`

	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	FullName  string `json:"full_name"`

	PseudonymFirst string `json:"pseudonym_first,omitempty"`
	PseudonymLast  string `json:"pseudonym_last,omitempty"`
	PseudonymFull  string `json:"pseudonym_full"`

	Gender     *Gender  `json:"gender,omitempty"`
	Confidence *float64 `json:"confidence_at_creation,omitempty"`
	// Fallback marks records named by the numbered fallback scheme after
	// pool exhaustion.
	Fallback bool `json:"fallback,omitempty"`

	CreatedAt  time.Time `json:"first_seen_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// ListFilter narrows List results. Only plaintext columns can be filtered,
// encrypted name columns are not searchable by design.
type ListFilter struct {
	Type  *EntityType
	Limit int
}
