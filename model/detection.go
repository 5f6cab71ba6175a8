package model

// EntityType classifies the kind of personal identifier a detection refers to.
type EntityType string

// Supported entity types for detection and pseudonymization.
const (
	EntityPerson       EntityType = "PERSON"
	EntityLocation     EntityType = "LOCATION"
	EntityOrganization EntityType = "ORG"
)

// Valid reports whether the entity type is one of the supported types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityPerson, EntityLocation, EntityOrganization:
		return true
	}
	return false
}

// ReviewRank orders entity types for human review (PERSON, then ORG, then LOCATION).
func (t EntityType) ReviewRank() int {
	switch t {
	case EntityPerson:
		return 0
	case EntityOrganization:
		return 1
	case EntityLocation:
		return 2
	}
	return 3
}

// DetectorClass identifies the class of a detection source. Statistical
// detectors win overlap resolution against pattern based fallbacks.
type DetectorClass string

const (
	DetectorStatistical DetectorClass = "statistical"
	DetectorPattern     DetectorClass = "pattern"
)

// Priority returns the overlap resolution priority of the class, higher wins.
func (c DetectorClass) Priority() int {
	switch c {
	case DetectorStatistical:
		return 2
	case DetectorPattern:
		return 1
	}
	return 0
}

// RawDetection is the immutable output of a single detector run: one span
// of text with its type, position and optional confidence. Offsets are byte
// offsets into the source document.
type RawDetection struct {
	Text        string        `json:"text"`
	Type        EntityType    `json:"entity_type"`
	Start       int           `json:"start"`
	End         int           `json:"end"`
	Confidence  *float64      `json:"confidence,omitempty"`
	SourceID    string        `json:"source_id"`
	SourceClass DetectorClass `json:"source_class"`
}

// ValidSpan reports whether the detection span is well formed within a
// document of the given length.
func (d RawDetection) ValidSpan(docLen int) bool {
	return d.Start >= 0 && d.Start < d.End && d.End <= docLen && d.Type.Valid()
}

// ResolvedEntity is a detection that survived the merge. WinningSource
// records which detector the span was kept from. AmbiguousOverlap marks
// spans that overlap another kept span and need human attention.
type ResolvedEntity struct {
	RawDetection
	WinningSource    string `json:"winning_source"`
	AmbiguousOverlap bool   `json:"ambiguous_overlap,omitempty"`
}

// Overlaps reports whether two spans share at least one byte.
func (e ResolvedEntity) Overlaps(other ResolvedEntity) bool {
	return e.Start < other.End && other.Start < e.End
}

// Contains reports whether the span fully covers the other span.
func (e ResolvedEntity) Contains(other ResolvedEntity) bool {
	return e.Start <= other.Start && e.End >= other.End
}
