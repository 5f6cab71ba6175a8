package model

import "github.com/google/uuid"

// DecisionAction is the action a reviewer (or the auto accept policy) takes
// on an entity group.
type DecisionAction string

const (
	// DecisionAccept confirms the group and assigns or reuses a pseudonym.
	DecisionAccept DecisionAction = "accept"
	// DecisionReject leaves all occurrences of the group untouched.
	DecisionReject DecisionAction = "reject"
	// DecisionEdit corrects the entity text before assignment.
	DecisionEdit DecisionAction = "edit"
	// DecisionAttach resolves a standalone component against an existing
	// full name.
	DecisionAttach DecisionAction = "attach"
	// DecisionNewEntity treats a standalone component as a new entity of
	// its own.
	DecisionNewEntity DecisionAction = "new_entity"
)

// UserDecision is one reviewer decision on a group.
type UserDecision struct {
	Action DecisionAction `json:"action"`
	// EditedText carries the corrected surface form for DecisionEdit.
	EditedText string `json:"edited_text,omitempty"`
	// AttachToFullName names the existing full name for DecisionAttach.
	AttachToFullName string `json:"attach_to_full_name,omitempty"`
	// Gender optionally overrides the gender hint used for pool draws.
	Gender *Gender `json:"gender,omitempty"`
}

// EntityGroup is one review and assignment unit: all occurrences across a
// document believed to denote the same real world entity.
type EntityGroup struct {
	RID  uuid.UUID  `json:"rid"`
	Key  string     `json:"group_key"`
	Type EntityType `json:"entity_type"`
	// Text is the representative surface form, the longest occurrence text.
	Text string `json:"text"`
	// NormalizedText is the honorific stripped, folded form used for matching.
	NormalizedText string           `json:"normalized_text"`
	Occurrences    []ResolvedEntity `json:"occurrences"`
	// Ambiguous marks a bare name component that could not be attached to a
	// unique full name group. Ambiguous groups are never auto accepted.
	Ambiguous bool `json:"ambiguous,omitempty"`
	// GenderHint is derived from honorifics seen on occurrences.
	GenderHint *Gender       `json:"gender_hint,omitempty"`
	Decision   *UserDecision `json:"decision,omitempty"`
}

// FirstOccurrence returns the smallest start offset of the group, used for
// the stable review order.
func (g *EntityGroup) FirstOccurrence() int {
	if len(g.Occurrences) == 0 {
		return 0
	}
	first := g.Occurrences[0].Start
	for _, occ := range g.Occurrences[1:] {
		if occ.Start < first {
			first = occ.Start
		}
	}
	return first
}

// MaxConfidence returns the highest occurrence confidence, or nil when no
// occurrence carries one.
func (g *EntityGroup) MaxConfidence() *float64 {
	var max *float64
	for _, occ := range g.Occurrences {
		if occ.Confidence == nil {
			continue
		}
		if max == nil || *occ.Confidence > *max {
			v := *occ.Confidence
			max = &v
		}
	}
	return max
}

// Replacement is one span substitution in the output document.
type Replacement struct {
	Start     int    `json:"start"`
	End       int    `json:"end"`
	Original  string `json:"original"`
	Pseudonym string `json:"pseudonym"`
}
