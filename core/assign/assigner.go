package assign

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/siherrmann/pseudonymizer/database"
	"github.com/siherrmann/pseudonymizer/model"
)

var (
	// ErrAmbiguous is returned for a standalone name component that has no
	// full name context and no attach or new-entity decision. Non-fatal,
	// the group is surfaced for human resolution.
	ErrAmbiguous = errors.New("standalone component requires a decision")
	// ErrComponentCollision signals that the pool ran dry for one component
	// dimension. The assigner logs it and degrades to fallback naming.
	ErrComponentCollision = errors.New("pseudonym component collision")
)

// MappingStore is the subset of store operations the assigner reads from.
// Writes go through the orchestrator's single writer, never through the
// assigner itself.
type MappingStore interface {
	FindMappingByFullName(entityType model.EntityType, fullName string) (*model.MappingRecord, error)
	FindMappingsByFirstName(firstName string) ([]*model.MappingRecord, error)
	FindMappingsByLastName(lastName string) ([]*model.MappingRecord, error)
	PseudonymFirstInUse(pseudonymFirst string) (bool, error)
	PseudonymLastInUse(pseudonymLast string) (bool, error)
}

// Resolution is the outcome of resolving one entity group.
type Resolution struct {
	Group        *model.EntityGroup
	Record       *model.MappingRecord
	Replacements []model.Replacement
	// Reused is true when an existing mapping (persisted or pending from an
	// earlier group in the same run) served the group.
	Reused bool
}

// Assigner computes or reuses pseudonyms for resolved entity groups under
// the compositional consistency rule: a real first or last name component
// maps to exactly one pseudonym component across the whole store, and no
// pseudonym component stands for two different real components. Records
// created here stay pending until the caller persists them and calls Flush.
type Assigner struct {
	store  MappingStore
	pool   NamePool
	logger *slog.Logger

	pendingFull        map[string]*model.MappingRecord
	pendingFirst       map[string]string
	pendingLast        map[string]string
	pendingPseudoFirst map[string]bool
	pendingPseudoLast  map[string]bool
	newRecords         []*model.MappingRecord
	reusedRIDs         map[uuid.UUID]bool
	fallbackSeq        int
}

// NewAssigner creates an assigner reading from the given store and drawing
// new pseudonyms from the given pool.
func NewAssigner(store MappingStore, pool NamePool, logger *slog.Logger) *Assigner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assigner{
		store:              store,
		pool:               pool,
		logger:             logger,
		pendingFull:        map[string]*model.MappingRecord{},
		pendingFirst:       map[string]string{},
		pendingLast:        map[string]string{},
		pendingPseudoFirst: map[string]bool{},
		pendingPseudoLast:  map[string]bool{},
		reusedRIDs:         map[uuid.UUID]bool{},
	}
}

// NewRecords returns the records created since the last Flush, in creation
// order. The caller persists them and then calls Flush.
func (a *Assigner) NewRecords() []*model.MappingRecord {
	return a.newRecords
}

// ReusedRIDs returns the RIDs of persisted records reused since the last
// Flush, for last-used timestamp updates.
func (a *Assigner) ReusedRIDs() []uuid.UUID {
	rids := make([]uuid.UUID, 0, len(a.reusedRIDs))
	for rid := range a.reusedRIDs {
		rids = append(rids, rid)
	}
	return rids
}

// Flush clears the pending state after the caller persisted the new
// records. Persisted records are found through the store from here on.
func (a *Assigner) Flush() {
	a.pendingFull = map[string]*model.MappingRecord{}
	a.pendingFirst = map[string]string{}
	a.pendingLast = map[string]string{}
	a.pendingPseudoFirst = map[string]bool{}
	a.pendingPseudoLast = map[string]bool{}
	a.newRecords = nil
	a.reusedRIDs = map[uuid.UUID]bool{}
}

// Resolve applies a decision to an entity group and computes the
// replacements for all its occurrences. A nil decision means accept.
func (a *Assigner) Resolve(group *model.EntityGroup, decision *model.UserDecision) (*Resolution, error) {
	if group == nil {
		return nil, fmt.Errorf("group is nil")
	}
	if decision == nil {
		decision = group.Decision
	}
	if decision == nil {
		decision = &model.UserDecision{Action: model.DecisionAccept}
	}

	if decision.Action == model.DecisionReject {
		return &Resolution{Group: group}, nil
	}

	display := stripDisplayHonorific(group.Text)
	normalized := group.NormalizedText
	if decision.Action == model.DecisionEdit && decision.EditedText != "" {
		display = stripDisplayHonorific(decision.EditedText)
		normalized, _ = model.StripHonorific(model.NormalizeName(decision.EditedText))
	}

	gender := decision.Gender
	if gender == nil {
		gender = group.GenderHint
	}

	if group.Type != model.EntityPerson {
		return a.resolveWhole(group, display, normalized)
	}

	parts := model.SplitName(normalized)
	if parts.IsFullName() {
		return a.resolveFullName(group, display, normalized, gender)
	}

	switch decision.Action {
	case model.DecisionAttach:
		return a.resolveAttach(group, decision.AttachToFullName)
	case model.DecisionNewEntity:
		return a.resolveStandaloneNew(group, display, normalized)
	default:
		return nil, fmt.Errorf("%w: %q", ErrAmbiguous, group.Text)
	}
}

// resolveFullName looks up or creates the mapping for a PERSON full name.
func (a *Assigner) resolveFullName(group *model.EntityGroup, display, normalized string, gender *model.Gender) (*Resolution, error) {
	if record, reused, err := a.lookupFullName(group.Type, normalized); err != nil {
		return nil, err
	} else if record != nil {
		return a.resolution(group, record, reused), nil
	}

	parts := model.SplitName(normalized)
	displayParts := model.SplitName(display)

	record := &model.MappingRecord{
		Type:       group.Type,
		FirstName:  displayParts.First,
		LastName:   displayParts.Last,
		FullName:   display,
		Gender:     gender,
		Confidence: group.MaxConfidence(),
	}

	pseudonymFirst, firstErr := a.componentFirst(parts.First, gender)
	pseudonymLast, lastErr := a.componentLast(parts.Last)
	if firstErr != nil || lastErr != nil {
		if firstErr != nil && !errors.Is(firstErr, ErrPoolExhausted) {
			return nil, firstErr
		}
		if lastErr != nil && !errors.Is(lastErr, ErrPoolExhausted) {
			return nil, lastErr
		}
		a.logger.Warn("Pseudonym pool exhausted, using fallback naming",
			slog.String("error", ErrComponentCollision.Error()))

		fallback, err := a.fallbackName("Person")
		if err != nil {
			return nil, err
		}
		record.Fallback = true
		record.PseudonymLast = fallback
		record.PseudonymFull = fallback
	} else {
		record.PseudonymFirst = pseudonymFirst
		record.PseudonymLast = pseudonymLast
		record.PseudonymFull = pseudonymFirst + " " + pseudonymLast
	}

	a.registerPending(normalized, record)
	return a.resolution(group, record, false), nil
}

// resolveWhole handles LOCATION and ORG groups, which map as one unit.
func (a *Assigner) resolveWhole(group *model.EntityGroup, display, normalized string) (*Resolution, error) {
	if record, reused, err := a.lookupFullName(group.Type, normalized); err != nil {
		return nil, err
	} else if record != nil {
		return a.resolution(group, record, reused), nil
	}

	record := &model.MappingRecord{
		Type:       group.Type,
		FullName:   display,
		Confidence: group.MaxConfidence(),
	}

	draw := a.pool.NextPlace
	prefix := "Place"
	if group.Type == model.EntityOrganization {
		draw = a.pool.NextOrg
		prefix = "Org"
	}

	pseudonym, err := a.drawUnique(draw)
	if errors.Is(err, ErrPoolExhausted) {
		a.logger.Warn("Pseudonym pool exhausted, using fallback naming",
			slog.String("type", string(group.Type)))
		pseudonym, err = a.fallbackName(prefix)
		record.Fallback = true
	}
	if err != nil {
		return nil, err
	}

	// The pseudonym also fills the last name slot so its blind index
	// guards uniqueness across runs.
	record.PseudonymLast = pseudonym
	record.PseudonymFull = pseudonym

	a.registerPending(normalized, record)
	return a.resolution(group, record, false), nil
}

// resolveAttach resolves a standalone component against an existing full
// name chosen by the reviewer.
func (a *Assigner) resolveAttach(group *model.EntityGroup, fullName string) (*Resolution, error) {
	if fullName == "" {
		return nil, fmt.Errorf("%w: attach decision without a full name", ErrAmbiguous)
	}

	normalized, _ := model.StripHonorific(model.NormalizeName(fullName))
	record, reused, err := a.lookupFullName(group.Type, normalized)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("attach target %q: %w", fullName, database.ErrNotFound)
	}

	return a.resolution(group, record, reused), nil
}

// resolveStandaloneNew treats a bare component as a new single token entity.
func (a *Assigner) resolveStandaloneNew(group *model.EntityGroup, display, normalized string) (*Resolution, error) {
	if record, reused, err := a.lookupFullName(group.Type, normalized); err != nil {
		return nil, err
	} else if record != nil {
		return a.resolution(group, record, reused), nil
	}

	record := &model.MappingRecord{
		Type:       group.Type,
		LastName:   display,
		FullName:   display,
		Confidence: group.MaxConfidence(),
	}

	pseudonym, err := a.componentLast(normalized)
	if errors.Is(err, ErrPoolExhausted) {
		a.logger.Warn("Pseudonym pool exhausted, using fallback naming")
		pseudonym, err = a.fallbackName("Person")
		record.Fallback = true
	}
	if err != nil {
		return nil, err
	}

	record.PseudonymLast = pseudonym
	record.PseudonymFull = pseudonym

	a.registerPending(normalized, record)
	return a.resolution(group, record, false), nil
}

// lookupFullName checks pending records first, then the store. Returns a
// nil record when the full name is unknown.
func (a *Assigner) lookupFullName(entityType model.EntityType, normalized string) (*model.MappingRecord, bool, error) {
	if record, ok := a.pendingFull[pendingKey(entityType, normalized)]; ok {
		return record, true, nil
	}

	record, err := a.store.FindMappingByFullName(entityType, normalized)
	if errors.Is(err, database.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	a.reusedRIDs[record.RID] = true
	return record, true, nil
}

// componentFirst maps a real first name component to its pseudonym,
// reusing the component mapping when any other full name already carries
// it.
func (a *Assigner) componentFirst(realFirst string, gender *model.Gender) (string, error) {
	if pseudonym, ok := a.pendingFirst[realFirst]; ok {
		return pseudonym, nil
	}

	siblings, err := a.store.FindMappingsByFirstName(realFirst)
	if err != nil {
		return "", err
	}
	for _, sibling := range siblings {
		if sibling.PseudonymFirst != "" {
			a.pendingFirst[realFirst] = sibling.PseudonymFirst
			return sibling.PseudonymFirst, nil
		}
	}

	for {
		candidate, err := a.pool.NextFirst(gender)
		if err != nil {
			return "", err
		}
		taken, err := a.pseudonymFirstTaken(candidate)
		if err != nil {
			return "", err
		}
		if taken {
			continue
		}
		a.pendingFirst[realFirst] = candidate
		a.pendingPseudoFirst[model.NormalizeName(candidate)] = true
		return candidate, nil
	}
}

// componentLast maps a real last name component to its pseudonym.
func (a *Assigner) componentLast(realLast string) (string, error) {
	if pseudonym, ok := a.pendingLast[realLast]; ok {
		return pseudonym, nil
	}

	siblings, err := a.store.FindMappingsByLastName(realLast)
	if err != nil {
		return "", err
	}
	for _, sibling := range siblings {
		if sibling.PseudonymLast != "" && !sibling.Fallback {
			a.pendingLast[realLast] = sibling.PseudonymLast
			return sibling.PseudonymLast, nil
		}
	}

	for {
		candidate, err := a.pool.NextLast()
		if err != nil {
			return "", err
		}
		taken, err := a.pseudonymLastTaken(candidate)
		if err != nil {
			return "", err
		}
		if taken {
			continue
		}
		a.pendingLast[realLast] = candidate
		a.pendingPseudoLast[model.NormalizeName(candidate)] = true
		return candidate, nil
	}
}

// drawUnique draws whole-unit pseudonyms until one is globally unused.
func (a *Assigner) drawUnique(draw func() (string, error)) (string, error) {
	for {
		candidate, err := draw()
		if err != nil {
			return "", err
		}
		taken, err := a.pseudonymLastTaken(candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			a.pendingPseudoLast[model.NormalizeName(candidate)] = true
			return candidate, nil
		}
	}
}

// fallbackName produces the next free sequential placeholder.
func (a *Assigner) fallbackName(prefix string) (string, error) {
	for {
		a.fallbackSeq++
		candidate := fmt.Sprintf("%s-%04d", prefix, a.fallbackSeq)
		taken, err := a.pseudonymLastTaken(candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			a.pendingPseudoLast[model.NormalizeName(candidate)] = true
			return candidate, nil
		}
	}
}

func (a *Assigner) pseudonymFirstTaken(candidate string) (bool, error) {
	if a.pendingPseudoFirst[model.NormalizeName(candidate)] {
		return true, nil
	}
	return a.store.PseudonymFirstInUse(candidate)
}

func (a *Assigner) pseudonymLastTaken(candidate string) (bool, error) {
	if a.pendingPseudoLast[model.NormalizeName(candidate)] {
		return true, nil
	}
	return a.store.PseudonymLastInUse(candidate)
}

func (a *Assigner) registerPending(normalized string, record *model.MappingRecord) {
	a.pendingFull[pendingKey(record.Type, normalized)] = record
	a.newRecords = append(a.newRecords, record)
}

func (a *Assigner) resolution(group *model.EntityGroup, record *model.MappingRecord, reused bool) *Resolution {
	return &Resolution{
		Group:        group,
		Record:       record,
		Replacements: buildReplacements(group, record),
		Reused:       reused,
	}
}

func pendingKey(entityType model.EntityType, normalized string) string {
	return string(entityType) + "|" + normalized
}

// buildReplacements maps each occurrence to its replacement form: a bare
// last name occurrence gets the pseudonym last name, a bare first name the
// pseudonym first name, everything else the full pseudonym. Honorifics on
// the occurrence are preserved in front of the pseudonym.
func buildReplacements(group *model.EntityGroup, record *model.MappingRecord) []model.Replacement {
	normalizedFirst := model.NormalizeName(record.FirstName)
	normalizedLast := model.NormalizeName(record.LastName)

	replacements := make([]model.Replacement, 0, len(group.Occurrences))
	for _, occurrence := range group.Occurrences {
		normalizedText := model.NormalizeName(occurrence.Text)
		stripped, _ := model.StripHonorific(normalizedText)

		var pseudonym string
		switch {
		case record.PseudonymFirst != "" && stripped == normalizedFirst:
			pseudonym = record.PseudonymFirst
		case record.PseudonymLast != "" && !record.Fallback && normalizedLast != "" && stripped == normalizedLast:
			pseudonym = record.PseudonymLast
		default:
			pseudonym = record.PseudonymFull
		}

		if stripped != normalizedText {
			// Keep the original honorific in front of the pseudonym.
			fields := strings.Fields(occurrence.Text)
			if len(fields) > 1 {
				pseudonym = fields[0] + " " + pseudonym
			}
		}

		replacements = append(replacements, model.Replacement{
			Start:     occurrence.Start,
			End:       occurrence.End,
			Original:  occurrence.Text,
			Pseudonym: pseudonym,
		})
	}

	return replacements
}

// stripDisplayHonorific removes a leading honorific from a surface form
// while keeping the original casing of the rest.
func stripDisplayHonorific(text string) string {
	normalized := model.NormalizeName(text)
	stripped, _ := model.StripHonorific(normalized)
	if stripped == normalized {
		return strings.TrimSpace(text)
	}
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return strings.TrimSpace(text)
	}
	return strings.Join(fields[1:], " ")
}
