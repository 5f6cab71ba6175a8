package session

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/siherrmann/pseudonymizer/model"
)

// command is one applied decision with what it replaced, so undo can
// restore the exact prior state.
type command struct {
	groupRID uuid.UUID
	decision model.UserDecision
	previous *model.UserDecision
}

// Session is a validation session over entity groups: an explicit command
// log of reviewer decisions plus a cursor. Undo and redo are pure moves
// over that log, independent of any rendering layer. A new decision after
// undo truncates the redo tail, like an editor history.
type Session struct {
	groups    []*model.EntityGroup
	byRID     map[uuid.UUID]*model.EntityGroup
	log       []command
	cursor    int
	finalized bool
}

// NewSession starts a validation session over the given groups. The groups
// are decided in place, callers keep their review order.
func NewSession(groups []*model.EntityGroup) *Session {
	byRID := make(map[uuid.UUID]*model.EntityGroup, len(groups))
	for _, group := range groups {
		byRID[group.RID] = group
	}
	return &Session{
		groups: groups,
		byRID:  byRID,
	}
}

// Groups returns the session's groups in review order.
func (s *Session) Groups() []*model.EntityGroup {
	return s.groups
}

// Decide records a decision for a group. Deciding after one or more undos
// discards the undone tail.
func (s *Session) Decide(groupRID uuid.UUID, decision model.UserDecision) error {
	if s.finalized {
		return fmt.Errorf("session is finalized")
	}
	group, ok := s.byRID[groupRID]
	if !ok {
		return fmt.Errorf("unknown group %s", groupRID)
	}

	s.log = s.log[:s.cursor]
	s.log = append(s.log, command{
		groupRID: groupRID,
		decision: decision,
		previous: group.Decision,
	})
	s.cursor++

	applied := decision
	group.Decision = &applied
	return nil
}

// Undo reverts the most recent decision. Reports whether anything changed.
func (s *Session) Undo() bool {
	if s.finalized || s.cursor == 0 {
		return false
	}
	s.cursor--
	cmd := s.log[s.cursor]
	s.byRID[cmd.groupRID].Decision = cmd.previous
	return true
}

// Redo reapplies the most recently undone decision. Reports whether
// anything changed.
func (s *Session) Redo() bool {
	if s.finalized || s.cursor >= len(s.log) {
		return false
	}
	cmd := s.log[s.cursor]
	s.cursor++
	applied := cmd.decision
	s.byRID[cmd.groupRID].Decision = &applied
	return true
}

// Modifications counts the currently applied decisions, for the operation
// log's user modification count.
func (s *Session) Modifications() int {
	return s.cursor
}

// Finalize closes the session and returns the groups with their effective
// decisions. Groups without a decision fall to the default accept policy
// downstream, ambiguous groups without a decision stay unresolved.
func (s *Session) Finalize() []*model.EntityGroup {
	s.finalized = true
	return s.groups
}
