// Package domain contains core domain types for the Resolve Já intake service.
package domain

import (
	"time"
)

// Step identifies the position of a session in the intake questionnaire.
// The numeric values are part of the observable behaviour: there is no 4.
type Step int

const (
	StepEntry       Step = 0
	StepIdentify    Step = 1
	StepName        Step = 2
	StepTaxID       Step = 3
	StepProblemType Step = 5
	StepAskAddress  Step = 6
	StepAddress     Step = 7
	StepDate        Step = 8
	StepDescription Step = 9
	StepAskMedia    Step = 10
	StepMedia       Step = 11
	StepConfirm     Step = 12
	StepEdit        Step = 13
	StepDone        Step = 14
)

// Defined reports whether s is one of the questionnaire steps.
func (s Step) Defined() bool {
	switch s {
	case StepEntry, StepIdentify, StepName, StepTaxID, StepProblemType,
		StepAskAddress, StepAddress, StepDate, StepDescription,
		StepAskMedia, StepMedia, StepConfirm, StepEdit, StepDone:
		return true
	}
	return false
}

// Terminal reports whether no further questions remain. Undefined steps
// count as terminal.
func (s Step) Terminal() bool {
	return s == StepDone || !s.Defined()
}

// Field names a complaint field the user can revise from the edit menu.
type Field string

// Field values are the exact lowercase labels typed by the user.
const (
	FieldNone        Field = ""
	FieldProblemType Field = "tipo do problema"
	FieldAddress     Field = "endereço"
	FieldDate        Field = "data"
	FieldDescription Field = "descrição"
	FieldMedia       Field = "mídias"
)

// EditFields lists the edit menu options in display order.
var EditFields = []Field{FieldProblemType, FieldAddress, FieldDate, FieldDescription, FieldMedia}

// ParseField maps a lowercased menu answer to a Field.
func ParseField(label string) (Field, bool) {
	for _, f := range EditFields {
		if string(f) == label {
			return f, true
		}
	}
	return FieldNone, false
}

// EditPhase is the sub-state of StepEdit.
type EditPhase int

const (
	// EditInactive means the session is not in the edit step.
	EditInactive EditPhase = iota
	// EditSelect waits for the user to pick a field from the menu.
	EditSelect
	// EditValue waits for the new value of Session.Editing.
	EditValue
)

// Session holds the in-memory state of one user's complaint intake.
type Session struct {
	UserID      string
	Step        Step
	Identified  *bool
	Name        string
	TaxID       string
	ProblemType string
	Address     string
	DateNoticed string
	Description string
	Media       *Media
	Editing     Field
	Department  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewSession returns a session positioned at the identification question.
func NewSession(userID string, now time.Time) *Session {
	return &Session{
		UserID:    userID,
		Step:      StepIdentify,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// EditPhase derives the edit sub-state from the step and the chosen field.
func (s *Session) EditPhase() EditPhase {
	if s.Step != StepEdit {
		return EditInactive
	}
	if s.Editing == FieldNone {
		return EditSelect
	}
	return EditValue
}

// SetIdentified records the answer to the identification question.
func (s *Session) SetIdentified(v bool) {
	s.Identified = &v
}

// Active reports whether the session still has questions pending.
func (s *Session) Active() bool {
	return !s.Step.Terminal()
}
