// Package dialogue implements the intake questionnaire as a step-indexed
// state machine over domain.Session.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ThauanSilva03/Resolve-ja/internal/classifier"
	"github.com/ThauanSilva03/Resolve-ja/internal/domain"
	"github.com/ThauanSilva03/Resolve-ja/internal/validate"
)

var errNoClassifier = errors.New("no classifier configured")

// DownloadFunc fetches the attachment of the message being handled.
type DownloadFunc func(ctx context.Context) (*domain.Media, error)

// Input is one inbound message as seen by the state machine.
type Input struct {
	Text     string // trimmed body
	Lower    string // trimmed, lowercased body
	HasMedia bool
	Download DownloadFunc
}

// NewInput normalizes a raw message body.
func NewInput(body string, hasMedia bool, download DownloadFunc) Input {
	text := strings.TrimSpace(body)
	return Input{
		Text:     text,
		Lower:    strings.ToLower(text),
		HasMedia: hasMedia,
		Download: download,
	}
}

func (in Input) yes() bool { return in.Lower == "sim" }
func (in Input) no() bool  { return in.Lower == "não" || in.Lower == "nao" }

// Outcome is the result of handling one message.
type Outcome struct {
	// Reply is the text to send back. Empty means stay silent.
	Reply string
	// Completed is set when this message finished the questionnaire and
	// the session now carries its department.
	Completed bool
}

func reply(text string) Outcome { return Outcome{Reply: text} }

// Machine advances sessions through the questionnaire.
type Machine struct {
	classifier classifier.Classifier
	logger     *slog.Logger
}

// NewMachine creates a state machine that classifies finished complaints
// with c.
func NewMachine(c classifier.Classifier, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{classifier: c, logger: logger}
}

// Handle applies in to s and returns the reply. The caller must hold the
// session lock.
//
//nolint:gocyclo // The step table is kept in one switch so it reads top to bottom.
func (m *Machine) Handle(ctx context.Context, s *domain.Session, in Input) Outcome {
	switch s.Step {
	case domain.StepEntry:
		s.Step = domain.StepIdentify
		return reply(PromptIdentify)

	case domain.StepIdentify:
		switch {
		case in.yes():
			s.Step = domain.StepName
			s.SetIdentified(true)
			return reply(PromptName)
		case in.no():
			s.Step = domain.StepProblemType
			s.SetIdentified(false)
			s.Name = domain.AnonymousName
			return reply(PromptAnonymous)
		}
		return reply(PromptYesNoStrict)

	case domain.StepName:
		if in.Text == "" {
			return reply(PromptName)
		}
		s.Name = in.Text
		s.Step = domain.StepTaxID
		return reply(PromptTaxID)

	case domain.StepTaxID:
		if !validate.TaxID(in.Text) {
			return reply(PromptTaxIDInvalid)
		}
		s.TaxID = in.Text
		s.Step = domain.StepProblemType
		return reply(PromptProblemType)

	case domain.StepProblemType:
		s.ProblemType = in.Text
		s.Step = domain.StepAskAddress
		return reply(PromptAskAddress)

	case domain.StepAskAddress:
		switch {
		case in.yes():
			s.Step = domain.StepAddress
			return reply(PromptAddress)
		case in.no():
			s.Step = domain.StepDate
			return reply(PromptDate)
		}
		return reply(PromptYesNo)

	case domain.StepAddress:
		s.Address = in.Text
		s.Step = domain.StepDate
		return reply(PromptDate)

	case domain.StepDate:
		if !validate.Date(in.Text) {
			return reply(PromptDateInvalid)
		}
		s.DateNoticed = in.Text
		s.Step = domain.StepDescription
		return reply(PromptDescription)

	case domain.StepDescription:
		s.Description = in.Text
		s.Step = domain.StepAskMedia
		return reply(PromptAskMedia)

	case domain.StepAskMedia:
		switch {
		case in.yes():
			s.Step = domain.StepMedia
			return reply(PromptMedia)
		case in.no():
			s.Step = domain.StepConfirm
			return reply(PromptConfirm)
		}
		return reply(PromptYesNo)

	case domain.StepMedia:
		return m.receiveMedia(ctx, s, in)

	case domain.StepConfirm:
		switch {
		case in.yes():
			s.Step = domain.StepEdit
			s.Editing = domain.FieldNone
			return reply(PromptEditMenu)
		case in.no():
			return m.complete(ctx, s)
		}
		return reply(PromptYesNo)

	case domain.StepEdit:
		return m.edit(s, in)
	}

	return reply(PromptStartNew)
}

func (m *Machine) receiveMedia(ctx context.Context, s *domain.Session, in Input) Outcome {
	if !in.HasMedia || in.Download == nil {
		return reply(PromptMediaMissing)
	}
	media, err := in.Download(ctx)
	if err != nil || media == nil {
		m.logger.Warn("Media download failed", "user_id", s.UserID, "error", err)
		return reply(PromptMediaMissing)
	}
	s.Media = media
	s.Step = domain.StepConfirm
	return reply(PromptMediaReceived)
}

// edit runs both phases of the edit step: choosing a field, then typing
// its new value. Media skips the value phase and reuses the upload step.
func (m *Machine) edit(s *domain.Session, in Input) Outcome {
	switch s.EditPhase() {
	case domain.EditSelect:
		field, ok := domain.ParseField(in.Lower)
		if !ok {
			return reply(PromptEditInvalid)
		}
		switch field {
		case domain.FieldProblemType:
			s.Editing = field
			return reply(PromptEditProblemType)
		case domain.FieldAddress:
			s.Editing = field
			return reply(PromptEditAddress)
		case domain.FieldDate:
			s.Editing = field
			return reply(PromptEditDate)
		case domain.FieldDescription:
			s.Editing = field
			return reply(PromptEditDescription)
		case domain.FieldMedia:
			s.Editing = domain.FieldNone
			s.Step = domain.StepMedia
			return reply(PromptEditMedia)
		}
		return reply(PromptEditInvalid)

	case domain.EditValue:
		// FieldMedia never reaches this phase; it jumps to StepMedia above.
		switch s.Editing {
		case domain.FieldProblemType:
			s.ProblemType = in.Text
		case domain.FieldAddress:
			s.Address = in.Text
		case domain.FieldDate:
			if !validate.Date(in.Text) {
				return reply(PromptDateInvalid)
			}
			s.DateNoticed = in.Text
		case domain.FieldDescription:
			s.Description = in.Text
		}
		s.Editing = domain.FieldNone
		s.Step = domain.StepConfirm
		return reply(PromptEditDone)

	case domain.EditInactive:
	}
	return reply(PromptStartNew)
}

// complete classifies the description. On failure the session stays at
// the confirmation step so that another "não" retries.
func (m *Machine) complete(ctx context.Context, s *domain.Session) Outcome {
	department, err := m.classify(ctx, s.Description)
	if err != nil {
		m.logger.Error("Classification failed", "user_id", s.UserID, "error", err)
		return reply(PromptClassifyFailed)
	}

	s.Department = department
	s.Step = domain.StepDone
	m.logger.Info("Complaint classified", "user_id", s.UserID, "department", department)
	return Outcome{Reply: Summary(s), Completed: true}
}

func (m *Machine) classify(ctx context.Context, description string) (string, error) {
	if m.classifier == nil {
		return "", errNoClassifier
	}
	department, err := m.classifier.Classify(ctx, description)
	if err != nil {
		return "", err
	}
	department = strings.TrimSpace(department)
	if department == "" {
		return "", classifier.ErrEmptyAnswer
	}
	return department, nil
}

// Summary renders the confirmation sent once a complaint is routed.
func Summary(s *domain.Session) string {
	address := s.Address
	if address == "" {
		address = NotInformed
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Sua demanda foi enviada para *%s*.\n\nResumo:\n", s.Department)
	fmt.Fprintf(&b, "🧍 Nome: %s\n", s.Name)
	fmt.Fprintf(&b, "📋 Tipo: %s\n", s.ProblemType)
	fmt.Fprintf(&b, "📍 Endereço: %s\n", address)
	fmt.Fprintf(&b, "📅 Data: %s\n", s.DateNoticed)
	fmt.Fprintf(&b, "📝 Descrição: %s\n", s.Description)
	fmt.Fprintf(&b, "🏛️ Secretaria: %s", s.Department)
	return b.String()
}
