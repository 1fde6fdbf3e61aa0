package domain

import (
	"time"
)

// AnonymousName is recorded when the user declines to identify.
const AnonymousName = "Anônimo"

// Media is a single attachment sent with a complaint.
type Media struct {
	MimeType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
	Data     []byte `json:"-"`
}

// Size returns the payload length in bytes.
func (m *Media) Size() int {
	if m == nil {
		return 0
	}
	return len(m.Data)
}

// Complaint is the immutable record of a finished intake.
type Complaint struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Channel     string    `json:"channel"`
	Identified  bool      `json:"identified"`
	Name        string    `json:"name"`
	TaxID       string    `json:"tax_id,omitempty"`
	ProblemType string    `json:"problem_type"`
	Address     string    `json:"address,omitempty"`
	DateNoticed string    `json:"date_noticed"`
	Description string    `json:"description"`
	Department  string    `json:"department"`
	Media       *Media    `json:"media,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ComplaintFromSession snapshots a completed session. The media payload is
// shared, not copied.
func ComplaintFromSession(id, channel string, s *Session, now time.Time) *Complaint {
	identified := s.Identified != nil && *s.Identified
	return &Complaint{
		ID:          id,
		UserID:      s.UserID,
		Channel:     channel,
		Identified:  identified,
		Name:        s.Name,
		TaxID:       s.TaxID,
		ProblemType: s.ProblemType,
		Address:     s.Address,
		DateNoticed: s.DateNoticed,
		Description: s.Description,
		Department:  s.Department,
		Media:       s.Media,
		CreatedAt:   now,
	}
}

// HasMedia returns true if the complaint carries an attachment.
func (c *Complaint) HasMedia() bool {
	return c.Media != nil && len(c.Media.Data) > 0
}
