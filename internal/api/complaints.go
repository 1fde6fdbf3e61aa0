package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ThauanSilva03/Resolve-ja/internal/domain"
	"github.com/ThauanSilva03/Resolve-ja/internal/identity"
	"github.com/ThauanSilva03/Resolve-ja/internal/store"
	"github.com/ThauanSilva03/Resolve-ja/internal/transport"
)

const maxListLimit = 200

// OperatorHeader carries the operator token that unlocks other users'
// complaints.
const OperatorHeader = "X-Operator-Token"

// SessionStats reports conversation counts.
type SessionStats interface {
	Stats() (total, active int)
}

// Checker is a named dependency check used by the health endpoint.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler serves the complaint, stats and health endpoints.
type Handler struct {
	repo               store.Repository
	sessions           SessionStats
	checks             []Checker
	operatorToken      string
	healthCheckTimeout time.Duration
	logger             *slog.Logger
}

// NewHandler creates a Handler. Callers only see their own web-chat
// complaints unless they present operatorToken; an empty token disables
// operator access. The repository is always checked by the health
// endpoint; extra checks are appended after it.
func NewHandler(repo store.Repository, sessions SessionStats, operatorToken string, logger *slog.Logger, checks ...Checker) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	all := append([]Checker{{Name: "database", Check: repo.Ping}}, checks...)
	return &Handler{
		repo:               repo,
		sessions:           sessions,
		checks:             all,
		operatorToken:      operatorToken,
		healthCheckTimeout: 5 * time.Second,
		logger:             logger,
	}
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/stats", h.Stats)
		r.Get("/complaints", h.ListComplaints)
		r.Get("/complaints/{id}", h.GetComplaint)
		r.Get("/complaints/{id}/media", h.GetMedia)
	})
}

type mediaView struct {
	MimeType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
	Size     int    `json:"size"`
}

type complaintView struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Channel     string     `json:"channel"`
	Identified  bool       `json:"identified"`
	Name        string     `json:"name"`
	TaxID       string     `json:"tax_id,omitempty"`
	ProblemType string     `json:"problem_type"`
	Address     string     `json:"address,omitempty"`
	DateNoticed string     `json:"date_noticed"`
	Description string     `json:"description"`
	Department  string     `json:"department"`
	Media       *mediaView `json:"media,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func viewOf(c *domain.Complaint) complaintView {
	v := complaintView{
		ID:          c.ID,
		UserID:      c.UserID,
		Channel:     c.Channel,
		Identified:  c.Identified,
		Name:        c.Name,
		TaxID:       MaskTaxID(c.TaxID),
		ProblemType: c.ProblemType,
		Address:     c.Address,
		DateNoticed: c.DateNoticed,
		Description: c.Description,
		Department:  c.Department,
		CreatedAt:   c.CreatedAt,
	}
	if c.Media != nil {
		v.Media = &mediaView{MimeType: c.Media.MimeType, Filename: c.Media.Filename, Size: c.Media.Size()}
	}
	return v
}

// MaskTaxID hides all but the last two digits of a CPF.
func MaskTaxID(taxID string) string {
	if taxID == "" {
		return ""
	}
	digits := 0
	for _, r := range taxID {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	var b strings.Builder
	seen := 0
	for _, r := range taxID {
		if r >= '0' && r <= '9' {
			seen++
			if seen <= digits-2 {
				b.WriteRune('*')
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

// GetComplaint returns one complaint without its media payload.
func (h *Handler) GetComplaint(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, viewOf(c))
}

// GetMedia streams the attachment of a complaint.
func (h *Handler) GetMedia(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if c.Media == nil || len(c.Media.Data) == 0 {
		Error(w, http.StatusNotFound, "complaint has no media")
		return
	}
	mimeType := c.Media.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(c.Media.Data)))
	if c.Media.Filename != "" {
		w.Header().Set("Content-Disposition", `inline; filename="`+strings.ReplaceAll(c.Media.Filename, `"`, "")+`"`)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(c.Media.Data); err != nil {
		h.logger.Debug("Failed to write media", "complaint_id", c.ID, "error", err)
	}
}

// caller returns the web-chat identity of the request, or "".
func caller(r *http.Request) string {
	anonID := identity.UserIDFromContext(r.Context())
	if anonID == "" {
		return ""
	}
	return transport.Address(transport.ChannelWeb, anonID)
}

func (h *Handler) isOperator(r *http.Request) bool {
	if h.operatorToken == "" {
		return false
	}
	got := r.Header.Get(OperatorHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.operatorToken)) == 1
}

// canRead reports whether the request may see complaints filed by userID.
func (h *Handler) canRead(r *http.Request, userID string) bool {
	if h.isOperator(r) {
		return true
	}
	self := caller(r)
	return self != "" && self == userID
}

// lookup loads the complaint named in the URL. Complaints the caller may
// not read are reported as missing.
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*domain.Complaint, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		Error(w, http.StatusBadRequest, "id is required")
		return nil, false
	}
	c, err := h.repo.GetComplaint(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "complaint not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("Failed to load complaint", "complaint_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load complaint")
		return nil, false
	}
	if !h.canRead(r, c.UserID) {
		Error(w, http.StatusNotFound, "complaint not found")
		return nil, false
	}
	return c, true
}

// ListComplaints lists the caller's own web-chat complaints. Operators may
// name any identity with ?user=.
func (h *Handler) ListComplaints(w http.ResponseWriter, r *http.Request) {
	user := strings.TrimSpace(r.URL.Query().Get("user"))
	if user == "" {
		user = caller(r)
		if user == "" {
			Error(w, http.StatusBadRequest, "user is required")
			return
		}
	}
	if !h.canRead(r, user) {
		Error(w, http.StatusForbidden, "forbidden")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	complaints, err := h.repo.ListComplaintsByUser(r.Context(), user, limit)
	if err != nil {
		h.logger.Error("Failed to list complaints", "user_id", user, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list complaints")
		return
	}

	views := make([]complaintView, 0, len(complaints))
	for _, c := range complaints {
		views = append(views, viewOf(c))
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    user,
		"complaints": views,
	})
}

// Stats reports open sessions and complaints per department.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.repo.CountByDepartment(r.Context())
	if err != nil {
		h.logger.Error("Failed to count complaints", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}

	var sessionsTotal, sessionsActive int
	if h.sessions != nil {
		sessionsTotal, sessionsActive = h.sessions.Stats()
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"sessions": map[string]int{
			"total":  sessionsTotal,
			"active": sessionsActive,
		},
		"complaints": map[string]interface{}{
			"total":         total,
			"by_department": counts,
		},
	})
}

// Health returns the health status of the API and its dependencies.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			h.logger.Error("Health check failed", "check", c.Name, "error", err)
			checks[c.Name] = "unreachable"
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
			continue
		}
		checks[c.Name] = "ok"
	}

	JSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}
