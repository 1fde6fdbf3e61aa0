// Package store persists completed complaints.
package store

import (
	"context"
	"errors"

	"github.com/ThauanSilva03/Resolve-ja/internal/domain"
)

// ErrNotFound is returned when a complaint does not exist.
var ErrNotFound = errors.New("complaint not found")

// Repository defines the interface for persisting complaint records.
type Repository interface {
	// SaveComplaint inserts a complaint. IDs are unique.
	SaveComplaint(ctx context.Context, c *domain.Complaint) error

	// GetComplaint retrieves a complaint, including media bytes.
	GetComplaint(ctx context.Context, id string) (*domain.Complaint, error)

	// ListComplaintsByUser returns a user's complaints, newest first,
	// without media bytes.
	ListComplaintsByUser(ctx context.Context, userID string, limit int) ([]*domain.Complaint, error)

	// CountByDepartment returns the number of complaints per department.
	CountByDepartment(ctx context.Context) (map[string]int, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
