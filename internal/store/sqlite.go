package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ThauanSilva03/Resolve-ja/internal/domain"
	"github.com/ThauanSilva03/Resolve-ja/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	maxWriteRetries = 3
	baseRetryDelay  = 100 * time.Millisecond
	defaultPageSize = 50
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS complaints (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		channel TEXT NOT NULL,
		identified INTEGER NOT NULL,
		name TEXT NOT NULL,
		tax_id TEXT,
		problem_type TEXT NOT NULL,
		address TEXT,
		date_noticed TEXT NOT NULL,
		description TEXT NOT NULL,
		department TEXT NOT NULL,
		media_mime TEXT,
		media_filename TEXT,
		media_data BLOB,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_complaints_user ON complaints(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_complaints_department ON complaints(department);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveComplaint inserts c. It retries with exponential backoff while the
// database is busy.
func (s *SQLiteStore) SaveComplaint(ctx context.Context, c *domain.Complaint) error {
	query := `
	INSERT INTO complaints (
		id, user_id, channel, identified, name, tax_id, problem_type, address,
		date_noticed, description, department, media_mime, media_filename, media_data, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var mime, filename, data any
	if c.Media != nil {
		mime = c.Media.MimeType
		filename = nullable(c.Media.Filename)
		data = c.Media.Data
	}

	attempt := 0
	err := shared.RetryOnConflict(ctx, maxWriteRetries, baseRetryDelay, func() error {
		attempt++
		_, err := s.db.ExecContext(ctx, query,
			c.ID, c.UserID, c.Channel, c.Identified, c.Name, nullable(c.TaxID),
			c.ProblemType, nullable(c.Address), c.DateNoticed, c.Description,
			c.Department, mime, filename, data, c.CreatedAt.Unix(),
		)
		if err != nil && shared.IsSQLiteConflictError(err) {
			slog.Debug("SaveComplaint failed with SQLITE_BUSY, retrying", "complaint_id", c.ID, "attempt", attempt)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("insert complaint %s after %d attempts: %w", c.ID, attempt, err)
	}
	return nil
}

// Record implements the dispatcher's Recorder.
func (s *SQLiteStore) Record(ctx context.Context, c *domain.Complaint) error {
	return s.SaveComplaint(ctx, c)
}

// GetComplaint retrieves a complaint by ID.
func (s *SQLiteStore) GetComplaint(ctx context.Context, id string) (*domain.Complaint, error) {
	query := `
		SELECT id, user_id, channel, identified, name, tax_id, problem_type, address,
		       date_noticed, description, department, media_mime, media_filename, media_data, created_at
		FROM complaints WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)

	var c domain.Complaint
	var taxID, address, mime, filename sql.NullString
	var data []byte
	var createdAt int64

	err := row.Scan(
		&c.ID, &c.UserID, &c.Channel, &c.Identified, &c.Name, &taxID, &c.ProblemType, &address,
		&c.DateNoticed, &c.Description, &c.Department, &mime, &filename, &data, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan complaint row: %w", err)
	}

	c.TaxID = taxID.String
	c.Address = address.String
	c.CreatedAt = time.Unix(createdAt, 0)
	if mime.Valid {
		c.Media = &domain.Media{MimeType: mime.String, Filename: filename.String, Data: data}
	}
	return &c, nil
}

// ListComplaintsByUser returns up to limit complaints for userID, newest first.
func (s *SQLiteStore) ListComplaintsByUser(ctx context.Context, userID string, limit int) ([]*domain.Complaint, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	query := `
		SELECT id, user_id, channel, identified, name, tax_id, problem_type, address,
		       date_noticed, description, department, media_mime, media_filename, created_at
		FROM complaints WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query complaints: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close complaint rows", "error", closeErr)
		}
	}()

	var out []*domain.Complaint
	for rows.Next() {
		var c domain.Complaint
		var taxID, address, mime, filename sql.NullString
		var createdAt int64

		if err := rows.Scan(
			&c.ID, &c.UserID, &c.Channel, &c.Identified, &c.Name, &taxID, &c.ProblemType, &address,
			&c.DateNoticed, &c.Description, &c.Department, &mime, &filename, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan complaint row: %w", err)
		}
		c.TaxID = taxID.String
		c.Address = address.String
		c.CreatedAt = time.Unix(createdAt, 0)
		if mime.Valid {
			c.Media = &domain.Media{MimeType: mime.String, Filename: filename.String}
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate complaints: %w", err)
	}
	return out, nil
}

// CountByDepartment returns complaint totals keyed by department.
func (s *SQLiteStore) CountByDepartment(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT department, COUNT(*) FROM complaints GROUP BY department`)
	if err != nil {
		return nil, fmt.Errorf("count complaints: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close department rows", "error", closeErr)
		}
	}()

	counts := make(map[string]int)
	for rows.Next() {
		var department string
		var n int
		if err := rows.Scan(&department, &n); err != nil {
			return nil, fmt.Errorf("scan department count: %w", err)
		}
		counts[department] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate department counts: %w", err)
	}
	return counts, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
