package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/cwygoda/audiodrop/internal/domain"
	_ "modernc.org/sqlite"
)

// Timestamps are stored as unix nanoseconds so the upsert guard can compare
// them numerically.
const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    url        TEXT PRIMARY KEY,
    id         TEXT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'Pending',
    title      TEXT NOT NULL DEFAULT '',
    thumbnail  TEXT NOT NULL DEFAULT '',
    filename   TEXT NOT NULL DEFAULT '',
    basename   TEXT NOT NULL DEFAULT '',
    error      TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
`

// Journal implements domain.JobJournal using SQLite. One row is kept per
// source URL; a newer submission replaces the older row.
type Journal struct {
	db *sql.DB
}

// New creates a new SQLite journal, initializing the schema if needed.
func New(dbPath string) (*Journal, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// Writes come from request goroutines and the outcome consumer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Journal{db: db}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Save upserts a job. A write older than the stored row is ignored, so
// out-of-order saves cannot roll a job back.
func (j *Journal) Save(ctx context.Context, job domain.Job) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO jobs (url, id, status, title, thumbnail, filename, basename, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET
		     id = excluded.id,
		     status = excluded.status,
		     title = excluded.title,
		     thumbnail = excluded.thumbnail,
		     filename = excluded.filename,
		     basename = excluded.basename,
		     error = excluded.error,
		     created_at = excluded.created_at,
		     updated_at = excluded.updated_at
		 WHERE excluded.updated_at >= jobs.updated_at`,
		job.URL, job.ID, string(job.Status), job.Title, job.Thumbnail, job.Filename, job.Basename,
		nullString(job.Error), job.CreatedAt.UnixNano(), job.UpdatedAt.UnixNano(),
	)
	return err
}

// Load returns all jobs ordered by creation time.
func (j *Journal) Load(ctx context.Context) ([]domain.Job, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, url, status, title, thumbnail, filename, basename, COALESCE(error, ''), created_at, updated_at
		 FROM jobs ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// get retrieves the job recorded for a source URL.
func (j *Journal) get(ctx context.Context, url string) (*domain.Job, error) {
	row := j.db.QueryRowContext(ctx,
		`SELECT id, url, status, title, thumbnail, filename, basename, COALESCE(error, ''), created_at, updated_at
		 FROM jobs WHERE url = ?`, url,
	)
	return scanJob(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var job domain.Job
	var status string
	var created, updated int64
	err := row.Scan(&job.ID, &job.URL, &status, &job.Title, &job.Thumbnail, &job.Filename, &job.Basename,
		&job.Error, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.CreatedAt = time.Unix(0, created)
	job.UpdatedAt = time.Unix(0, updated)
	return &job, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
