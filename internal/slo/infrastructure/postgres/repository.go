package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const defaultOpsMetricsTable = "ops_metrics"

// Repository is a Postgres repository for the append-only request log
// behind the burn-rate monitor.
type Repository struct {
	db    *sql.DB
	table string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*Repository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *Repository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewRepository constructs a repository.
func NewRepository(db *sql.DB, opts ...RepositoryOption) *Repository {
	repo := &Repository{db: db, table: defaultOpsMetricsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Record appends one request outcome.
func (r *Repository) Record(ctx context.Context, endpoint string, ok bool, ts time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("ops metrics repo: nil db")
	}
	if endpoint == "" {
		return errors.New("ops metrics repo: endpoint required")
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	query := fmt.Sprintf(`INSERT INTO %s (endpoint, ok, ts) VALUES ($1, $2, $3)`, r.table)
	_, err := r.db.ExecContext(ctx, query, endpoint, ok, ts.UTC())
	return err
}

// CountSince returns total and successful request counts since the
// given instant.
func (r *Repository) CountSince(ctx context.Context, since time.Time) (int, int, error) {
	if r == nil || r.db == nil {
		return 0, 0, errors.New("ops metrics repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT COUNT(*), COUNT(*) FILTER (WHERE ok)
FROM %s
WHERE ts >= $1`, r.table)

	var total, ok int
	if err := r.db.QueryRowContext(ctx, query, since.UTC()).Scan(&total, &ok); err != nil {
		return 0, 0, err
	}
	return total, ok, nil
}

// PruneBefore drops request log rows older than the cutoff and reports
// how many were removed.
func (r *Repository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("ops metrics repo: nil db")
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE ts < $1`, r.table)
	result, err := r.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
