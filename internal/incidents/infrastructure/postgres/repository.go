package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	incidents "heatfleet-cloud/internal/incidents/domain"
)

const defaultIncidentTable = "incidents"

// Repository is a Postgres repository for materialized incidents.
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
	repo := &Repository{db: db, table: defaultIncidentTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// ReplaceWindow atomically swaps the incidents touching [from, to) for
// the freshly clustered set. Matching on last_alert_at also removes the
// stale row of a cluster that started before the window edge; only
// incidents fully before the window survive as frozen history.
func (r *Repository) ReplaceWindow(ctx context.Context, from, to time.Time, list []incidents.Incident) error {
	if r == nil || r.db == nil {
		return errors.New("incident repo: nil db")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE last_alert_at >= $1 AND started_at < $2`, r.table)
	if _, err := tx.ExecContext(ctx, deleteQuery, from.UTC(), to.UTC()); err != nil {
		_ = tx.Rollback()
		return err
	}

	insertQuery := fmt.Sprintf(`
INSERT INTO %s (
	id, site_id, started_at, last_alert_at, resolved_at,
	alert_count, max_severity, alert_ids
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)`, r.table)

	stmt, err := tx.PrepareContext(ctx, insertQuery)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, incident := range list {
		if incident.ID == "" || incident.StartedAt.IsZero() {
			_ = tx.Rollback()
			return errors.New("incident repo: invalid incident row")
		}
		alertIDs, err := json.Marshal(incident.AlertIDs)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			incident.ID,
			incident.SiteID,
			incident.StartedAt.UTC(),
			incident.LastAlertAt.UTC(),
			nullableTime(incident.ResolvedAt),
			incident.AlertCount,
			incident.MaxSeverity,
			alertIDs,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// List returns incidents ordered most recent first, optionally filtered
// by site.
func (r *Repository) List(ctx context.Context, siteID string, limit int) ([]incidents.Incident, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("incident repo: nil db")
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := fmt.Sprintf(`
SELECT id, site_id, started_at, last_alert_at, resolved_at,
	alert_count, max_severity, alert_ids
FROM %s`, r.table)
	args := []any{}
	if siteID != "" {
		query += " WHERE site_id = $1"
		args = append(args, siteID)
	}
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT %d", limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []incidents.Incident
	for rows.Next() {
		var incident incidents.Incident
		var resolvedAt sql.NullTime
		var alertIDs []byte
		if err := rows.Scan(
			&incident.ID,
			&incident.SiteID,
			&incident.StartedAt,
			&incident.LastAlertAt,
			&resolvedAt,
			&incident.AlertCount,
			&incident.MaxSeverity,
			&alertIDs,
		); err != nil {
			return nil, err
		}
		incident.StartedAt = incident.StartedAt.UTC()
		incident.LastAlertAt = incident.LastAlertAt.UTC()
		if resolvedAt.Valid {
			incident.ResolvedAt = resolvedAt.Time.UTC()
		}
		if len(alertIDs) > 0 {
			if err := json.Unmarshal(alertIDs, &incident.AlertIDs); err != nil {
				return nil, err
			}
		}
		result = append(result, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func nullableTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value, Valid: true}
}
