package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	incidents "heatfleet-cloud/internal/incidents/domain"
	incidentpostgres "heatfleet-cloud/internal/incidents/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestReplaceWindow_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if !tableExists(db, "incidents") {
		t.Skip("incidents missing; run migrations")
	}

	ctx := context.Background()
	siteID := "site-it-incidents"
	from := time.Date(2026, time.February, 11, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	_, _ = db.ExecContext(ctx, "DELETE FROM incidents WHERE site_id = $1", siteID)

	seed := func(id string, startedAt, lastAlertAt time.Time) {
		t.Helper()
		_, err := db.ExecContext(ctx, `
INSERT INTO incidents (id, site_id, started_at, last_alert_at, resolved_at, alert_count, max_severity, alert_ids)
VALUES ($1, $2, $3, $4, NULL, 1, 'major', '["alert-1"]')`, id, siteID, startedAt, lastAlertAt)
		if err != nil {
			t.Fatalf("seed incident %s: %v", id, err)
		}
	}

	// A cluster that started before the window edge but ran into it, and
	// one fully before the window.
	seed("inc-straddle", from.Add(-30*time.Minute), from.Add(15*time.Minute))
	seed("inc-history", from.Add(-3*time.Hour), from.Add(-2*time.Hour))

	repo := incidentpostgres.NewRepository(db)
	fresh := incidents.Incident{
		ID:          incidents.BuildIncidentID(siteID, from.Add(5*time.Minute)),
		SiteID:      siteID,
		StartedAt:   from.Add(5 * time.Minute),
		LastAlertAt: from.Add(15 * time.Minute),
		AlertCount:  2,
		MaxSeverity: "major",
		AlertIDs:    []string{"alert-1", "alert-2"},
	}
	if err := repo.ReplaceWindow(ctx, from, to, []incidents.Incident{fresh}); err != nil {
		t.Fatalf("replace window: %v", err)
	}

	list, err := repo.List(ctx, siteID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("listed %d incidents, want 2", len(list))
	}
	ids := map[string]bool{}
	for _, incident := range list {
		ids[incident.ID] = true
	}
	if ids["inc-straddle"] {
		t.Fatal("stale straddling incident should be replaced")
	}
	if !ids["inc-history"] {
		t.Fatal("incident fully before the window should survive")
	}
	if !ids[fresh.ID] {
		t.Fatalf("fresh incident %s missing from %v", fresh.ID, ids)
	}
}

func tableExists(db *sql.DB, table string) bool {
	var exists bool
	err := db.QueryRow(`
SELECT EXISTS (
	SELECT 1
	FROM information_schema.tables
	WHERE table_schema = 'public' AND table_name = $1
)`, table).Scan(&exists)
	if err != nil {
		return false
	}
	return exists
}
