package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	alerting "heatfleet-cloud/internal/alerting/domain"
	alertpostgres "heatfleet-cloud/internal/alerting/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestAlertLifecycle_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if !tableExists(db, "alerts") {
		t.Skip("alerts missing; run migrations")
	}

	ctx := context.Background()
	deviceID := "device-it"
	siteID := "site-it"
	openedAt := time.Date(2026, time.February, 10, 8, 0, 0, 0, time.UTC)

	_, _ = db.ExecContext(ctx, "DELETE FROM alerts WHERE device_id = $1", deviceID)

	repo := alertpostgres.NewAlertRepository(db)

	alert := &alerting.Alert{
		ID:       alerting.BuildAlertID(deviceID, alerting.TypeOverheat, openedAt),
		DeviceID: deviceID,
		SiteID:   siteID,
		Type:     alerting.TypeOverheat,
		Severity: alerting.SeverityMajor,
		Status:   alerting.StatusOpen,
		OpenedAt: openedAt,
		Metadata: map[string]any{"z": 3.4},
	}
	inserted, err := repo.Create(ctx, alert)
	if err != nil {
		t.Fatalf("create alert: %v", err)
	}
	if !inserted {
		t.Fatal("expected first create to insert")
	}

	duplicate := *alert
	duplicate.ID = alerting.BuildAlertID(deviceID, alerting.TypeOverheat, openedAt.Add(time.Minute))
	duplicate.OpenedAt = openedAt.Add(time.Minute)
	inserted, err = repo.Create(ctx, &duplicate)
	if err != nil {
		t.Fatalf("create duplicate: %v", err)
	}
	if inserted {
		t.Fatal("active slot should reject a second open for the same device and type")
	}

	active, err := repo.FindActive(ctx, deviceID, alerting.TypeOverheat)
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if active == nil || active.ID != alert.ID {
		t.Fatalf("active = %+v, want %s", active, alert.ID)
	}

	ackedAt := openedAt.Add(5 * time.Minute)
	if err := repo.MarkAcknowledged(ctx, alert.ID, "operator-it", ackedAt); err != nil {
		t.Fatalf("ack: %v", err)
	}
	acked, err := repo.GetByID(ctx, alert.ID)
	if err != nil {
		t.Fatalf("get acked: %v", err)
	}
	if acked.Status != alerting.StatusAck || acked.AckedBy != "operator-it" {
		t.Fatalf("acked = %+v", acked)
	}

	closedAt := openedAt.Add(20 * time.Minute)
	if err := repo.MarkClosed(ctx, alert.ID, closedAt); err != nil {
		t.Fatalf("close: %v", err)
	}
	active, err = repo.FindActive(ctx, deviceID, alerting.TypeOverheat)
	if err != nil {
		t.Fatalf("find active after close: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active alert after close, got %+v", active)
	}

	reopened := &alerting.Alert{
		ID:       alerting.BuildAlertID(deviceID, alerting.TypeOverheat, closedAt.Add(time.Hour)),
		DeviceID: deviceID,
		SiteID:   siteID,
		Type:     alerting.TypeOverheat,
		Severity: alerting.SeverityMajor,
		Status:   alerting.StatusOpen,
		OpenedAt: closedAt.Add(time.Hour),
	}
	inserted, err = repo.Create(ctx, reopened)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !inserted {
		t.Fatal("closed alert should free the active slot for a reopen")
	}

	list, err := repo.ListBySite(ctx, siteID, "", openedAt.Add(-time.Hour), closedAt.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("list by site: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("listed %d alerts, want 2", len(list))
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
