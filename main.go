package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	alertapp "heatfleet-cloud/internal/alerting/application"
	alertrepo "heatfleet-cloud/internal/alerting/infrastructure/postgres"
	alerthttp "heatfleet-cloud/internal/alerting/interfaces/http"
	alertnotify "heatfleet-cloud/internal/alerting/notify"
	"heatfleet-cloud/internal/audit"
	"heatfleet-cloud/internal/auth"
	baselineapp "heatfleet-cloud/internal/baseline/application"
	baselinerepo "heatfleet-cloud/internal/baseline/infrastructure/postgres"
	"heatfleet-cloud/internal/eventing"
	heartbeatapp "heatfleet-cloud/internal/heartbeat/application"
	incidentapp "heatfleet-cloud/internal/incidents/application"
	incidentrepo "heatfleet-cloud/internal/incidents/infrastructure/postgres"
	incidenthttp "heatfleet-cloud/internal/incidents/interfaces/http"
	masterdatarepo "heatfleet-cloud/internal/masterdata/infrastructure/postgres"
	masterdatahttp "heatfleet-cloud/internal/masterdata/interfaces/http"
	"heatfleet-cloud/internal/observability/metrics"
	"heatfleet-cloud/internal/scheduler"
	sloapp "heatfleet-cloud/internal/slo/application"
	slorepo "heatfleet-cloud/internal/slo/infrastructure/postgres"
	slohttp "heatfleet-cloud/internal/slo/interfaces/http"
	telemetryevents "heatfleet-cloud/internal/telemetry/application/events"
	telemetryrepo "heatfleet-cloud/internal/telemetry/infrastructure/postgres"
	telemetryhttp "heatfleet-cloud/internal/telemetry/interfaces/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	telemetryRepo := telemetryrepo.NewRepository(db)
	deviceRepo := masterdatarepo.NewDeviceRepository(db)
	baselineRepo := baselinerepo.NewRepository(db)
	alertRepo := alertrepo.NewAlertRepository(db)
	incidentRepo := incidentrepo.NewRepository(db)
	requestLog := slorepo.NewRepository(db)

	thresholds, err := alertapp.LoadThresholds()
	if err != nil {
		logger.Printf("alerting config error, using defaults where unset: %v", err)
	}

	alertBroker := alerthttp.NewSSEBroker()
	alertNotifiers := []alertapp.AlertNotifier{alertBroker}
	if cfg.AlertWebhookURL != "" {
		channel, err := alertnotify.NewWebhookChannel(cfg.AlertWebhookURL)
		if err != nil {
			logger.Fatalf("alert webhook error: %v", err)
		}
		tpl, err := alertnotify.NewTemplate(cfg.AlertNotifyTemplate)
		if err != nil {
			logger.Fatalf("alert template error: %v", err)
		}
		notifier, err := alertnotify.NewNotifier(alertRepo, deviceRepo, channel, tpl,
			alertnotify.WithEscalation(cfg.AlertEscalationAfter),
			alertnotify.WithCooldown(cfg.AlertNotifyCooldown),
			alertnotify.WithDedupeWindow(cfg.AlertNotifyDedupeWindow),
			alertnotify.WithRequestTimeout(cfg.AlertNotifyTimeout),
		)
		if err != nil {
			logger.Fatalf("alert notifier error: %v", err)
		}
		alertNotifiers = append(alertNotifiers, notifier)
	}
	notifier := alertnotify.NewMultiNotifier(alertNotifiers...)

	alertService, err := alertapp.NewService(alertRepo, baselineRepo, telemetryRepo, deviceRepo, thresholds, logger,
		alertapp.WithNotifier(notifier))
	if err != nil {
		logger.Fatalf("alert service error: %v", err)
	}

	bus := eventing.NewInMemoryBus()
	bus.Subscribe(eventing.EventTypeOf[telemetryevents.TelemetryReceived](), func(ctx context.Context, event any) error {
		evt, ok := event.(telemetryevents.TelemetryReceived)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		return alertService.Evaluate(ctx, evt.Sample, evt.Derived)
	})

	baselineService, err := baselineapp.NewRecomputeService(telemetryRepo, baselineRepo, logger,
		baselineapp.WithWindow(cfg.BaselineWindow))
	if err != nil {
		logger.Fatalf("baseline service error: %v", err)
	}
	heartbeatService, err := heartbeatapp.NewService(deviceRepo, alertRepo, logger,
		heartbeatapp.WithWarnAfter(cfg.HeartbeatWarnAfter),
		heartbeatapp.WithCriticalAfter(cfg.HeartbeatCriticalAfter),
		heartbeatapp.WithNotifier(notifier))
	if err != nil {
		logger.Fatalf("heartbeat service error: %v", err)
	}
	incidentService, err := incidentapp.NewService(alertRepo, incidentRepo, logger)
	if err != nil {
		logger.Fatalf("incident service error: %v", err)
	}
	burnMonitor, err := sloapp.NewMonitor(requestLog, alertRepo, logger,
		sloapp.WithNotifier(notifier),
		sloapp.WithPruner(requestLog))
	if err != nil {
		logger.Fatalf("burn monitor error: %v", err)
	}

	sweeps, err := scheduler.New(logger, []scheduler.Entry{
		{Name: "baseline_recompute", DailyAt: cfg.BaselineDailyAt, Run: func(ctx context.Context, now time.Time) error {
			rows, err := baselineService.Recompute(ctx, now)
			if err != nil {
				return err
			}
			metrics.SetBaselineRows(rows)
			return nil
		}},
		{Name: "heartbeat_sweep", Every: 10 * time.Minute, Run: heartbeatService.Sweep},
		{Name: "incident_sweep", Every: 5 * time.Minute, Run: func(ctx context.Context, now time.Time) error {
			_, err := incidentService.Sweep(ctx, now)
			return err
		}},
		{Name: "ingest_burn_check", Every: 2 * time.Minute, Run: func(ctx context.Context, now time.Time) error {
			_, err := burnMonitor.Check(ctx, now)
			return err
		}},
	})
	if err != nil {
		logger.Fatalf("scheduler error: %v", err)
	}
	go sweeps.Start(context.Background())

	ingestHandler, err := telemetryhttp.NewIngestHandler(telemetryRepo, deviceRepo, logger,
		telemetryhttp.WithBus(bus),
		telemetryhttp.WithRequestLog(requestLog))
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}
	alertHandler, err := alerthttp.NewHandler(alertService, alerthttp.WithAudit(auditRepo))
	if err != nil {
		logger.Fatalf("alert handler error: %v", err)
	}
	incidentHandler, err := incidenthttp.NewHandler(incidentRepo)
	if err != nil {
		logger.Fatalf("incident handler error: %v", err)
	}
	statusHandler, err := slohttp.NewStatusHandler(burnMonitor)
	if err != nil {
		logger.Fatalf("slo status handler error: %v", err)
	}
	devicesHandler, err := masterdatahttp.NewDevicesHandler(deviceRepo)
	if err != nil {
		logger.Fatalf("devices handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/api/v1/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/ingest/telemetry", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/api/v1/alerts", alertHandler)
	mux.Handle("/api/v1/alerts/", alertHandler)
	mux.Handle("/api/v1/alerts/stream", alerthttp.NewStreamHandler(alertBroker))
	mux.Handle("/api/v1/incidents", incidentHandler)
	mux.Handle("/api/v1/slo/ingest", statusHandler)
	mux.Handle("/api/v1/devices", devicesHandler)
	mux.Handle("/api/v1/exports/alerts.xlsx", alerthttp.NewExportHandler(alertService))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL             string
	HTTPAddr                string
	JWTSecret               string
	IngestSecret            string
	IngestSkewSeconds       int
	AlertWebhookURL         string
	AlertNotifyTemplate     string
	AlertEscalationAfter    time.Duration
	AlertNotifyCooldown     time.Duration
	AlertNotifyDedupeWindow time.Duration
	AlertNotifyTimeout      time.Duration
	BaselineDailyAt         string
	BaselineWindow          time.Duration
	HeartbeatWarnAfter      time.Duration
	HeartbeatCriticalAfter  time.Duration
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:             getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:                getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:               getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:            getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds:       getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
		AlertWebhookURL:         getenvDefault("ALERT_WEBHOOK_URL", ""),
		AlertNotifyTemplate:     getenvDefault("ALERT_NOTIFY_TEMPLATE", ""),
		AlertEscalationAfter:    getenvDuration("ALERT_ESCALATION_AFTER", 0),
		AlertNotifyCooldown:     getenvDuration("ALERT_NOTIFY_COOLDOWN", 0),
		AlertNotifyDedupeWindow: getenvDuration("ALERT_NOTIFY_DEDUP_WINDOW", 0),
		AlertNotifyTimeout:      getenvDuration("ALERT_NOTIFY_TIMEOUT", 5*time.Second),
		BaselineDailyAt:         getenvDefault("BASELINE_DAILY_AT", "02:30"),
		BaselineWindow:          getenvDuration("BASELINE_WINDOW", 7*24*time.Hour),
		HeartbeatWarnAfter:      getenvDuration("HEARTBEAT_WARN_AFTER", 10*time.Minute),
		HeartbeatCriticalAfter:  getenvDuration("HEARTBEAT_CRITICAL_AFTER", 30*time.Minute),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps the SSE stream working through the logging wrapper.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
