package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/xuri/excelize/v2"

	alertapp "heatfleet-cloud/internal/alerting/application"
	alerting "heatfleet-cloud/internal/alerting/domain"
	"heatfleet-cloud/internal/observability/metrics"
)

// BuildAlertsXLSX renders an alert list as a workbook with a summary
// sheet and one row per alert.
func BuildAlertsXLSX(siteID string, from, to time.Time, alerts []alerting.Alert) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	alertsSheet := "alerts"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(alertsSheet)

	counts := map[string]int{}
	for _, alert := range alerts {
		counts[alert.Severity]++
	}

	_ = f.SetCellValue(summarySheet, "A1", "Alert Export")
	_ = f.SetCellValue(summarySheet, "A3", "Site")
	_ = f.SetCellValue(summarySheet, "B3", siteID)
	_ = f.SetCellValue(summarySheet, "A4", "From")
	_ = f.SetCellValue(summarySheet, "B4", from.UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A5", "To")
	_ = f.SetCellValue(summarySheet, "B5", to.UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A6", "Total")
	_ = f.SetCellValue(summarySheet, "B6", len(alerts))
	_ = f.SetCellValue(summarySheet, "A7", "Critical")
	_ = f.SetCellValue(summarySheet, "B7", counts[alerting.SeverityCritical])
	_ = f.SetCellValue(summarySheet, "A8", "Major")
	_ = f.SetCellValue(summarySheet, "B8", counts[alerting.SeverityMajor])
	_ = f.SetCellValue(summarySheet, "A9", "Minor")
	_ = f.SetCellValue(summarySheet, "B9", counts[alerting.SeverityMinor])

	headers := []string{"ID", "Device", "Type", "Severity", "Status", "Opened", "Acked By", "Closed", "Metadata"}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(alertsSheet, cell, header)
	}
	for i, alert := range alerts {
		row := i + 2
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("A%d", row), alert.ID)
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("B%d", row), alert.DeviceID)
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("C%d", row), alert.Type)
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("D%d", row), alert.Severity)
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("E%d", row), alert.Status)
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("F%d", row), alert.OpenedAt.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("G%d", row), alert.AckedBy)
		if !alert.ClosedAt.IsZero() {
			_ = f.SetCellValue(alertsSheet, fmt.Sprintf("H%d", row), alert.ClosedAt.UTC().Format(time.RFC3339))
		}
		if len(alert.Metadata) > 0 {
			if raw, err := json.Marshal(alert.Metadata); err == nil {
				_ = f.SetCellValue(alertsSheet, fmt.Sprintf("I%d", row), string(raw))
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportHandler serves the XLSX alert export.
type ExportHandler struct {
	service *alertapp.Service
}

// NewExportHandler constructs an export handler.
func NewExportHandler(service *alertapp.Service) *ExportHandler {
	return &ExportHandler{service: service}
}

// ServeHTTP handles GET /api/v1/exports/alerts.xlsx.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.service == nil {
		http.Error(w, "export not ready", http.StatusServiceUnavailable)
		return
	}
	started := time.Now()

	siteID := r.URL.Query().Get("site_id")
	if siteID == "" {
		http.Error(w, "site_id is required", http.StatusBadRequest)
		return
	}
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	alerts, err := h.service.List(r.Context(), siteID, r.URL.Query().Get("status"), from, to)
	if err != nil {
		metrics.ObserveExport("xlsx", metrics.ResultError, time.Since(started))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	payload, err := BuildAlertsXLSX(siteID, from, to, alerts)
	if err != nil {
		metrics.ObserveExport("xlsx", metrics.ResultError, time.Since(started))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport("xlsx", metrics.ResultSuccess, time.Since(started))

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=alerts-%s.xlsx", siteID))
	_, _ = w.Write(payload)
}
