package incidents

import (
	"crypto/sha1"
	"encoding/hex"
	"time"

	alerting "heatfleet-cloud/internal/alerting/domain"
)

// DefaultGap is the maximum quiet period between alerts that still
// belong to the same incident.
const DefaultGap = 10 * time.Minute

// Incident is a site-scoped cluster of alerts close together in time.
type Incident struct {
	ID          string    `json:"id"`
	SiteID      string    `json:"site_id"`
	StartedAt   time.Time `json:"started_at"`
	LastAlertAt time.Time `json:"last_alert_at"`
	ResolvedAt  time.Time `json:"resolved_at,omitempty"`
	AlertCount  int       `json:"alert_count"`
	MaxSeverity string    `json:"max_severity"`
	AlertIDs    []string  `json:"alert_ids"`
}

// Resolved reports whether every member alert has closed.
func (i Incident) Resolved() bool {
	return !i.ResolvedAt.IsZero()
}

// BuildIncidentID derives a deterministic incident id from the site and
// cluster start.
func BuildIncidentID(siteID string, startedAt time.Time) string {
	sum := sha1.Sum([]byte(siteID + "|" + startedAt.UTC().Format(time.RFC3339Nano)))
	return "inc-" + hex.EncodeToString(sum[:8])
}

// Cluster groups alerts into incidents per site using greedy gap
// clustering. Input must be ordered by (opened_at, id); identical input
// yields identical output.
func Cluster(alerts []alerting.Alert, gap time.Duration) []Incident {
	if gap <= 0 {
		gap = DefaultGap
	}

	var siteOrder []string
	bySite := map[string][]alerting.Alert{}
	for _, alert := range alerts {
		site := alert.SiteID
		if _, seen := bySite[site]; !seen {
			siteOrder = append(siteOrder, site)
		}
		bySite[site] = append(bySite[site], alert)
	}

	var incidents []Incident
	for _, site := range siteOrder {
		var current []alerting.Alert
		flush := func() {
			if len(current) > 0 {
				incidents = append(incidents, buildIncident(site, current))
				current = nil
			}
		}
		for _, alert := range bySite[site] {
			if len(current) > 0 && alert.OpenedAt.Sub(current[len(current)-1].OpenedAt) > gap {
				flush()
			}
			current = append(current, alert)
		}
		flush()
	}
	return incidents
}

func buildIncident(site string, members []alerting.Alert) Incident {
	incident := Incident{
		SiteID:      site,
		StartedAt:   members[0].OpenedAt.UTC(),
		LastAlertAt: members[len(members)-1].OpenedAt.UTC(),
		AlertCount:  len(members),
	}
	incident.ID = BuildIncidentID(site, incident.StartedAt)

	allClosed := true
	var resolvedAt time.Time
	for _, member := range members {
		incident.AlertIDs = append(incident.AlertIDs, member.ID)
		if alerting.SeverityRank(member.Severity) > alerting.SeverityRank(incident.MaxSeverity) {
			incident.MaxSeverity = member.Severity
		}
		if member.Status != alerting.StatusClosed {
			allClosed = false
			continue
		}
		if member.ClosedAt.After(resolvedAt) {
			resolvedAt = member.ClosedAt
		}
	}
	if allClosed {
		incident.ResolvedAt = resolvedAt.UTC()
	}
	return incident
}
