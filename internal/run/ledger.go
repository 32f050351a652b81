package run

import (
	"fmt"

	"github.com/mellonhead/billrun/pkg/models"
)

// TimeLedger is the per-run aggregation of time entries into billable hours
// per client. Entries that fail validation are excluded and flagged, never
// silently dropped: negative hours are a data-validity failure, and entries
// naming a client outside the active snapshot cannot be billed.
type TimeLedger struct {
	hours    map[string]float64
	entries  map[string][]models.TimeEntry
	warnings []string
}

// NewTimeLedger aggregates entries against the active client snapshot.
func NewTimeLedger(entries []models.TimeEntry, active []models.ClientConfig) *TimeLedger {
	activeNames := make(map[string]bool, len(active))
	for _, cfg := range active {
		activeNames[cfg.Name] = true
	}

	ledger := &TimeLedger{
		hours:   make(map[string]float64),
		entries: make(map[string][]models.TimeEntry),
	}

	for _, entry := range entries {
		switch {
		case !activeNames[entry.ClientName]:
			ledger.warnings = append(ledger.warnings, fmt.Sprintf(
				"time entry %s (%v hrs) references inactive or unknown client %q",
				entry.Date.Format("2006-01-02"), entry.Hours, entry.ClientName))
		case entry.Hours < 0:
			ledger.warnings = append(ledger.warnings, fmt.Sprintf(
				"time entry %s for %s has negative hours %v, excluded",
				entry.Date.Format("2006-01-02"), entry.ClientName, entry.Hours))
		default:
			ledger.hours[entry.ClientName] += entry.Hours
			ledger.entries[entry.ClientName] = append(ledger.entries[entry.ClientName], entry)
		}
	}

	return ledger
}

// SumHours returns the billable hours logged for a client in the window.
// Clients with no entries owe their retainer on zero hours.
func (l *TimeLedger) SumHours(clientName string) float64 {
	return l.hours[clientName]
}

// Entries returns the validated entries for a client, for debug breakdowns.
func (l *TimeLedger) Entries(clientName string) []models.TimeEntry {
	return l.entries[clientName]
}

// Warnings lists every excluded entry, attributable to the run summary.
func (l *TimeLedger) Warnings() []string {
	return l.warnings
}
