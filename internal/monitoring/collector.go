// Package monitoring gathers pipeline health metrics and raises webhook
// alerts when thresholds are breached.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/clusterx/voicesync/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Call metrics (within lookback window).
	CallsTotal       int     `json:"calls_total"`
	CallsProcessed   int     `json:"calls_processed"`
	CallsPending     int     `json:"calls_pending"`
	CallsBooked      int     `json:"calls_booked"`
	AnalysisFailed   int     `json:"analysis_failed"`
	AnalysisFailRate float64 `json:"analysis_fail_rate"`
	PlatformCostUSD  float64 `json:"platform_cost_usd"`

	// Contact metrics (all time).
	ContactsTotal int            `json:"contacts_total"`
	ContactsByTag map[string]int `json:"contacts_by_tag"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot over the given lookback window. A
// lookbackHours of zero means no cutoff.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		ContactsByTag: make(map[string]int),
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	var cutoff time.Time
	if lookbackHours > 0 {
		cutoff = time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)
	}

	calls, err := c.store.ListCalls(ctx, store.CallFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list calls")
	}

	for _, call := range calls {
		if !cutoff.IsZero() && !call.CreatedAt.IsZero() && call.CreatedAt.Before(cutoff) {
			continue
		}
		snap.CallsTotal++
		snap.PlatformCostUSD += call.TotalCost

		if !call.Processed {
			snap.CallsPending++
			continue
		}
		snap.CallsProcessed++
		if call.Analysis == nil {
			if call.RawLLMOutput != "" {
				snap.AnalysisFailed++
			}
			continue
		}
		if call.Analysis.Booking.IsBooked {
			snap.CallsBooked++
		}
	}
	if snap.CallsProcessed > 0 {
		snap.AnalysisFailRate = float64(snap.AnalysisFailed) / float64(snap.CallsProcessed)
	}

	contacts, err := c.store.ListContacts(ctx, store.ContactFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list contacts")
	}
	snap.ContactsTotal = len(contacts)
	for _, contact := range contacts {
		snap.ContactsByTag[string(contact.Tag)]++
	}

	return snap, nil
}
