// Package reporting summarizes finished checkout sessions.
package reporting

import (
	"time"

	"github.com/yourorg/hpp-checkout/internal/checkout"
	"github.com/yourorg/hpp-checkout/internal/session"
)

// RetrospectiveReport summarizes checkout activity over a set of sessions.
type RetrospectiveReport struct {
	TotalSessions         int            `json:"total_sessions"`
	InFlight              int            `json:"in_flight"`
	Successful            int            `json:"successful"`
	Failed                int            `json:"failed"`
	Cancelled             int            `json:"cancelled"`
	Reconciled            int            `json:"reconciled"`              // sessions that went through Reconciling
	RecoveredByReconciler int            `json:"recovered_by_reconciler"` // reconciled sessions the server confirmed as paid
	ErrorBreakdown        map[string]int `json:"error_breakdown"`         // failures by checkout.Kind
	GatewayUsage          map[string]int `json:"gateway_usage"`
	StoreUsage            map[string]int `json:"store_usage"`
	DateFrom              time.Time      `json:"date_from"`
	DateTo                time.Time      `json:"date_to"`
	ProcessingDuration    time.Duration  `json:"processing_duration"`
	AverageDuration       time.Duration  `json:"average_duration"` // finished sessions only
}

// RetrospectiveReporter generates retrospective reports from session records.
type RetrospectiveReporter struct{}

// NewRetrospectiveReporter creates a new RetrospectiveReporter.
func NewRetrospectiveReporter() *RetrospectiveReporter {
	return &RetrospectiveReporter{}
}

// GenerateRetrospective analyzes records and produces a RetrospectiveReport.
// DateFrom and DateTo span the start times of the records.
func (rr *RetrospectiveReporter) GenerateRetrospective(records []session.Record) (*RetrospectiveReport, error) {
	report := &RetrospectiveReport{
		ErrorBreakdown: make(map[string]int),
		GatewayUsage:   make(map[string]int),
		StoreUsage:     make(map[string]int),
	}

	var finished int
	var total time.Duration
	for _, rec := range records {
		report.TotalSessions++

		if !rec.StartedAt.IsZero() {
			if report.DateFrom.IsZero() || rec.StartedAt.Before(report.DateFrom) {
				report.DateFrom = rec.StartedAt
			}
			if rec.StartedAt.After(report.DateTo) {
				report.DateTo = rec.StartedAt
			}
		}
		if rec.GatewayType != "" {
			report.GatewayUsage[string(rec.GatewayType)]++
		}
		if rec.StoreID != "" {
			report.StoreUsage[rec.StoreID]++
		}

		if !rec.Terminal() {
			report.InFlight++
			continue
		}
		finished++
		total += rec.Duration()

		if rec.Reconciled {
			report.Reconciled++
		}
		switch rec.Outcome {
		case checkout.OutcomeSuccess:
			report.Successful++
			if rec.Reconciled && rec.BusinessOrderID != nil {
				report.RecoveredByReconciler++
			}
		case checkout.OutcomeFailure:
			report.Failed++
			if kind := checkout.Kind(rec.Err); kind != "" {
				report.ErrorBreakdown[kind]++
			}
		case checkout.OutcomeCancelled:
			report.Cancelled++
		}
	}

	report.ProcessingDuration = report.DateTo.Sub(report.DateFrom)
	if finished > 0 {
		report.AverageDuration = total / time.Duration(finished)
	}
	return report, nil
}
