package reporting

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/yourorg/hpp-checkout/internal/checkout"
	"github.com/yourorg/hpp-checkout/internal/reconciler"
	"github.com/yourorg/hpp-checkout/internal/session"
)

func TestRetrospectiveReporter_GenerateRetrospective(t *testing.T) {
	reporter := NewRetrospectiveReporter()

	time1 := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	time2 := time.Date(2026, 10, 19, 10, 5, 0, 0, time.UTC)
	time3 := time.Date(2026, 10, 19, 10, 10, 0, 0, time.UTC)
	time4 := time.Date(2026, 10, 19, 9, 55, 0, 0, time.UTC) // Earliest

	declined := &checkout.GatewayError{Message: "Card declined"}

	tests := []struct {
		name     string
		records  []session.Record
		expected *RetrospectiveReport
	}{
		{
			name:    "EmptyRecords",
			records: []session.Record{},
			expected: &RetrospectiveReport{
				ErrorBreakdown: make(map[string]int),
				GatewayUsage:   make(map[string]int),
				StoreUsage:     make(map[string]int),
			},
		},
		{
			name: "SingleCashSuccess",
			records: []session.Record{
				{ID: "s1", StoreID: "store-1", GatewayType: checkout.GatewayCash, State: checkout.StateTerminal,
					Outcome: checkout.OutcomeSuccess, BusinessOrderID: checkout.OrderID(9002),
					StartedAt: time1, FinishedAt: time1.Add(200 * time.Millisecond)},
			},
			expected: &RetrospectiveReport{
				TotalSessions:   1,
				Successful:      1,
				ErrorBreakdown:  make(map[string]int),
				GatewayUsage:    map[string]int{"cash": 1},
				StoreUsage:      map[string]int{"store-1": 1},
				DateFrom:        time1,
				DateTo:          time1,
				AverageDuration: 200 * time.Millisecond,
			},
		},
		{
			name: "MixedRecords",
			records: []session.Record{
				{ID: "s0", StoreID: "store-1", GatewayType: checkout.GatewayCard, State: checkout.StateTerminal,
					Outcome: checkout.OutcomeSuccess, BusinessOrderID: checkout.OrderID(1),
					Reconciled: true, ReconcileSource: reconciler.SourceConfirmed,
					StartedAt: time4, FinishedAt: time4.Add(3 * time.Second)},
				{ID: "s1", StoreID: "store-1", GatewayType: checkout.GatewayCard, State: checkout.StateTerminal,
					Outcome: checkout.OutcomeFailure, Err: declined, Reconciled: true,
					StartedAt: time1, FinishedAt: time1.Add(time.Second)},
				{ID: "s2", StoreID: "store-2", GatewayType: checkout.GatewayWallet, State: checkout.StateTerminal,
					Outcome: checkout.OutcomeFailure, Err: errors.New("producer unavailable"),
					StartedAt: time2, FinishedAt: time2.Add(time.Second)},
				{ID: "s3", StoreID: "store-2", GatewayType: checkout.GatewayCard, State: checkout.StateTerminal,
					Outcome: checkout.OutcomeCancelled, Reconciled: true,
					StartedAt: time2, FinishedAt: time2.Add(3 * time.Second)},
				{ID: "s4", StoreID: "store-1", GatewayType: checkout.GatewayCard, State: checkout.StateAwaitingConsumerResult,
					StartedAt: time3}, // Latest, still running
			},
			expected: &RetrospectiveReport{
				TotalSessions:         5,
				InFlight:              1,
				Successful:            1,
				Failed:                2,
				Cancelled:             1,
				Reconciled:            3,
				RecoveredByReconciler: 1,
				ErrorBreakdown:        map[string]int{"gateway": 1, "internal": 1},
				GatewayUsage:          map[string]int{"card": 3, "wallet": 1},
				StoreUsage:            map[string]int{"store-1": 3, "store-2": 2},
				DateFrom:              time4,
				DateTo:                time3,
				ProcessingDuration:    time3.Sub(time4),
				AverageDuration:       2 * time.Second,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := reporter.GenerateRetrospective(tt.records)
			if err != nil {
				t.Fatalf("GenerateRetrospective() error = %v", err)
			}
			if !reflect.DeepEqual(report, tt.expected) {
				t.Errorf("GenerateRetrospective() mismatch:\ngot:  %+v\nwant: %+v", report, tt.expected)
			}
		})
	}
}
