package session

import (
	"time"

	"github.com/yourorg/hpp-checkout/internal/checkout"
	"github.com/yourorg/hpp-checkout/internal/reconciler"
)

// Record is a point-in-time view of a session for status endpoints and reports.
type Record struct {
	ID              string
	StoreID         string
	GatewayType     checkout.GatewayType
	DraftOrderID    int64
	State           checkout.SessionState
	Outcome         checkout.Outcome
	BusinessOrderID *int64
	Err             error
	Reconciled      bool
	ReconcileSource reconciler.Source
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Terminal reports whether the record describes a finished session.
func (r Record) Terminal() bool { return r.State == checkout.StateTerminal }

// Duration is the time from start to finish, or zero while running.
func (r Record) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Snapshot returns the session's current record.
func (s *Session) Snapshot() Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Record{
		ID:              s.id,
		StoreID:         s.req.StoreID,
		GatewayType:     s.req.GatewayType,
		DraftOrderID:    s.draftOrderID,
		State:           s.state,
		Outcome:         s.completion.Outcome,
		BusinessOrderID: s.completion.BusinessOrderID,
		Err:             s.completion.Err,
		Reconciled:      s.reconciled,
		ReconcileSource: s.source,
		StartedAt:       s.startedAt,
		FinishedAt:      s.finishedAt,
	}
}
