// Package reconciler adjudicates checkout attempts that ended ambiguously:
// the page was cancelled, failed, or the consumer result never arrived, yet
// the gateway may already have captured the payment.
package reconciler

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/yourorg/hpp-checkout/internal/checkout"
	"github.com/yourorg/hpp-checkout/internal/policy"
)

// Confirmer is the slice of the checkout transport the reconciler needs.
type Confirmer interface {
	ConfirmPayment(ctx context.Context, draftOrderID int64) (checkout.ReconciliationOutcome, error)
}

// GracePolicy picks the wait before the confirm lookup.
type GracePolicy interface {
	GracePeriod(in policy.GraceInput) time.Duration
}

type fixedGrace time.Duration

func (f fixedGrace) GracePeriod(policy.GraceInput) time.Duration { return time.Duration(f) }

// FixedGrace is a GracePolicy that always waits d.
func FixedGrace(d time.Duration) GracePolicy { return fixedGrace(d) }

// ResolvedFunc reports the business order id the session already accepted, if any.
type ResolvedFunc func() (int64, bool)

// Source says where a verdict's order id came from.
type Source string

const (
	SourceLocal     Source = "local"     // session already held a consumer success
	SourceConfirmed Source = "confirmed" // confirm lookup found the order
	SourceNone      Source = "none"      // no order exists
)

// Request is one adjudication.
type Request struct {
	DraftOrderID int64
	GatewayType  checkout.GatewayType
	StoreID      string
	KnownError   error
	Resolved     ResolvedFunc
}

// Verdict is the single outcome of an adjudication. Exactly one of
// BusinessOrderID, Err or Cancelled is set.
type Verdict struct {
	BusinessOrderID *int64
	Err             error
	Cancelled       bool
	Source          Source
}

// Completion converts the verdict to the caller-facing completion.
func (v Verdict) Completion() checkout.Completion {
	switch {
	case v.BusinessOrderID != nil:
		return checkout.Completion{Outcome: checkout.OutcomeSuccess, BusinessOrderID: v.BusinessOrderID}
	case v.Cancelled:
		return checkout.Completion{Outcome: checkout.OutcomeCancelled}
	default:
		return checkout.Completion{Outcome: checkout.OutcomeFailure, Err: v.Err}
	}
}

func (v Verdict) label() string {
	switch {
	case v.BusinessOrderID != nil:
		return "success_" + string(v.Source)
	case v.Cancelled:
		return "cancelled"
	default:
		return "failure"
	}
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the reconciler logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithSleep replaces the grace wait, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Reconciler) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// Reconciler runs the grace-then-confirm protocol.
type Reconciler struct {
	confirmer Confirmer
	grace     GracePolicy
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *zap.Logger
}

// New creates a Reconciler. A nil grace policy waits policy.DefaultGracePeriod.
func New(confirmer Confirmer, grace GracePolicy, opts ...Option) *Reconciler {
	if confirmer == nil {
		panic("confirmer cannot be nil")
	}
	if grace == nil {
		grace = FixedGrace(policy.DefaultGracePeriod)
	}
	r := &Reconciler{
		confirmer: confirmer,
		grace:     grace,
		sleep:     sleepOrDone,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Adjudicate resolves one ambiguous termination. It never retries the
// confirm call and always returns exactly one verdict.
func (r *Reconciler) Adjudicate(ctx context.Context, req Request) Verdict {
	tracer := otel.Tracer("reconciler")
	ctx, span := tracer.Start(ctx, "PaymentReconciler.Adjudicate")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("draft_order_id", req.DraftOrderID),
		attribute.Bool("known_error", req.KnownError != nil),
	)

	start := time.Now()
	verdict := r.adjudicate(ctx, req)
	reconcileDuration.Observe(time.Since(start).Seconds())
	reconciliationsTotal.WithLabelValues(verdict.label()).Inc()
	span.SetAttributes(attribute.String("verdict", verdict.label()))

	r.logger.Info("reconciliation finished",
		zap.Int64("draft_order_id", req.DraftOrderID),
		zap.String("verdict", verdict.label()),
		zap.String("error_kind", checkout.Kind(verdict.Err)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return verdict
}

func (r *Reconciler) adjudicate(ctx context.Context, req Request) Verdict {
	if id, ok := resolved(req.Resolved); ok {
		return Verdict{BusinessOrderID: &id, Source: SourceLocal}
	}

	grace := r.grace.GracePeriod(policy.GraceInput{
		GatewayType:   req.GatewayType,
		StoreID:       req.StoreID,
		HasKnownError: req.KnownError != nil,
	})
	if err := r.sleep(ctx, grace); err != nil {
		r.logger.Warn("grace period cut short", zap.Int64("draft_order_id", req.DraftOrderID), zap.Error(err))
	}

	if id, ok := resolved(req.Resolved); ok {
		return Verdict{BusinessOrderID: &id, Source: SourceLocal}
	}

	// The lookup must run even if the caller went away; a lost answer here
	// is a lost payment.
	outcome, err := r.confirmer.ConfirmPayment(context.WithoutCancel(ctx), req.DraftOrderID)
	if err == nil && outcome.BusinessOrderID != nil {
		id := *outcome.BusinessOrderID
		return Verdict{BusinessOrderID: &id, Source: SourceConfirmed}
	}

	switch {
	case req.KnownError != nil:
		if err != nil {
			r.logger.Warn("confirm lookup failed, keeping known error",
				zap.Int64("draft_order_id", req.DraftOrderID), zap.Error(err))
		}
		return Verdict{Err: req.KnownError, Source: SourceNone}
	case err != nil:
		return Verdict{Err: err, Source: SourceNone}
	default:
		return Verdict{Cancelled: true, Source: SourceNone}
	}
}

func resolved(fn ResolvedFunc) (int64, bool) {
	if fn == nil {
		return 0, false
	}
	return fn()
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
