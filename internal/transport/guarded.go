package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/yourorg/hpp-checkout/internal/checkout"
	"github.com/yourorg/hpp-checkout/internal/transport/circuitbreaker"
)

// ErrCircuitOpen is returned when a pre-payment call is refused by the breaker.
var ErrCircuitOpen = fmt.Errorf("transport: circuit open: %w", checkout.ErrTransport)

// Guarded puts a circuit breaker in front of the pre-payment operations of a
// CheckoutTransport. SubmitConsumerData and ConfirmPayment always reach the
// backend: once a page may have charged the customer, refusing to ask would
// hide a payment.
type Guarded struct {
	next    CheckoutTransport
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuarded wraps next with breaker.
func NewGuarded(next CheckoutTransport, breaker *circuitbreaker.CircuitBreaker) *Guarded {
	if next == nil {
		panic("transport cannot be nil")
	}
	if breaker == nil {
		panic("circuit breaker cannot be nil")
	}
	return &Guarded{next: next, breaker: breaker}
}

func (g *Guarded) CreateDraftOrder(ctx context.Context, req checkout.DraftOrderRequest) (checkout.DraftOrder, error) {
	if !g.breaker.AllowRequest(OpCreateDraftOrder) {
		return checkout.DraftOrder{}, ErrCircuitOpen
	}
	draft, err := g.next.CreateDraftOrder(ctx, req)
	g.record(OpCreateDraftOrder, err)
	return draft, err
}

func (g *Guarded) GetProducerData(ctx context.Context, req checkout.ProducerRequest) (checkout.ProducerData, error) {
	if !g.breaker.AllowRequest(OpGetProducerData) {
		return nil, ErrCircuitOpen
	}
	data, err := g.next.GetProducerData(ctx, req)
	g.record(OpGetProducerData, err)
	return data, err
}

func (g *Guarded) SubmitConsumerData(ctx context.Context, draftOrderID int64, msg checkout.BridgeMessage) (checkout.ConsumerSubmissionResult, error) {
	return g.next.SubmitConsumerData(ctx, draftOrderID, msg)
}

func (g *Guarded) ConfirmPayment(ctx context.Context, draftOrderID int64) (checkout.ReconciliationOutcome, error) {
	return g.next.ConfirmPayment(ctx, draftOrderID)
}

// Only backend failures count; validation errors say nothing about health.
func (g *Guarded) record(op string, err error) {
	switch {
	case err == nil:
		g.breaker.RecordSuccess(op)
	case errors.Is(err, checkout.ErrInvalidRequest), errors.Is(err, context.Canceled):
	default:
		g.breaker.RecordFailure(op)
	}
}
