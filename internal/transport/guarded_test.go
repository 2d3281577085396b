package transport_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/hpp-checkout/internal/checkout"
	"github.com/yourorg/hpp-checkout/internal/transport"
	"github.com/yourorg/hpp-checkout/internal/transport/circuitbreaker"
	"github.com/yourorg/hpp-checkout/internal/transport/mock"
)

func TestGuarded_OpensOnPrePaymentFailures(t *testing.T) {
	m := mock.NewMockTransport()
	m.CreateDraftOrderFunc = func(ctx context.Context, req checkout.DraftOrderRequest) (checkout.DraftOrder, error) {
		return checkout.DraftOrder{}, errors.New("503")
	}
	g := transport.NewGuarded(m, circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{FailureThreshold: 2}))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.CreateDraftOrder(ctx, checkout.DraftOrderRequest{})
		require.Error(t, err)
	}
	_, err := g.CreateDraftOrder(ctx, checkout.DraftOrderRequest{})
	assert.ErrorIs(t, err, transport.ErrCircuitOpen)
	assert.ErrorIs(t, err, checkout.ErrTransport)
	assert.Equal(t, 2, m.CreateCalls(), "open circuit must not reach the backend")
}

func TestGuarded_InvalidRequestDoesNotTrip(t *testing.T) {
	m := mock.NewMockTransport()
	m.GetProducerDataFunc = func(ctx context.Context, req checkout.ProducerRequest) (checkout.ProducerData, error) {
		return nil, checkout.ErrInvalidRequest
	}
	g := transport.NewGuarded(m, circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{FailureThreshold: 1}))

	for i := 0; i < 3; i++ {
		_, err := g.GetProducerData(context.Background(), checkout.ProducerRequest{})
		assert.ErrorIs(t, err, checkout.ErrInvalidRequest)
	}
	assert.Equal(t, 3, m.ProducerCalls())
}

func TestGuarded_PostPaymentCallsAlwaysPass(t *testing.T) {
	m := mock.NewMockTransport()
	m.ConfirmPaymentFunc = func(ctx context.Context, id int64) (checkout.ReconciliationOutcome, error) {
		return checkout.ReconciliationOutcome{}, errors.New("timeout")
	}
	g := transport.NewGuarded(m, circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{FailureThreshold: 1}))

	for i := 0; i < 3; i++ {
		_, err := g.ConfirmPayment(context.Background(), 9001)
		require.Error(t, err)
		_, _ = g.SubmitConsumerData(context.Background(), 9001, checkout.BridgeMessage{})
	}
	assert.Equal(t, 3, m.ConfirmCalls())
	assert.Equal(t, 3, m.SubmitCalls())
}

func TestNewGuarded_PanicsOnNil(t *testing.T) {
	cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{})
	assert.Panics(t, func() { transport.NewGuarded(nil, cb) })
	assert.Panics(t, func() { transport.NewGuarded(mock.NewMockTransport(), nil) })
}
