package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/hpp-checkout/internal/checkout"
	"github.com/yourorg/hpp-checkout/internal/transport"
)

var _ transport.CheckoutTransport = (*MockTransport)(nil)

func TestMockTransport_Defaults(t *testing.T) {
	m := NewMockTransport()
	ctx := context.Background()

	draft, err := m.CreateDraftOrder(ctx, checkout.DraftOrderRequest{GatewayType: checkout.GatewayCard})
	require.NoError(t, err)
	assert.True(t, draft.RequiresPayment())

	data, err := m.GetProducerData(ctx, checkout.ProducerRequest{DraftOrderID: draft.DraftOrderID})
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	res, err := m.SubmitConsumerData(ctx, draft.DraftOrderID, checkout.BridgeMessage{})
	require.NoError(t, err)
	assert.False(t, res.Success)

	outcome, err := m.ConfirmPayment(ctx, draft.DraftOrderID)
	require.NoError(t, err)
	assert.Nil(t, outcome.BusinessOrderID)

	assert.Equal(t, 1, m.CreateCalls())
	assert.Equal(t, 1, m.ProducerCalls())
	assert.Equal(t, 1, m.SubmitCalls())
	assert.Equal(t, 1, m.ConfirmCalls())
}

func TestMockTransport_CustomFunc(t *testing.T) {
	m := NewMockTransport()
	wantErr := errors.New("backend down")
	m.ConfirmPaymentFunc = func(ctx context.Context, draftOrderID int64) (checkout.ReconciliationOutcome, error) {
		return checkout.ReconciliationOutcome{}, wantErr
	}

	_, err := m.ConfirmPayment(context.Background(), 7)
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, m.ConfirmCalls())
}
