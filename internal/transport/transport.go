// Package transport defines the CheckoutTransport contract the handshake
// consumes and contains its implementations.
// Implementations own serialization, retries of pre-payment calls and error
// mapping; the session only sees typed results or wrapped errors.
package transport

import (
	"context"

	"github.com/yourorg/hpp-checkout/internal/checkout"
)

// Operation names, used for circuit breaking, logging and metrics labels.
const (
	OpCreateDraftOrder   = "create_draft_order"
	OpGetProducerData    = "get_producer_data"
	OpSubmitConsumerData = "submit_consumer_data"
	OpConfirmPayment     = "confirm_payment"
)

// CheckoutTransport is the network client for the checkout backend.
type CheckoutTransport interface {
	// CreateDraftOrder registers a provisional order for the basket.
	CreateDraftOrder(ctx context.Context, req checkout.DraftOrderRequest) (checkout.DraftOrder, error)

	// GetProducerData fetches the opaque payload that initializes the hosted page.
	GetProducerData(ctx context.Context, req checkout.ProducerRequest) (checkout.ProducerData, error)

	// SubmitConsumerData forwards the raw bridge message for server-side validation.
	SubmitConsumerData(ctx context.Context, draftOrderID int64, msg checkout.BridgeMessage) (checkout.ConsumerSubmissionResult, error)

	// ConfirmPayment asks for the authoritative payment status of a draft order.
	ConfirmPayment(ctx context.Context, draftOrderID int64) (checkout.ReconciliationOutcome, error)
}
