// Package checkout holds the data model shared by every stage of the
// hosted-payment handshake: the draft order, the opaque producer and bridge
// payloads, the trusted server results and the session state machine values.
package checkout

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// GatewayType names the payment method the customer picked at checkout.
type GatewayType string

const (
	GatewayCard   GatewayType = "card"
	GatewayCash   GatewayType = "cash"
	GatewayWallet GatewayType = "wallet"
)

// Valid reports whether g is one of the known gateway types.
func (g GatewayType) Valid() bool {
	switch g {
	case GatewayCard, GatewayCash, GatewayWallet:
		return true
	}
	return false
}

// FulfilmentMethod is how the order reaches the customer.
type FulfilmentMethod string

const (
	FulfilmentDelivery   FulfilmentMethod = "delivery"
	FulfilmentCollection FulfilmentMethod = "collection"
)

// FulfilmentDetails carries the time and place data selected before checkout.
type FulfilmentDetails struct {
	Method    FulfilmentMethod `json:"method"`
	AddressID string           `json:"address_id,omitempty"` // delivery only
	StoreID   string           `json:"store_id,omitempty"`   // collection only
	SlotStart time.Time        `json:"slot_start"`
	SlotEnd   time.Time        `json:"slot_end,omitempty"`
}

// CheckoutRequest is everything the caller supplies to start one checkout attempt.
type CheckoutRequest struct {
	BasketToken  string            `json:"basket_token"`
	Fulfilment   FulfilmentDetails `json:"fulfilment"`
	Instructions *string           `json:"instructions,omitempty"`
	GatewayType  GatewayType       `json:"gateway_type"`
	StoreID      string            `json:"store_id"`
	DeviceToken  *string           `json:"device_token,omitempty"`
}

// DraftOrderRequest is the validated body sent to create a draft order.
type DraftOrderRequest struct {
	BasketToken  string            `json:"basket_token"`
	Fulfilment   FulfilmentDetails `json:"fulfilment"`
	Instructions *string           `json:"instructions,omitempty"`
	GatewayType  GatewayType       `json:"gateway_type"`
	StoreID      string            `json:"store_id"`
	DeviceToken  *string           `json:"device_token,omitempty"`
}

// ProducerRequest asks the gateway producer endpoint for the hosted page payload.
type ProducerRequest struct {
	DraftOrderID int64       `json:"draft_order_id"`
	GatewayType  GatewayType `json:"gateway_type"`
}

// DraftOrder is created by the checkout backend and never modified afterwards.
type DraftOrder struct {
	DraftOrderID            int64    `json:"draft_order_id"`
	BusinessOrderID         *int64   `json:"business_order_id,omitempty"`
	AvailablePaymentMethods []string `json:"available_payment_methods,omitempty"`
}

// RequiresPayment is false when the backend already assigned a business order
// id, e.g. for cash orders that settle without the hosted page.
func (d DraftOrder) RequiresPayment() bool {
	return d.BusinessOrderID == nil
}

// ProducerData is the opaque payload handed verbatim to the hosted page loader.
type ProducerData []byte

// BridgeMessage is the untyped object posted by the hosted page script. Its
// schema belongs to the gateway; it is forwarded to the server untouched.
type BridgeMessage map[string]any

// Struct converts the message to a protobuf Struct. Struct numbers are
// doubles, so the result checks the message shape but is not a lossless copy.
func (m BridgeMessage) Struct() (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("checkout: bridge message is not JSON compatible: %w", err)
	}
	return s, nil
}

// ConsumerSubmissionResult is the trusted verdict returned after the server
// validated a bridge message.
type ConsumerSubmissionResult struct {
	BusinessOrderID *int64  `json:"business_order_id,omitempty"`
	Success         bool    `json:"success"`
	Message         *string `json:"message,omitempty"`
}

// ReconciliationOutcome is the server's answer to a confirm-payment lookup.
type ReconciliationOutcome struct {
	BusinessOrderID *int64 `json:"business_order_id,omitempty"`
}

// SessionState is the position of a session in the handshake.
type SessionState int

const (
	StateIdle SessionState = iota
	StateCreatingDraftOrder
	StateFetchingProducerData
	StatePresentingPage
	StateAwaitingConsumerResult
	StateReconciling
	StateTerminal
)

var stateNames = map[SessionState]string{
	StateIdle:                   "idle",
	StateCreatingDraftOrder:     "creating_draft_order",
	StateFetchingProducerData:   "fetching_producer_data",
	StatePresentingPage:         "presenting_page",
	StateAwaitingConsumerResult: "awaiting_consumer_result",
	StateReconciling:            "reconciling",
	StateTerminal:               "terminal",
}

func (s SessionState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Outcome is the kind of terminal state a session reached.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeSuccess
	OutcomeFailure
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Completion is delivered to the caller exactly once per session.
type Completion struct {
	Outcome         Outcome
	BusinessOrderID *int64
	Err             error
}

// OrderID is a convenience for building optional ids.
func OrderID(id int64) *int64 {
	return &id
}
