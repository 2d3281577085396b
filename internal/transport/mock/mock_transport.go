package mock

import (
	"context"
	"sync/atomic"

	"github.com/yourorg/hpp-checkout/internal/checkout"
)

// MockTransport is a function-field implementation of transport.CheckoutTransport.
// Unset functions fall back to a card flow that never completes payment.
type MockTransport struct {
	CreateDraftOrderFunc   func(ctx context.Context, req checkout.DraftOrderRequest) (checkout.DraftOrder, error)
	GetProducerDataFunc    func(ctx context.Context, req checkout.ProducerRequest) (checkout.ProducerData, error)
	SubmitConsumerDataFunc func(ctx context.Context, draftOrderID int64, msg checkout.BridgeMessage) (checkout.ConsumerSubmissionResult, error)
	ConfirmPaymentFunc     func(ctx context.Context, draftOrderID int64) (checkout.ReconciliationOutcome, error)

	createCalls  atomic.Int32
	producerCall atomic.Int32
	submitCalls  atomic.Int32
	confirmCalls atomic.Int32
}

// NewMockTransport creates a MockTransport with default behaviour.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

func (m *MockTransport) CreateDraftOrder(ctx context.Context, req checkout.DraftOrderRequest) (checkout.DraftOrder, error) {
	m.createCalls.Add(1)
	if m.CreateDraftOrderFunc != nil {
		return m.CreateDraftOrderFunc(ctx, req)
	}
	return checkout.DraftOrder{DraftOrderID: 1, AvailablePaymentMethods: []string{string(req.GatewayType)}}, nil
}

func (m *MockTransport) GetProducerData(ctx context.Context, req checkout.ProducerRequest) (checkout.ProducerData, error) {
	m.producerCall.Add(1)
	if m.GetProducerDataFunc != nil {
		return m.GetProducerDataFunc(ctx, req)
	}
	return checkout.ProducerData(`{"mock":"producer"}`), nil
}

func (m *MockTransport) SubmitConsumerData(ctx context.Context, draftOrderID int64, msg checkout.BridgeMessage) (checkout.ConsumerSubmissionResult, error) {
	m.submitCalls.Add(1)
	if m.SubmitConsumerDataFunc != nil {
		return m.SubmitConsumerDataFunc(ctx, draftOrderID, msg)
	}
	return checkout.ConsumerSubmissionResult{Success: false}, nil
}

func (m *MockTransport) ConfirmPayment(ctx context.Context, draftOrderID int64) (checkout.ReconciliationOutcome, error) {
	m.confirmCalls.Add(1)
	if m.ConfirmPaymentFunc != nil {
		return m.ConfirmPaymentFunc(ctx, draftOrderID)
	}
	return checkout.ReconciliationOutcome{}, nil
}

// CreateCalls returns how many times CreateDraftOrder ran.
func (m *MockTransport) CreateCalls() int { return int(m.createCalls.Load()) }

// ProducerCalls returns how many times GetProducerData ran.
func (m *MockTransport) ProducerCalls() int { return int(m.producerCall.Load()) }

// SubmitCalls returns how many times SubmitConsumerData ran.
func (m *MockTransport) SubmitCalls() int { return int(m.submitCalls.Load()) }

// ConfirmCalls returns how many times ConfirmPayment ran.
func (m *MockTransport) ConfirmCalls() int { return int(m.confirmCalls.Load()) }
