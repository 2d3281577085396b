package context

import (
	go_std_context "context"
	"errors"
	"fmt"

	"github.com/yourorg/hpp-checkout/internal/checkout"
)

// CheckoutContext carries the business data resolved for one checkout attempt.
type CheckoutContext struct {
	StoreID     string
	GatewayType checkout.GatewayType
	Store       StoreConfig
}

// ContextBuilder is responsible for creating TraceContext and CheckoutContext.
type ContextBuilder struct {
	storeRepo StoreConfigRepository
}

// NewContextBuilder creates a new ContextBuilder.
func NewContextBuilder(repo StoreConfigRepository) *ContextBuilder {
	if repo == nil {
		panic("StoreConfigRepository cannot be nil")
	}
	return &ContextBuilder{storeRepo: repo}
}

// BuildContexts resolves the store for req and checks that it accepts the
// chosen gateway. Unknown stores and refused gateways are invalid requests.
func (cb *ContextBuilder) BuildContexts(ctx go_std_context.Context, req checkout.CheckoutRequest) (TraceContext, CheckoutContext, error) {
	traceCtx := NewTraceContext(ctx)

	store, err := cb.storeRepo.Get(req.StoreID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return traceCtx, CheckoutContext{}, fmt.Errorf("%w: %v", checkout.ErrInvalidRequest, err)
		}
		return traceCtx, CheckoutContext{}, fmt.Errorf("failed to get store config: %w", err)
	}
	if !store.Accepts(req.GatewayType) {
		return traceCtx, CheckoutContext{}, fmt.Errorf("%w: store %s does not accept gateway %q",
			checkout.ErrInvalidRequest, store.ID, req.GatewayType)
	}

	return traceCtx, CheckoutContext{
		StoreID:     store.ID,
		GatewayType: req.GatewayType,
		Store:       store,
	}, nil
}
