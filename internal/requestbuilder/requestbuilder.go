// Package requestbuilder turns checkout inputs into the requests sent to the
// checkout backend. Every function here is pure: no network, no clock, no
// shared state.
package requestbuilder

import (
	"fmt"
	"strings"

	"github.com/yourorg/hpp-checkout/internal/checkout"
)

// BuildDraftOrderRequest validates the fulfilment data and assembles a draft
// order request. Validation failures wrap checkout.ErrInvalidRequest.
func BuildDraftOrderRequest(
	basketToken string,
	fulfilment checkout.FulfilmentDetails,
	instructions *string,
	gateway checkout.GatewayType,
	storeID string,
	deviceToken *string,
) (checkout.DraftOrderRequest, error) {
	if strings.TrimSpace(basketToken) == "" {
		return checkout.DraftOrderRequest{}, invalid("basket token is required")
	}
	if strings.TrimSpace(storeID) == "" {
		return checkout.DraftOrderRequest{}, invalid("store id is required")
	}
	if !gateway.Valid() {
		return checkout.DraftOrderRequest{}, invalid("unknown gateway type %q", gateway)
	}
	if err := validateFulfilment(fulfilment); err != nil {
		return checkout.DraftOrderRequest{}, err
	}

	return checkout.DraftOrderRequest{
		BasketToken:  basketToken,
		Fulfilment:   fulfilment,
		Instructions: trimmedOrNil(instructions),
		GatewayType:  gateway,
		StoreID:      storeID,
		DeviceToken:  trimmedOrNil(deviceToken),
	}, nil
}

// FromCheckoutRequest is BuildDraftOrderRequest over a CheckoutRequest.
func FromCheckoutRequest(req checkout.CheckoutRequest) (checkout.DraftOrderRequest, error) {
	return BuildDraftOrderRequest(req.BasketToken, req.Fulfilment, req.Instructions, req.GatewayType, req.StoreID, req.DeviceToken)
}

// BuildProducerRequest builds the request that initializes the hosted page
// once the draft order id is known.
func BuildProducerRequest(draftOrderID int64, gateway checkout.GatewayType) (checkout.ProducerRequest, error) {
	if draftOrderID <= 0 {
		return checkout.ProducerRequest{}, invalid("draft order id must be positive, got %d", draftOrderID)
	}
	if !gateway.Valid() {
		return checkout.ProducerRequest{}, invalid("unknown gateway type %q", gateway)
	}
	return checkout.ProducerRequest{DraftOrderID: draftOrderID, GatewayType: gateway}, nil
}

func validateFulfilment(f checkout.FulfilmentDetails) error {
	if f.SlotStart.IsZero() {
		return invalid("fulfilment slot start is required")
	}
	if !f.SlotEnd.IsZero() && f.SlotEnd.Before(f.SlotStart) {
		return invalid("fulfilment slot ends before it starts")
	}
	switch f.Method {
	case checkout.FulfilmentDelivery:
		if strings.TrimSpace(f.AddressID) == "" {
			return invalid("delivery requires an address")
		}
	case checkout.FulfilmentCollection:
		if strings.TrimSpace(f.StoreID) == "" {
			return invalid("collection requires a store")
		}
	case "":
		return invalid("fulfilment method is required")
	default:
		return invalid("unknown fulfilment method %q", f.Method)
	}
	return nil
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("requestbuilder: %s: %w", fmt.Sprintf(format, args...), checkout.ErrInvalidRequest)
}
