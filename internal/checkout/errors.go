package checkout

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest marks input that cannot produce a draft order request.
	ErrInvalidRequest = errors.New("invalid checkout request")
	// ErrStructural marks a bridge payload that is not a JSON object.
	ErrStructural = errors.New("malformed bridge payload")
	// ErrGatewayDeclined is the generic gateway failure used when the server
	// rejected a submission without a message.
	ErrGatewayDeclined = errors.New("payment was not completed")
	// ErrMissingOrderID is reported when a submission claims success without
	// an order id.
	ErrMissingOrderID = errors.New("payment reported success without an order id")
	// ErrTransport marks a failed call to the checkout backend.
	ErrTransport = errors.New("checkout backend unavailable")
)

// GatewayError carries the message the server attached to a rejected submission.
type GatewayError struct {
	Message string
}

func (e *GatewayError) Error() string { return e.Message }

func (e *GatewayError) Unwrap() error { return ErrGatewayDeclined }

// StructuralError wraps the reason a raw bridge payload was rejected.
type StructuralError struct {
	Cause error
}

func (e *StructuralError) Error() string {
	if e.Cause == nil {
		return ErrStructural.Error()
	}
	return fmt.Sprintf("%s: %v", ErrStructural.Error(), e.Cause)
}

func (e *StructuralError) Is(target error) bool { return target == ErrStructural }

func (e *StructuralError) Unwrap() error { return e.Cause }

// Kind classifies an error for logs, metrics and reports.
func Kind(err error) string {
	var gatewayErr *GatewayError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrStructural):
		return "structural"
	case errors.As(err, &gatewayErr), errors.Is(err, ErrGatewayDeclined), errors.Is(err, ErrMissingOrderID):
		return "gateway"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "internal"
	}
}

// UserMessage picks the most specific message available for a failure:
// the gateway's own message, then the transport error, then a generic fallback.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var gatewayErr *GatewayError
	if errors.As(err, &gatewayErr) && gatewayErr.Message != "" {
		return gatewayErr.Message
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return ErrGatewayDeclined.Error()
}
