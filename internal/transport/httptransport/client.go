package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourorg/hpp-checkout/internal/checkout"
	"github.com/yourorg/hpp-checkout/internal/transport"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultRetryAttempts = 2
	defaultRetryDelay    = 500 * time.Millisecond
)

// Config describes how to reach the checkout backend.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	RetryAttempts int           // extra attempts for pre-payment calls
	RetryDelay    time.Duration // fixed delay between those attempts
	AuthToken     string
}

// Client implements transport.CheckoutTransport over the checkout REST API.
type Client struct {
	http          *resty.Client
	retryAttempts int
	retryDelay    time.Duration
	logger        *zap.Logger
}

var _ transport.CheckoutTransport = (*Client)(nil)

// New creates a Client. A nil logger disables logging.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	} else if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.AuthToken != "" {
		rc.SetAuthToken(cfg.AuthToken)
	}

	return &Client{
		http:          rc,
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    cfg.RetryDelay,
		logger:        logger.Named("httptransport"),
	}
}

type confirmationResponse struct {
	BusinessOrderID *int64 `json:"business_order_id"`
}

// CreateDraftOrder posts the draft order request. The idempotency key is fixed
// across retries so the backend creates at most one draft order.
func (c *Client) CreateDraftOrder(ctx context.Context, req checkout.DraftOrderRequest) (checkout.DraftOrder, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return checkout.DraftOrder{}, fmt.Errorf("httptransport: failed to encode draft order request: %w", err)
	}
	key := uuid.NewString()

	resp, err := c.withRetry(ctx, transport.OpCreateDraftOrder, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetHeader("Idempotency-Key", key).
			SetHeader("X-Basket-Token", req.BasketToken).
			SetBody(body).
			Post("/draft-orders")
	})
	if err != nil {
		return checkout.DraftOrder{}, err
	}

	var draft checkout.DraftOrder
	if err := json.Unmarshal(resp.Body(), &draft); err != nil {
		return checkout.DraftOrder{}, fmt.Errorf("httptransport: failed to decode draft order: %w", err)
	}
	if draft.DraftOrderID <= 0 {
		return checkout.DraftOrder{}, fmt.Errorf("httptransport: draft order response has no id: %w", checkout.ErrTransport)
	}
	return draft, nil
}

// GetProducerData returns the producer payload exactly as the backend sent it.
func (c *Client) GetProducerData(ctx context.Context, req checkout.ProducerRequest) (checkout.ProducerData, error) {
	resp, err := c.withRetry(ctx, transport.OpGetProducerData, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetQueryParam("gateway_type", string(req.GatewayType)).
			Get("/draft-orders/" + strconv.FormatInt(req.DraftOrderID, 10) + "/producer-data")
	})
	if err != nil {
		return nil, err
	}
	return checkout.ProducerData(resp.Body()), nil
}

// SubmitConsumerData forwards the bridge message as received. The message must
// fit the protobuf Struct model, but the body is encoded from the map itself so
// json.Number values keep their literal digits.
// It is never retried: the server may already have acted on the first attempt.
func (c *Client) SubmitConsumerData(ctx context.Context, draftOrderID int64, msg checkout.BridgeMessage) (checkout.ConsumerSubmissionResult, error) {
	if _, err := msg.Struct(); err != nil {
		return checkout.ConsumerSubmissionResult{}, fmt.Errorf("httptransport: %w", err)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return checkout.ConsumerSubmissionResult{}, fmt.Errorf("httptransport: failed to encode consumer data: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Idempotency-Key", uuid.NewString()).
		SetBody(body).
		Post("/draft-orders/" + strconv.FormatInt(draftOrderID, 10) + "/consumer-data")
	if err := checkResponse(transport.OpSubmitConsumerData, resp, err); err != nil {
		return checkout.ConsumerSubmissionResult{}, err
	}

	var result checkout.ConsumerSubmissionResult
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return checkout.ConsumerSubmissionResult{}, fmt.Errorf("httptransport: failed to decode consumer result: %w", err)
	}
	return result, nil
}

// ConfirmPayment looks up the authoritative status once; the caller decides
// what a failure means.
func (c *Client) ConfirmPayment(ctx context.Context, draftOrderID int64) (checkout.ReconciliationOutcome, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/draft-orders/" + strconv.FormatInt(draftOrderID, 10) + "/confirmation")
	if err := checkResponse(transport.OpConfirmPayment, resp, err); err != nil {
		return checkout.ReconciliationOutcome{}, err
	}

	var body confirmationResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return checkout.ReconciliationOutcome{}, fmt.Errorf("httptransport: failed to decode confirmation: %w", err)
	}
	return checkout.ReconciliationOutcome{BusinessOrderID: body.BusinessOrderID}, nil
}

// withRetry runs a pre-payment call, retrying network errors, 429 and 5xx.
func (c *Client) withRetry(ctx context.Context, op string, do func() (*resty.Response, error)) (*resty.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retryAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying checkout call", zap.String("operation", op), zap.Int("attempt", attempt+1), zap.Error(lastErr))
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return nil, fmt.Errorf("httptransport: %s: %w", op, ctx.Err())
			}
		}

		resp, err := do()
		lastErr = checkResponse(op, resp, err)
		if lastErr == nil {
			return resp, nil
		}
		if !retryable(resp, err) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func retryable(resp *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func checkResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("httptransport: %s: %w", op, err)
		}
		return fmt.Errorf("httptransport: %s: %v: %w", op, err, checkout.ErrTransport)
	}
	code := resp.StatusCode()
	switch {
	case code == http.StatusBadRequest, code == http.StatusUnprocessableEntity:
		return fmt.Errorf("httptransport: %s rejected with HTTP %d: %w", op, code, checkout.ErrInvalidRequest)
	case code < 200 || code >= 300:
		return fmt.Errorf("httptransport: %s returned HTTP %d: %w", op, code, checkout.ErrTransport)
	}
	return nil
}
