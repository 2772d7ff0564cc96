package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultRequestTimeout = 10 * time.Second

// HTTPGateway talks to the payment gateway's REST API with basic-auth API
// credentials. Every call carries a bounded timeout; there is no internal
// retry, callers (order creation, the sweeper) decide whether to retry.
type HTTPGateway struct {
	baseURL   string
	keyID     string
	keySecret string
	client    *http.Client
}

// HTTPGatewayOption customises the adapter.
type HTTPGatewayOption func(*HTTPGateway)

// WithHTTPClient overrides the underlying HTTP client, primarily for tests.
func WithHTTPClient(client *http.Client) HTTPGatewayOption {
	return func(g *HTTPGateway) {
		if client != nil {
			g.client = client
		}
	}
}

// WithRequestTimeout bounds each gateway call.
func WithRequestTimeout(d time.Duration) HTTPGatewayOption {
	return func(g *HTTPGateway) {
		if d > 0 {
			g.client.Timeout = d
		}
	}
}

// NewHTTPGateway constructs the adapter over the configured endpoint and key
// pair.
func NewHTTPGateway(baseURL, keyID, keySecret string, opts ...HTTPGatewayOption) (*HTTPGateway, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("gateway: base url is required")
	}
	if strings.TrimSpace(keyID) == "" || strings.TrimSpace(keySecret) == "" {
		return nil, errors.New("gateway: api key id and secret are required")
	}

	g := &HTTPGateway{
		baseURL:   baseURL,
		keyID:     strings.TrimSpace(keyID),
		keySecret: strings.TrimSpace(keySecret),
		client:    &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

type openOrderPayload struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type openOrderResponse struct {
	ID string `json:"id"`
}

// OpenOrder creates a gateway order and returns its reference. Transient
// transport failures map to ErrUnavailable so callers can surface a clean
// retryable error without persisting anything.
func (g *HTTPGateway) OpenOrder(ctx context.Context, req OpenOrderRequest) (OpenOrderResult, error) {
	if g == nil || g.client == nil {
		return OpenOrderResult{}, ErrUnavailable
	}
	if req.Amount <= 0 {
		return OpenOrderResult{}, fmt.Errorf("%w: non-positive amount", ErrRejected)
	}

	payload := openOrderPayload{
		Amount:   req.Amount,
		Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
		Receipt:  strings.TrimSpace(req.ReceiptID),
		Notes:    req.Notes,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return OpenOrderResult{}, fmt.Errorf("gateway: encode order request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return OpenOrderResult{}, fmt.Errorf("gateway: build order request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		httpReq.Header.Set("Idempotency-Key", key)
	}

	var decoded openOrderResponse
	if err := g.do(httpReq, &decoded); err != nil {
		return OpenOrderResult{}, err
	}
	if strings.TrimSpace(decoded.ID) == "" {
		return OpenOrderResult{}, fmt.Errorf("%w: order response missing id", ErrRejected)
	}
	return OpenOrderResult{OrderRef: decoded.ID}, nil
}

type paymentResponse struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	ErrorDescription string `json:"error_description"`
	CapturedAt       int64  `json:"captured_at"`
}

// GetPaymentStatus fetches the gateway's ground truth for a payment reference.
func (g *HTTPGateway) GetPaymentStatus(ctx context.Context, paymentRef string) (PaymentDetails, error) {
	if g == nil || g.client == nil {
		return PaymentDetails{}, ErrUnavailable
	}
	paymentRef = strings.TrimSpace(paymentRef)
	if paymentRef == "" {
		return PaymentDetails{}, fmt.Errorf("%w: payment ref is required", ErrRejected)
	}

	endpoint := g.baseURL + "/v1/payments/" + url.PathEscape(paymentRef)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("gateway: build payment request: %w", err)
	}

	var decoded paymentResponse
	if err := g.do(httpReq, &decoded); err != nil {
		return PaymentDetails{}, err
	}

	details := PaymentDetails{
		PaymentRef:       decoded.ID,
		OrderRef:         decoded.OrderID,
		State:            PaymentState(strings.ToLower(strings.TrimSpace(decoded.Status))),
		Amount:           decoded.Amount,
		Currency:         decoded.Currency,
		ErrorDescription: decoded.ErrorDescription,
	}
	if decoded.CapturedAt > 0 {
		captured := time.Unix(decoded.CapturedAt, 0).UTC()
		details.CapturedAt = &captured
	}
	return details, nil
}

func (g *HTTPGateway) do(req *http.Request, out any) error {
	req.SetBasicAuth(g.keyID, g.keySecret)

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrRejected, err)
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: gateway returned %d", ErrUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("%w: gateway returned %d: %s", ErrRejected, resp.StatusCode, truncate(body, 256))
	}
}

func truncate(b []byte, limit int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		s = s[:limit]
	}
	return s
}
