// Package gateway defines the payment gateway collaborator: the narrow
// interface the settlement engine consumes, plus signature verification for
// payment outcomes claimed by clients and webhooks.
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// PaymentState enumerates the normalised gateway-side payment states.
type PaymentState string

const (
	// StateCreated indicates the payment record exists but no attempt completed.
	StateCreated PaymentState = "created"
	// StateAuthorized indicates funds were deducted but not yet captured.
	StateAuthorized PaymentState = "authorized"
	// StateCaptured indicates funds were settled to the merchant.
	StateCaptured PaymentState = "captured"
	// StateFailed indicates the payment attempt failed.
	StateFailed PaymentState = "failed"
	// StateRefunded indicates the payment was reversed after capture.
	StateRefunded PaymentState = "refunded"
)

var (
	// ErrUnavailable indicates a transient gateway outage or timeout.
	ErrUnavailable = errors.New("gateway: unavailable")
	// ErrNotFound indicates the referenced order/payment does not exist on the gateway.
	ErrNotFound = errors.New("gateway: not found")
	// ErrRejected indicates the gateway refused the request as invalid.
	ErrRejected = errors.New("gateway: rejected")
)

// OpenOrderRequest opens a gateway order ahead of a checkout attempt.
type OpenOrderRequest struct {
	Amount         int64
	Currency       string
	ReceiptID      string
	IdempotencyKey string
	Notes          map[string]string
}

// OpenOrderResult returns the gateway's own order reference.
type OpenOrderResult struct {
	OrderRef string
}

// PaymentDetails is the gateway's ground truth for one payment attempt,
// fetched by the reconciliation sweeper when outcome notifications were lost.
type PaymentDetails struct {
	PaymentRef       string
	OrderRef         string
	State            PaymentState
	Amount           int64
	Currency         string
	ErrorDescription string
	CapturedAt       *time.Time
}

// Gateway is the collaborator contract implemented by the HTTP adapter and by
// test fakes.
type Gateway interface {
	OpenOrder(ctx context.Context, req OpenOrderRequest) (OpenOrderResult, error)
	GetPaymentStatus(ctx context.Context, paymentRef string) (PaymentDetails, error)
}

// SignatureVerifier checks outcome signatures against the shared checkout
// secret. It is the only defense against forged success claims.
type SignatureVerifier struct {
	secret []byte
}

// NewSignatureVerifier builds a verifier over the shared secret.
func NewSignatureVerifier(secret string) (*SignatureVerifier, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, errors.New("gateway: signature secret is required")
	}
	return &SignatureVerifier{secret: []byte(trimmed)}, nil
}

// VerifyCheckout reports whether signature is a valid MAC over the
// (orderRef, paymentRef) pair presented by a client after checkout.
func (v *SignatureVerifier) VerifyCheckout(orderRef, paymentRef, signature string) bool {
	if v == nil || orderRef == "" || paymentRef == "" {
		return false
	}
	claimed, err := decodeSignature(signature)
	if err != nil {
		return false
	}
	expected := computeHMAC(v.secret, []byte(orderRef+"|"+paymentRef))
	return hmac.Equal(claimed, expected)
}

// VerifyWebhook reports whether signature is a valid MAC over a raw webhook
// body.
func (v *SignatureVerifier) VerifyWebhook(body []byte, signature string) bool {
	if v == nil {
		return false
	}
	claimed, err := decodeSignature(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(claimed, computeHMAC(v.secret, body))
}

func decodeSignature(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.New("gateway: empty signature")
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("gateway: signature must be hex or base64 encoded")
}

func computeHMAC(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}

// SignCheckout produces the canonical checkout signature. Exposed for test
// fakes that stand in for the gateway.
func SignCheckout(secret, orderRef, paymentRef string) string {
	return hex.EncodeToString(computeHMAC([]byte(secret), []byte(orderRef+"|"+paymentRef)))
}

// SignWebhook produces the canonical webhook body signature.
func SignWebhook(secret string, body []byte) string {
	return hex.EncodeToString(computeHMAC([]byte(secret), body))
}
