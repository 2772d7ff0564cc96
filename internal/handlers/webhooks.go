package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stagelink/billing/internal/gateway"
	"github.com/stagelink/billing/internal/platform/httpx"
	"github.com/stagelink/billing/internal/services"
)

const (
	maxWebhookBody         = 64 * 1024
	webhookSignatureHeader = "X-Razorpay-Signature"

	eventPaymentAuthorized = "payment.authorized"
	eventPaymentCaptured   = "payment.captured"
	eventPaymentFailed     = "payment.failed"
)

// WebhookHandlers ingests asynchronous gateway notifications. The raw body is
// verified against the webhook signing secret before any field is trusted.
type WebhookHandlers struct {
	settlement services.SettlementService
	verifier   *gateway.SignatureVerifier
}

// NewWebhookHandlers constructs the gateway webhook endpoint.
func NewWebhookHandlers(settlement services.SettlementService, verifier *gateway.SignatureVerifier) *WebhookHandlers {
	return &WebhookHandlers{settlement: settlement, verifier: verifier}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/gateway", h.handleGatewayEvent)
}

type gatewayEvent struct {
	Event   string `json:"event"`
	Payload struct {
		OrderRef         string `json:"orderRef"`
		PaymentRef       string `json:"paymentRef"`
		ErrorDescription string `json:"errorDescription"`
	} `json:"payload"`
}

func (h *WebhookHandlers) handleGatewayEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readLimitedBody(r, maxWebhookBody)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	signature := strings.TrimSpace(r.Header.Get(webhookSignatureHeader))
	if !h.verifier.VerifyWebhook(body, signature) {
		httpx.WriteError(ctx, w, httpx.NewError("signature_rejected", "webhook signature does not verify", http.StatusUnauthorized))
		return
	}

	var event gatewayEvent
	if err := json.Unmarshal(body, &event); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "webhook body must be valid JSON", http.StatusBadRequest))
		return
	}
	if event.Payload.OrderRef == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payload.orderRef is required", http.StatusBadRequest))
		return
	}

	switch event.Event {
	case eventPaymentAuthorized:
		_, err = h.settlement.AcknowledgePayment(ctx, event.Payload.OrderRef, event.Payload.PaymentRef)
	case eventPaymentCaptured:
		err = h.applyCaptured(ctx, event)
	case eventPaymentFailed:
		_, err = h.settlement.FailPayment(ctx, event.Payload.OrderRef, event.Payload.PaymentRef, event.Payload.ErrorDescription)
	default:
		// Unrecognised events are acknowledged so the gateway stops retrying.
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}
	if err != nil {
		writeWebhookError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// applyCaptured settles a captured payment. The acknowledge step resolves the
// external order ref to the ledger order and is a no-op when the order already
// moved past PENDING.
func (h *WebhookHandlers) applyCaptured(ctx context.Context, event gatewayEvent) error {
	order, err := h.settlement.AcknowledgePayment(ctx, event.Payload.OrderRef, event.Payload.PaymentRef)
	if err != nil {
		return err
	}
	_, err = h.settlement.ApplyGatewayOutcome(ctx, order.ID, services.GatewayOutcome{
		ExternalPaymentRef: event.Payload.PaymentRef,
		Captured:           true,
	}, services.OutcomeSourceWebhook)
	return err
}

func writeWebhookError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrSettlementNotFound):
		// Unknown refs are acknowledged; retrying will never resolve them.
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
	case errors.Is(err, services.ErrSettlementInvalidState):
		// Late notification for an order that already reached a terminal
		// state; acknowledged so the gateway stops retrying.
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
	case errors.Is(err, services.ErrSettlementInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal error", http.StatusInternalServerError))
	}
}
