package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stagelink/billing/internal/domain"
	"github.com/stagelink/billing/internal/gateway"
	"github.com/stagelink/billing/internal/services"
)

const webhookSecret = "webhook-secret"

func newWebhookRouter(t *testing.T, settlement *stubSettlementService) http.Handler {
	t.Helper()
	verifier, err := gateway.NewSignatureVerifier(webhookSecret)
	if err != nil {
		t.Fatalf("NewSignatureVerifier: %v", err)
	}
	h := NewWebhookHandlers(settlement, verifier)
	return NewRouter(WithWebhookRoutes(h.Routes))
}

func postWebhook(router http.Handler, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/gateway", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(webhookSignatureHeader, signature)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	settlement := &stubSettlementService{}
	router := newWebhookRouter(t, settlement)

	body := `{"event":"payment.authorized","payload":{"orderRef":"rzp_order_1","paymentRef":"rzp_pay_1"}}`
	rr := postWebhook(router, body, gateway.SignWebhook("wrong-secret", []byte(body)))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if settlement.ackCalls != 0 {
		t.Fatalf("settlement reached despite rejected signature")
	}
}

func TestWebhookAuthorizedAcknowledges(t *testing.T) {
	settlement := &stubSettlementService{ackOrder: domain.Order{ID: "ord_1", Status: domain.OrderStatusProcessing}}
	router := newWebhookRouter(t, settlement)

	body := `{"event":"payment.authorized","payload":{"orderRef":"rzp_order_1","paymentRef":"rzp_pay_1"}}`
	rr := postWebhook(router, body, gateway.SignWebhook(webhookSecret, []byte(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rr.Code, rr.Body.String())
	}
	if settlement.ackCalls != 1 {
		t.Fatalf("ack calls = %d, want 1", settlement.ackCalls)
	}
}

func TestWebhookCapturedSettles(t *testing.T) {
	settlement := &stubSettlementService{
		ackOrder:    domain.Order{ID: "ord_1", Status: domain.OrderStatusProcessing},
		applyResult: services.SettlementResult{Order: domain.Order{ID: "ord_1", Status: domain.OrderStatusPaid}},
	}
	router := newWebhookRouter(t, settlement)

	body := `{"event":"payment.captured","payload":{"orderRef":"rzp_order_1","paymentRef":"rzp_pay_1"}}`
	rr := postWebhook(router, body, gateway.SignWebhook(webhookSecret, []byte(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rr.Code, rr.Body.String())
	}
	if settlement.ackCalls != 1 || settlement.applyCalls != 1 {
		t.Fatalf("ack = %d apply = %d, want 1/1", settlement.ackCalls, settlement.applyCalls)
	}
}

func TestWebhookFailedRecordsFailure(t *testing.T) {
	settlement := &stubSettlementService{failOrder: domain.Order{ID: "ord_1", Status: domain.OrderStatusFailed}}
	router := newWebhookRouter(t, settlement)

	body := `{"event":"payment.failed","payload":{"orderRef":"rzp_order_1","paymentRef":"rzp_pay_1","errorDescription":"card declined"}}`
	rr := postWebhook(router, body, gateway.SignWebhook(webhookSecret, []byte(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if settlement.failCalls != 1 {
		t.Fatalf("fail calls = %d, want 1", settlement.failCalls)
	}
}

func TestWebhookIgnoresUnknownEvents(t *testing.T) {
	settlement := &stubSettlementService{}
	router := newWebhookRouter(t, settlement)

	body := `{"event":"refund.processed","payload":{"orderRef":"rzp_order_1"}}`
	rr := postWebhook(router, body, gateway.SignWebhook(webhookSecret, []byte(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "ignored") {
		t.Fatalf("body = %s, want ignored status", rr.Body.String())
	}
}

func TestWebhookUnknownOrderIsAcknowledged(t *testing.T) {
	settlement := &stubSettlementService{ackErr: services.ErrSettlementNotFound}
	router := newWebhookRouter(t, settlement)

	body := `{"event":"payment.authorized","payload":{"orderRef":"rzp_order_ghost","paymentRef":"rzp_pay_1"}}`
	rr := postWebhook(router, body, gateway.SignWebhook(webhookSecret, []byte(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 so the gateway stops retrying", rr.Code)
	}
}
