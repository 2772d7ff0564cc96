package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stagelink/billing/internal/domain"
	"github.com/stagelink/billing/internal/gateway"
)

const checkoutSecret = "checkout-secret"

type settlementFixture struct {
	orders    *stubOrderRepo
	grants    *stubGrantRepo
	campaigns *stubCampaignRepo
	brands    *stubBrandRepo
	documents *stubDocumentService
	svc       SettlementService
}

func newSettlementFixture(t *testing.T) *settlementFixture {
	t.Helper()
	catalog := DefaultCatalog("KA")

	orders := newStubOrderRepo()
	grants := newStubGrantRepo()
	campaigns := newStubCampaignRepo()
	campaigns.campaigns["camp_1"] = domain.Campaign{ID: "camp_1"}
	brands := newStubBrandRepo()
	brands.brands["brand_1"] = domain.Brand{ID: "brand_1"}

	entitlements, err := NewEntitlementService(EntitlementServiceDeps{
		Grants:    grants,
		Campaigns: campaigns,
		Brands:    brands,
		Catalog:   catalog,
		Clock:     fixedClock,
	})
	if err != nil {
		t.Fatalf("NewEntitlementService: %v", err)
	}
	invoices, err := NewInvoiceNumberService(InvoiceNumberServiceDeps{Numbers: orders, Catalog: catalog})
	if err != nil {
		t.Fatalf("NewInvoiceNumberService: %v", err)
	}
	verifier, err := gateway.NewSignatureVerifier(checkoutSecret)
	if err != nil {
		t.Fatalf("NewSignatureVerifier: %v", err)
	}

	documents := &stubDocumentService{}
	svc, err := NewSettlementService(SettlementServiceDeps{
		Orders:       orders,
		UnitOfWork:   stubUnitOfWork{},
		Invoices:     invoices,
		Entitlements: entitlements,
		Documents:    documents,
		Verifier:     verifier,
		Clock:        fixedClock,
	})
	if err != nil {
		t.Fatalf("NewSettlementService: %v", err)
	}
	return &settlementFixture{
		orders:    orders,
		grants:    grants,
		campaigns: campaigns,
		brands:    brands,
		documents: documents,
		svc:       svc,
	}
}

func (f *settlementFixture) seedOrder(status domain.OrderStatus) domain.Order {
	order := domain.Order{
		ID:               "ord_1",
		FeatureKind:      domain.FeatureCreditPurchase,
		Subject:          domain.SubjectRef{SubjectID: "brand_1", PayerID: "usr_1"},
		Amount:           domain.Amount{Base: 84661, TaxLines: []domain.TaxLine{{Label: "IGST", Value: 15239}}, Total: 99900},
		Status:           status,
		ExternalOrderRef: "rzp_order_1",
		CreatedAt:        fixedClock(),
		StatusChangedAt:  fixedClock(),
	}
	f.orders.orders[order.ID] = order
	return order
}

func signedConfirm() ConfirmPaymentCommand {
	return ConfirmPaymentCommand{
		OrderID:            "ord_1",
		ExternalOrderRef:   "rzp_order_1",
		ExternalPaymentRef: "rzp_pay_1",
		Signature:          gateway.SignCheckout(checkoutSecret, "rzp_order_1", "rzp_pay_1"),
	}
}

func TestConfirmPaymentMarksPaidAndActivates(t *testing.T) {
	f := newSettlementFixture(t)
	f.seedOrder(domain.OrderStatusPending)

	result, err := f.svc.ConfirmPayment(context.Background(), signedConfirm())
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if result.AlreadyPaid {
		t.Fatalf("first confirm reported as replay")
	}

	order := result.Order
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("status = %s, want paid", order.Status)
	}
	if order.InvoiceNumber == nil || *order.InvoiceNumber != "SC2603-1" {
		t.Fatalf("invoice number = %v, want SC2603-1", order.InvoiceNumber)
	}
	if order.PaymentRef() != "rzp_pay_1" || order.PaidAt == nil {
		t.Fatalf("payment fields not stamped: %+v", order)
	}
	if credits := f.brands.brands["brand_1"].ScoringCredits; credits != 100 {
		t.Fatalf("credits = %d, want 100", credits)
	}
	if f.grants.inserts != 1 {
		t.Fatalf("grant inserts = %d, want 1", f.grants.inserts)
	}
	if len(f.documents.enqueued) != 1 {
		t.Fatalf("documents enqueued = %d, want 1", len(f.documents.enqueued))
	}
}

func TestConfirmPaymentIsIdempotent(t *testing.T) {
	f := newSettlementFixture(t)
	f.seedOrder(domain.OrderStatusPending)
	cmd := signedConfirm()

	first, err := f.svc.ConfirmPayment(context.Background(), cmd)
	if err != nil {
		t.Fatalf("first ConfirmPayment: %v", err)
	}
	second, err := f.svc.ConfirmPayment(context.Background(), cmd)
	if err != nil {
		t.Fatalf("second ConfirmPayment: %v", err)
	}

	if !second.AlreadyPaid {
		t.Fatalf("second confirm not reported as replay")
	}
	if *second.Order.InvoiceNumber != *first.Order.InvoiceNumber {
		t.Fatalf("invoice number changed on replay: %s vs %s", *first.Order.InvoiceNumber, *second.Order.InvoiceNumber)
	}
	if credits := f.brands.brands["brand_1"].ScoringCredits; credits != 100 {
		t.Fatalf("credits = %d after replay, want 100", credits)
	}
	if f.brands.creditCalls != 1 {
		t.Fatalf("credit mutations = %d, want exactly 1", f.brands.creditCalls)
	}
	if len(f.documents.enqueued) != 1 {
		t.Fatalf("documents enqueued = %d, want 1", len(f.documents.enqueued))
	}
}

func TestConfirmPaymentRejectsBadSignature(t *testing.T) {
	f := newSettlementFixture(t)
	f.seedOrder(domain.OrderStatusPending)
	cmd := signedConfirm()
	cmd.Signature = gateway.SignCheckout("wrong-secret", cmd.ExternalOrderRef, cmd.ExternalPaymentRef)

	_, err := f.svc.ConfirmPayment(context.Background(), cmd)
	if !errors.Is(err, ErrSettlementUnauthorized) {
		t.Fatalf("err = %v, want ErrSettlementUnauthorized", err)
	}

	order := f.orders.orders["ord_1"]
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("status = %s after rejected signature, want pending", order.Status)
	}
	if f.brands.creditCalls != 0 || f.grants.inserts != 0 {
		t.Fatalf("entitlement mutated after rejected signature")
	}
}

func TestConfirmPaymentUnknownOrderRef(t *testing.T) {
	f := newSettlementFixture(t)
	cmd := ConfirmPaymentCommand{
		ExternalOrderRef:   "rzp_order_ghost",
		ExternalPaymentRef: "rzp_pay_1",
		Signature:          gateway.SignCheckout(checkoutSecret, "rzp_order_ghost", "rzp_pay_1"),
	}
	if _, err := f.svc.ConfirmPayment(context.Background(), cmd); !errors.Is(err, ErrSettlementNotFound) {
		t.Fatalf("err = %v, want ErrSettlementNotFound", err)
	}
}

func TestAcknowledgePaymentMovesPendingToProcessing(t *testing.T) {
	f := newSettlementFixture(t)
	f.seedOrder(domain.OrderStatusPending)

	order, err := f.svc.AcknowledgePayment(context.Background(), "rzp_order_1", "rzp_pay_1")
	if err != nil {
		t.Fatalf("AcknowledgePayment: %v", err)
	}
	if order.Status != domain.OrderStatusProcessing {
		t.Fatalf("status = %s, want processing", order.Status)
	}
	if order.PaymentRef() != "rzp_pay_1" {
		t.Fatalf("payment ref = %q", order.PaymentRef())
	}

	// A repeated notification moves nothing.
	again, err := f.svc.AcknowledgePayment(context.Background(), "rzp_order_1", "rzp_pay_1")
	if err != nil {
		t.Fatalf("repeat AcknowledgePayment: %v", err)
	}
	if again.Status != domain.OrderStatusProcessing {
		t.Fatalf("status after repeat = %s", again.Status)
	}
}

func TestFailPaymentRecordsReason(t *testing.T) {
	f := newSettlementFixture(t)
	f.seedOrder(domain.OrderStatusProcessing)

	order, err := f.svc.FailPayment(context.Background(), "rzp_order_1", "rzp_pay_1", "card declined")
	if err != nil {
		t.Fatalf("FailPayment: %v", err)
	}
	if order.Status != domain.OrderStatusFailed {
		t.Fatalf("status = %s, want failed", order.Status)
	}
	if order.FailureReason == nil || *order.FailureReason != "card declined" {
		t.Fatalf("failure reason = %v", order.FailureReason)
	}
	if f.brands.creditCalls != 0 {
		t.Fatalf("entitlement mutated on failure")
	}
}

func TestMarkDeductedNotReceived(t *testing.T) {
	f := newSettlementFixture(t)
	seeded := f.seedOrder(domain.OrderStatusProcessing)
	ref := "rzp_pay_1"
	seeded.ExternalPaymentRef = &ref
	f.orders.orders[seeded.ID] = seeded

	order, err := f.svc.MarkDeductedNotReceived(context.Background(), "ord_1", "authorized but never captured")
	if err != nil {
		t.Fatalf("MarkDeductedNotReceived: %v", err)
	}
	if order.Status != domain.OrderStatusDeductedNotReceived {
		t.Fatalf("status = %s, want deducted_not_received", order.Status)
	}
	if order.OperatorNote == nil || *order.OperatorNote == "" {
		t.Fatalf("operator note missing")
	}

	// Not reachable from PENDING; no payment was ever attempted there.
	f.seedOrder(domain.OrderStatusPending)
	if _, err := f.svc.MarkDeductedNotReceived(context.Background(), "ord_1", "note"); !errors.Is(err, ErrSettlementInvalidState) {
		t.Fatalf("err = %v, want ErrSettlementInvalidState", err)
	}
}

func TestResolveStuckOrderForcesPaid(t *testing.T) {
	f := newSettlementFixture(t)
	seeded := f.seedOrder(domain.OrderStatusDeductedNotReceived)
	ref := "rzp_pay_1"
	seeded.ExternalPaymentRef = &ref
	f.orders.orders[seeded.ID] = seeded

	order, err := f.svc.ResolveStuckOrder(context.Background(), "ord_1", ManualOutcomePaid, "settlement confirmed on gateway dashboard")
	if err != nil {
		t.Fatalf("ResolveStuckOrder: %v", err)
	}
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("status = %s, want paid", order.Status)
	}
	if order.InvoiceNumber == nil {
		t.Fatalf("invoice number not allocated on manual resolution")
	}
	if credits := f.brands.brands["brand_1"].ScoringCredits; credits != 100 {
		t.Fatalf("credits = %d, want 100", credits)
	}
	if len(f.documents.enqueued) != 1 {
		t.Fatalf("documents enqueued = %d, want 1", len(f.documents.enqueued))
	}

	// Only stuck orders are manually resolvable.
	if _, err := f.svc.ResolveStuckOrder(context.Background(), "ord_1", ManualOutcomeFailed, "x"); !errors.Is(err, ErrSettlementInvalidState) {
		t.Fatalf("err = %v, want ErrSettlementInvalidState", err)
	}
}
