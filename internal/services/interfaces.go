// Package services implements the billing engine: order creation with tax
// computation, signature-verified settlement, invoice numbering, idempotent
// entitlement activation, and background reconciliation.
package services

import (
	"context"
	"time"

	"github.com/stagelink/billing/internal/domain"
)

// OrderService opens and reads purchase attempt records.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
}

// CreateOrderCommand carries the inputs for opening a purchase attempt.
type CreateOrderCommand struct {
	FeatureKind domain.FeatureKind
	Subject     domain.SubjectRef
	// BuyerState is the buyer's registered state code used for tax treatment.
	BuyerState string
}

// CreateOrderResult returns the persisted order including the gateway reference
// the client needs to start checkout.
type CreateOrderResult struct {
	Order domain.Order
}

// OutcomeSource labels which path fed a gateway outcome into the settlement
// transitions, so missed-webhook recoveries are logged distinctly.
type OutcomeSource string

const (
	// OutcomeSourceCheckout is the client-presented signed outcome.
	OutcomeSourceCheckout OutcomeSource = "checkout"
	// OutcomeSourceWebhook is an asynchronous gateway notification.
	OutcomeSourceWebhook OutcomeSource = "webhook"
	// OutcomeSourceSweeper is the reconciliation sweep querying the gateway directly.
	OutcomeSourceSweeper OutcomeSource = "sweeper"
	// OutcomeSourceOperator is a manual resolution of a stuck order.
	OutcomeSourceOperator OutcomeSource = "operator"
)

// ConfirmPaymentCommand carries a claimed payment outcome from the client.
type ConfirmPaymentCommand struct {
	OrderID            string
	ExternalOrderRef   string
	ExternalPaymentRef string
	Signature          string
}

// SettlementResult reports the order state after a settlement attempt.
// AlreadyPaid marks the idempotent short-circuit for duplicate confirmations.
type SettlementResult struct {
	Order       domain.Order
	AlreadyPaid bool
}

// ManualOutcome is the operator's forced resolution of a stuck order.
type ManualOutcome string

const (
	// ManualOutcomePaid forces the PAID transition, including invoice
	// allocation and entitlement activation.
	ManualOutcomePaid ManualOutcome = "paid"
	// ManualOutcomeFailed forces the FAILED transition.
	ManualOutcomeFailed ManualOutcome = "failed"
)

// SettlementService validates claimed payment outcomes and drives order
// state transitions.
type SettlementService interface {
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (SettlementResult, error)
	// AcknowledgePayment records that a payment was attempted but settlement
	// is not yet certain (PENDING to PROCESSING).
	AcknowledgePayment(ctx context.Context, externalOrderRef, externalPaymentRef string) (domain.Order, error)
	// ApplyGatewayOutcome drives the shared transition path for outcomes
	// fetched from the gateway by the webhook consumer or the sweeper.
	ApplyGatewayOutcome(ctx context.Context, orderID string, outcome GatewayOutcome, source OutcomeSource) (SettlementResult, error)
	// FailPayment moves an open order to FAILED with a reason.
	FailPayment(ctx context.Context, externalOrderRef, externalPaymentRef, reason string) (domain.Order, error)
	// MarkDeductedNotReceived parks a PROCESSING order whose funds left the
	// buyer but never settled, recording a note for the operator.
	MarkDeductedNotReceived(ctx context.Context, orderID, note string) (domain.Order, error)
	// ResolveStuckOrder lets an operator force a DEDUCTED_NOT_RECEIVED order
	// to PAID or FAILED out of band.
	ResolveStuckOrder(ctx context.Context, orderID string, outcome ManualOutcome, note string) (domain.Order, error)
}

// GatewayOutcome is a settlement-relevant fact fetched from the gateway.
type GatewayOutcome struct {
	ExternalPaymentRef string
	Captured           bool
	Failed             bool
	FailureReason      string
}

// InvoiceNumberAllocator returns the next unused invoice number for the
// (featureKind, year, month) scope at the given instant. Callers invoke it
// only inside the transaction performing the PAID transition.
type InvoiceNumberAllocator interface {
	NextInvoiceNumber(ctx context.Context, kind domain.FeatureKind, at time.Time) (string, error)
}

// EntitlementService prechecks eligibility and applies feature-specific
// entitlement mutations exactly once per order.
type EntitlementService interface {
	// Precheck reports whether the subject may purchase the feature.
	Precheck(ctx context.Context, kind domain.FeatureKind, subject domain.SubjectRef) error
	// Activate applies the entitlement for the order. Safe to call
	// redundantly; a repeated call for the same order applies nothing.
	Activate(ctx context.Context, order domain.Order) error
}

// SweepReport summarises one reconciliation pass.
type SweepReport struct {
	Scanned     int
	Paid        int
	Failed      int
	MarkedStuck int
	Skipped     int
}

// ReconciliationService re-drives settlement for orders whose outcome
// notification was lost or delayed.
type ReconciliationService interface {
	SweepOnce(ctx context.Context) (SweepReport, error)
}

// DocumentPublisher enqueues invoice document generation jobs.
type DocumentPublisher interface {
	PublishDocumentJob(ctx context.Context, job domain.InvoiceDocumentJob) (string, error)
}

// DocumentRenderer produces the invoice document bytes for a paid order.
type DocumentRenderer interface {
	Render(ctx context.Context, order domain.Order) (data []byte, contentType string, err error)
}

// DocumentStore persists a rendered document and returns its URL.
type DocumentStore interface {
	Put(ctx context.Context, objectName, contentType string, data []byte) (string, error)
}

// DocumentService dispatches and processes invoice document generation.
type DocumentService interface {
	// EnqueueInvoiceDocument publishes a generation job for a paid order.
	// Failures are logged, never propagated; the document is a derived
	// artifact of the payment truth.
	EnqueueInvoiceDocument(ctx context.Context, order domain.Order)
	// ProcessDocumentJob renders and stores the document, stamping the URL
	// on the order. Skips work when a document is already stored.
	ProcessDocumentJob(ctx context.Context, job domain.InvoiceDocumentJob) error
}
