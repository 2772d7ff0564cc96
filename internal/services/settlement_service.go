package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stagelink/billing/internal/domain"
	"github.com/stagelink/billing/internal/gateway"
	"github.com/stagelink/billing/internal/repositories"
)

var (
	// ErrSettlementInvalidInput indicates the command failed validation.
	ErrSettlementInvalidInput = errors.New("settlement: invalid input")
	// ErrSettlementUnauthorized indicates the outcome signature did not verify.
	ErrSettlementUnauthorized = errors.New("settlement: signature rejected")
	// ErrSettlementNotFound indicates no order matches the reference.
	ErrSettlementNotFound = errors.New("settlement: order not found")
	// ErrSettlementInvalidState indicates the order cannot take the transition.
	ErrSettlementInvalidState = errors.New("settlement: invalid order state")
	// ErrSettlementUnavailable indicates the order store could not be reached.
	ErrSettlementUnavailable = errors.New("settlement: store unavailable")
)

// SettlementServiceDeps lists the collaborators settlement needs.
type SettlementServiceDeps struct {
	Orders       repositories.OrderRepository
	UnitOfWork   repositories.UnitOfWork
	Invoices     InvoiceNumberAllocator
	Entitlements EntitlementService
	Documents    DocumentService
	Verifier     *gateway.SignatureVerifier
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type settlementService struct {
	orders       repositories.OrderRepository
	uow          repositories.UnitOfWork
	invoices     InvoiceNumberAllocator
	entitlements EntitlementService
	documents    DocumentService
	verifier     *gateway.SignatureVerifier
	clock        func() time.Time
	logger       func(ctx context.Context, event string, fields map[string]any)
}

// NewSettlementService builds the settlement verifier. Every transition runs
// inside one unit of work so invoice allocation, entitlement activation, and
// the order update commit or fail together.
func NewSettlementService(deps SettlementServiceDeps) (SettlementService, error) {
	if deps.Orders == nil {
		return nil, errors.New("settlement service: order repository is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("settlement service: unit of work is required")
	}
	if deps.Invoices == nil {
		return nil, errors.New("settlement service: invoice allocator is required")
	}
	if deps.Entitlements == nil {
		return nil, errors.New("settlement service: entitlement service is required")
	}
	if deps.Documents == nil {
		return nil, errors.New("settlement service: document service is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("settlement service: signature verifier is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &settlementService{
		orders:       deps.Orders,
		uow:          deps.UnitOfWork,
		invoices:     deps.Invoices,
		entitlements: deps.Entitlements,
		documents:    deps.Documents,
		verifier:     deps.Verifier,
		clock:        func() time.Time { return clock().UTC() },
		logger:       logger,
	}, nil
}

func (s *settlementService) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (SettlementResult, error) {
	if cmd.ExternalOrderRef == "" {
		return SettlementResult{}, fmt.Errorf("%w: external order ref is required", ErrSettlementInvalidInput)
	}
	if cmd.ExternalPaymentRef == "" {
		return SettlementResult{}, fmt.Errorf("%w: external payment ref is required", ErrSettlementInvalidInput)
	}

	if !s.verifier.VerifyCheckout(cmd.ExternalOrderRef, cmd.ExternalPaymentRef, cmd.Signature) {
		s.logger(ctx, "settlement.signature.rejected", map[string]any{
			"external_order_ref":   cmd.ExternalOrderRef,
			"external_payment_ref": cmd.ExternalPaymentRef,
			"reason":               "possible tampering",
		})
		return SettlementResult{}, fmt.Errorf("%w: checkout signature does not verify", ErrSettlementUnauthorized)
	}

	var result SettlementResult
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.FindByExternalOrderRef(ctx, cmd.ExternalOrderRef)
		if err != nil {
			return mapSettlementError(err)
		}
		if cmd.OrderID != "" && cmd.OrderID != order.ID {
			return fmt.Errorf("%w: order id does not match external order ref", ErrSettlementInvalidInput)
		}
		if order.Status == domain.OrderStatusPaid {
			result = SettlementResult{Order: order, AlreadyPaid: true}
			return nil
		}
		if !order.Status.IsOpen() {
			return fmt.Errorf("%w: order %s is %s", ErrSettlementInvalidState, order.ID, order.Status)
		}
		paid, err := s.markPaid(ctx, order, cmd.ExternalPaymentRef, "")
		if err != nil {
			return err
		}
		result = SettlementResult{Order: paid}
		return nil
	})
	if err != nil {
		return SettlementResult{}, err
	}

	if result.AlreadyPaid {
		s.logger(ctx, "settlement.confirm.replayed", map[string]any{
			"order_id":             result.Order.ID,
			"external_payment_ref": result.Order.PaymentRef(),
		})
		return result, nil
	}

	s.logger(ctx, "settlement.confirmed", map[string]any{
		"order_id":       result.Order.ID,
		"invoice_number": derefString(result.Order.InvoiceNumber),
		"source":         string(OutcomeSourceCheckout),
	})
	s.documents.EnqueueInvoiceDocument(ctx, result.Order)
	return result, nil
}

func (s *settlementService) AcknowledgePayment(ctx context.Context, externalOrderRef, externalPaymentRef string) (domain.Order, error) {
	if externalOrderRef == "" {
		return domain.Order{}, fmt.Errorf("%w: external order ref is required", ErrSettlementInvalidInput)
	}

	var acked domain.Order
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.FindByExternalOrderRef(ctx, externalOrderRef)
		if err != nil {
			return mapSettlementError(err)
		}
		switch order.Status {
		case domain.OrderStatusPending:
			now := s.clock()
			order.Status = domain.OrderStatusProcessing
			order.StatusChangedAt = now
			if externalPaymentRef != "" {
				order.ExternalPaymentRef = &externalPaymentRef
			}
			if err := s.orders.Update(ctx, order); err != nil {
				return mapSettlementError(err)
			}
			acked = order
			return nil
		case domain.OrderStatusProcessing, domain.OrderStatusPaid:
			// Repeat notification, nothing to move.
			acked = order
			return nil
		default:
			return fmt.Errorf("%w: order %s is %s", ErrSettlementInvalidState, order.ID, order.Status)
		}
	})
	if err != nil {
		return domain.Order{}, err
	}
	return acked, nil
}

func (s *settlementService) ApplyGatewayOutcome(ctx context.Context, orderID string, outcome GatewayOutcome, source OutcomeSource) (SettlementResult, error) {
	if orderID == "" {
		return SettlementResult{}, fmt.Errorf("%w: order id is required", ErrSettlementInvalidInput)
	}
	if !outcome.Captured && !outcome.Failed {
		return SettlementResult{}, fmt.Errorf("%w: outcome must be captured or failed", ErrSettlementInvalidInput)
	}

	var result SettlementResult
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return mapSettlementError(err)
		}
		if order.Status == domain.OrderStatusPaid {
			result = SettlementResult{Order: order, AlreadyPaid: true}
			return nil
		}
		if !order.Status.IsOpen() {
			return fmt.Errorf("%w: order %s is %s", ErrSettlementInvalidState, order.ID, order.Status)
		}
		if outcome.Captured {
			paid, err := s.markPaid(ctx, order, outcome.ExternalPaymentRef, "")
			if err != nil {
				return err
			}
			result = SettlementResult{Order: paid}
			return nil
		}
		failed, err := s.markFailed(ctx, order, outcome.ExternalPaymentRef, outcome.FailureReason)
		if err != nil {
			return err
		}
		result = SettlementResult{Order: failed}
		return nil
	})
	if err != nil {
		return SettlementResult{}, err
	}

	if result.AlreadyPaid {
		return result, nil
	}
	if result.Order.Status == domain.OrderStatusPaid {
		event := "settlement.confirmed"
		if source == OutcomeSourceSweeper {
			event = "settlement.recovered"
		}
		s.logger(ctx, event, map[string]any{
			"order_id":       result.Order.ID,
			"invoice_number": derefString(result.Order.InvoiceNumber),
			"source":         string(source),
		})
		s.documents.EnqueueInvoiceDocument(ctx, result.Order)
	} else {
		s.logger(ctx, "settlement.failed", map[string]any{
			"order_id": result.Order.ID,
			"reason":   derefString(result.Order.FailureReason),
			"source":   string(source),
		})
	}
	return result, nil
}

func (s *settlementService) FailPayment(ctx context.Context, externalOrderRef, externalPaymentRef, reason string) (domain.Order, error) {
	if externalOrderRef == "" {
		return domain.Order{}, fmt.Errorf("%w: external order ref is required", ErrSettlementInvalidInput)
	}

	var failed domain.Order
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.FindByExternalOrderRef(ctx, externalOrderRef)
		if err != nil {
			return mapSettlementError(err)
		}
		if order.Status == domain.OrderStatusFailed {
			failed = order
			return nil
		}
		if !order.Status.IsOpen() {
			return fmt.Errorf("%w: order %s is %s", ErrSettlementInvalidState, order.ID, order.Status)
		}
		failed, err = s.markFailed(ctx, order, externalPaymentRef, reason)
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.logger(ctx, "settlement.failed", map[string]any{
		"order_id": failed.ID,
		"reason":   derefString(failed.FailureReason),
		"source":   string(OutcomeSourceWebhook),
	})
	return failed, nil
}

func (s *settlementService) MarkDeductedNotReceived(ctx context.Context, orderID, note string) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrSettlementInvalidInput)
	}

	var stuck domain.Order
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return mapSettlementError(err)
		}
		if order.Status == domain.OrderStatusDeductedNotReceived {
			stuck = order
			return nil
		}
		if order.Status != domain.OrderStatusProcessing {
			return fmt.Errorf("%w: order %s is %s", ErrSettlementInvalidState, order.ID, order.Status)
		}
		order.Status = domain.OrderStatusDeductedNotReceived
		order.StatusChangedAt = s.clock()
		if note != "" {
			order.OperatorNote = &note
		}
		if err := s.orders.Update(ctx, order); err != nil {
			return mapSettlementError(err)
		}
		stuck = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.logger(ctx, "settlement.stuck", map[string]any{
		"order_id": stuck.ID,
		"note":     derefString(stuck.OperatorNote),
	})
	return stuck, nil
}

func (s *settlementService) ResolveStuckOrder(ctx context.Context, orderID string, outcome ManualOutcome, note string) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrSettlementInvalidInput)
	}
	if outcome != ManualOutcomePaid && outcome != ManualOutcomeFailed {
		return domain.Order{}, fmt.Errorf("%w: unsupported manual outcome %q", ErrSettlementInvalidInput, outcome)
	}

	var resolved domain.Order
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return mapSettlementError(err)
		}
		if order.Status != domain.OrderStatusDeductedNotReceived {
			return fmt.Errorf("%w: order %s is %s", ErrSettlementInvalidState, order.ID, order.Status)
		}
		if outcome == ManualOutcomePaid {
			resolved, err = s.markPaid(ctx, order, order.PaymentRef(), note)
			return err
		}
		resolved, err = s.markFailed(ctx, order, order.PaymentRef(), note)
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger(ctx, "settlement.resolved", map[string]any{
		"order_id": resolved.ID,
		"outcome":  string(outcome),
		"source":   string(OutcomeSourceOperator),
	})
	if resolved.Status == domain.OrderStatusPaid {
		s.documents.EnqueueInvoiceDocument(ctx, resolved)
	}
	return resolved, nil
}

// markPaid performs the PAID transition inside the caller's transaction:
// invoice allocation, entitlement activation, then the order update. All
// reads happen before the first write so the transaction stays valid under
// Firestore's read-then-write rule.
func (s *settlementService) markPaid(ctx context.Context, order domain.Order, paymentRef, operatorNote string) (domain.Order, error) {
	now := s.clock()
	number, err := s.invoices.NextInvoiceNumber(ctx, order.FeatureKind, now)
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.entitlements.Activate(ctx, order); err != nil {
		return domain.Order{}, err
	}

	order.Status = domain.OrderStatusPaid
	order.InvoiceNumber = &number
	order.PaidAt = &now
	order.StatusChangedAt = now
	if paymentRef != "" {
		order.ExternalPaymentRef = &paymentRef
	}
	if operatorNote != "" {
		order.OperatorNote = &operatorNote
	}
	if err := s.orders.Update(ctx, order); err != nil {
		return domain.Order{}, mapSettlementError(err)
	}
	return order, nil
}

func (s *settlementService) markFailed(ctx context.Context, order domain.Order, paymentRef, reason string) (domain.Order, error) {
	order.Status = domain.OrderStatusFailed
	order.StatusChangedAt = s.clock()
	if reason != "" {
		order.FailureReason = &reason
	}
	if paymentRef != "" {
		order.ExternalPaymentRef = &paymentRef
	}
	if err := s.orders.Update(ctx, order); err != nil {
		return domain.Order{}, mapSettlementError(err)
	}
	return order, nil
}

func mapSettlementError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrSettlementNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrSettlementInvalidState, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrSettlementUnavailable, err)
		}
	}
	return err
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
