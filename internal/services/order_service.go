package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/stagelink/billing/internal/domain"
	"github.com/stagelink/billing/internal/gateway"
	"github.com/stagelink/billing/internal/repositories"
)

var (
	// ErrOrderInvalidInput indicates the command failed validation.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the requested order does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates another open order blocks creation.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderPrecondition indicates the subject already holds the entitlement.
	ErrOrderPrecondition = errors.New("order: precondition failed")
	// ErrOrderGatewayUnavailable indicates the payment gateway rejected or
	// timed out on the open-order call; nothing was persisted.
	ErrOrderGatewayUnavailable = errors.New("order: gateway unavailable")
	// ErrOrderUnavailable indicates the order store could not be reached.
	ErrOrderUnavailable = errors.New("order: store unavailable")
)

// OrderServiceDeps lists the collaborators order creation needs.
type OrderServiceDeps struct {
	Orders       repositories.OrderRepository
	Entitlements EntitlementService
	Gateway      gateway.Gateway
	Catalog      FeatureCatalog
	Currency     string
	Clock        func() time.Time
	IDGenerator  func() string
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders       repositories.OrderRepository
	entitlements EntitlementService
	gateway      gateway.Gateway
	catalog      FeatureCatalog
	currency     string
	clock        func() time.Time
	newID        func() string
	logger       func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService builds the order creation service.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Entitlements == nil {
		return nil, errors.New("order service: entitlement service is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("order service: gateway is required")
	}
	if len(deps.Catalog) == 0 {
		return nil, errors.New("order service: feature catalog is required")
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "INR"
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return "ord_" + ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderService{
		orders:       deps.Orders,
		entitlements: deps.Entitlements,
		gateway:      deps.Gateway,
		catalog:      deps.Catalog,
		currency:     currency,
		clock:        func() time.Time { return clock().UTC() },
		newID:        newID,
		logger:       logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	if cmd.Subject.SubjectID == "" {
		return CreateOrderResult{}, fmt.Errorf("%w: subject id is required", ErrOrderInvalidInput)
	}
	if cmd.Subject.PayerID == "" {
		return CreateOrderResult{}, fmt.Errorf("%w: payer id is required", ErrOrderInvalidInput)
	}
	descriptor, err := s.catalog.Descriptor(cmd.FeatureKind)
	if err != nil {
		return CreateOrderResult{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	if err := s.entitlements.Precheck(ctx, cmd.FeatureKind, cmd.Subject); err != nil {
		if errors.Is(err, ErrEntitlementPrecondition) {
			return CreateOrderResult{}, fmt.Errorf("%w: %v", ErrOrderPrecondition, err)
		}
		if errors.Is(err, ErrEntitlementSubjectNotFound) {
			return CreateOrderResult{}, fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		}
		return CreateOrderResult{}, mapOrderError(err)
	}

	if err := s.retireOpenOrder(ctx, cmd.Subject, cmd.FeatureKind); err != nil {
		return CreateOrderResult{}, err
	}

	amount, err := domain.ComputeAmount(descriptor.ListPrice, cmd.BuyerState, descriptor.Tax)
	if err != nil {
		return CreateOrderResult{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	now := s.clock()
	orderID := s.newID()

	opened, err := s.gateway.OpenOrder(ctx, gateway.OpenOrderRequest{
		Amount:         amount.Total,
		Currency:       s.currency,
		ReceiptID:      orderID,
		IdempotencyKey: orderID,
		Notes: map[string]string{
			"featureKind": string(cmd.FeatureKind),
			"subjectId":   cmd.Subject.SubjectID,
		},
	})
	if err != nil {
		s.logger(ctx, "order.gateway.open_failed", map[string]any{
			"order_id":     orderID,
			"feature_kind": string(cmd.FeatureKind),
			"error":        err.Error(),
		})
		return CreateOrderResult{}, fmt.Errorf("%w: %v", ErrOrderGatewayUnavailable, err)
	}

	order := domain.Order{
		ID:               orderID,
		FeatureKind:      cmd.FeatureKind,
		Subject:          cmd.Subject,
		Amount:           amount,
		Status:           domain.OrderStatusPending,
		ExternalOrderRef: opened.OrderRef,
		CreatedAt:        now,
		StatusChangedAt:  now,
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		return CreateOrderResult{}, mapOrderError(err)
	}

	s.logger(ctx, "order.created", map[string]any{
		"order_id":           order.ID,
		"feature_kind":       string(order.FeatureKind),
		"subject_id":         order.Subject.SubjectID,
		"amount_total":       order.Amount.Total,
		"external_order_ref": order.ExternalOrderRef,
	})
	return CreateOrderResult{Order: order}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, mapOrderError(err)
	}
	return order, nil
}

// retireOpenOrder enforces the one-open-order rule. An abandoned PENDING
// order is cancelled and destroyed so it cannot later be paid against; a
// PROCESSING order blocks creation because a payment attempt may still land.
func (s *orderService) retireOpenOrder(ctx context.Context, subject domain.SubjectRef, kind domain.FeatureKind) error {
	existing, err := s.orders.FindOpenBySubject(ctx, subject, kind)
	if err != nil {
		if isRepositoryNotFound(err) {
			return nil
		}
		return mapOrderError(err)
	}

	if existing.Status == domain.OrderStatusProcessing {
		return fmt.Errorf("%w: order %s has a payment attempt in flight", ErrOrderConflict, existing.ID)
	}

	if err := s.orders.Delete(ctx, existing.ID); err != nil {
		return mapOrderError(err)
	}
	s.logger(ctx, "order.superseded", map[string]any{
		"order_id":     existing.ID,
		"feature_kind": string(kind),
		"subject_id":   subject.SubjectID,
	})
	return nil
}

func mapOrderError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
}
