package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stagelink/billing/internal/gateway"
	"github.com/stagelink/billing/internal/repositories"
)

// ErrSweepUnavailable indicates the stale-order scan itself failed.
var ErrSweepUnavailable = errors.New("sweep: store unavailable")

// ReconciliationServiceDeps lists the collaborators the sweeper needs.
type ReconciliationServiceDeps struct {
	Orders     repositories.OrderRepository
	Gateway    gateway.Gateway
	Settlement SettlementService
	StaleAfter time.Duration
	BatchSize  int
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type reconciliationService struct {
	orders     repositories.OrderRepository
	gateway    gateway.Gateway
	settlement SettlementService
	staleAfter time.Duration
	batchSize  int
	clock      func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewReconciliationService builds the sweeper that re-drives settlement for
// PROCESSING orders whose outcome notification never arrived.
func NewReconciliationService(deps ReconciliationServiceDeps) (ReconciliationService, error) {
	if deps.Orders == nil {
		return nil, errors.New("reconciliation service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("reconciliation service: gateway is required")
	}
	if deps.Settlement == nil {
		return nil, errors.New("reconciliation service: settlement service is required")
	}
	if deps.StaleAfter <= 0 {
		return nil, errors.New("reconciliation service: staleness threshold must be positive")
	}
	batchSize := deps.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &reconciliationService{
		orders:     deps.Orders,
		gateway:    deps.Gateway,
		settlement: deps.Settlement,
		staleAfter: deps.StaleAfter,
		batchSize:  batchSize,
		clock:      func() time.Time { return clock().UTC() },
		logger:     logger,
	}, nil
}

func (s *reconciliationService) SweepOnce(ctx context.Context) (SweepReport, error) {
	cutoff := s.clock().Add(-s.staleAfter)
	stale, err := s.orders.ListStaleProcessing(ctx, cutoff, s.batchSize)
	if err != nil {
		return SweepReport{}, fmt.Errorf("%w: %v", ErrSweepUnavailable, err)
	}

	report := SweepReport{Scanned: len(stale)}
	for _, order := range stale {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		s.sweepOrder(ctx, order.ID, order.PaymentRef(), &report)
	}

	s.logger(ctx, "sweep.completed", map[string]any{
		"scanned":      report.Scanned,
		"paid":         report.Paid,
		"failed":       report.Failed,
		"marked_stuck": report.MarkedStuck,
		"skipped":      report.Skipped,
	})
	return report, nil
}

// sweepOrder resolves one stale order against the gateway's ground truth.
// Unknown and unreadable states are left untouched for the next pass; only
// facts the gateway asserts move the order.
func (s *reconciliationService) sweepOrder(ctx context.Context, orderID, paymentRef string, report *SweepReport) {
	if paymentRef == "" {
		if _, err := s.settlement.MarkDeductedNotReceived(ctx, orderID, "no payment reference recorded; verify with gateway dashboard"); err != nil {
			s.skip(ctx, report, orderID, err)
			return
		}
		report.MarkedStuck++
		return
	}

	details, err := s.gateway.GetPaymentStatus(ctx, paymentRef)
	if err != nil {
		s.skip(ctx, report, orderID, err)
		return
	}

	switch details.State {
	case gateway.StateCaptured:
		result, err := s.settlement.ApplyGatewayOutcome(ctx, orderID, GatewayOutcome{
			ExternalPaymentRef: details.PaymentRef,
			Captured:           true,
		}, OutcomeSourceSweeper)
		if err != nil {
			s.skip(ctx, report, orderID, err)
			return
		}
		if !result.AlreadyPaid {
			report.Paid++
		}
	case gateway.StateFailed:
		if _, err := s.settlement.ApplyGatewayOutcome(ctx, orderID, GatewayOutcome{
			ExternalPaymentRef: details.PaymentRef,
			Failed:             true,
			FailureReason:      failureReason(details),
		}, OutcomeSourceSweeper); err != nil {
			s.skip(ctx, report, orderID, err)
			return
		}
		report.Failed++
	case gateway.StateAuthorized:
		note := fmt.Sprintf("payment %s authorized but never captured; refund or capture manually", details.PaymentRef)
		if _, err := s.settlement.MarkDeductedNotReceived(ctx, orderID, note); err != nil {
			s.skip(ctx, report, orderID, err)
			return
		}
		report.MarkedStuck++
	default:
		report.Skipped++
		s.logger(ctx, "sweep.order.unresolved", map[string]any{
			"order_id":      orderID,
			"gateway_state": string(details.State),
		})
	}
}

func (s *reconciliationService) skip(ctx context.Context, report *SweepReport, orderID string, err error) {
	report.Skipped++
	s.logger(ctx, "sweep.order.skipped", map[string]any{
		"order_id": orderID,
		"error":    err.Error(),
	})
}

func failureReason(details gateway.PaymentDetails) string {
	if details.ErrorDescription != "" {
		return details.ErrorDescription
	}
	return "gateway reported payment failure"
}

// Runner ticks the sweeper on a fixed interval. Passes never overlap; a tick
// arriving while a sweep is in flight is dropped.
type Runner struct {
	service  ReconciliationService
	interval time.Duration
	logger   func(ctx context.Context, event string, fields map[string]any)
	mu       sync.Mutex
}

// NewRunner builds the periodic sweep runner.
func NewRunner(service ReconciliationService, interval time.Duration, logger func(ctx context.Context, event string, fields map[string]any)) (*Runner, error) {
	if service == nil {
		return nil, errors.New("sweep runner: reconciliation service is required")
	}
	if interval <= 0 {
		return nil, errors.New("sweep runner: interval must be positive")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Runner{service: service, interval: interval, logger: logger}, nil
}

// Run sweeps on every tick until the context is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Runner) sweep(ctx context.Context) {
	if !r.mu.TryLock() {
		r.logger(ctx, "sweep.tick.dropped", map[string]any{"reason": "previous sweep still running"})
		return
	}
	defer r.mu.Unlock()
	if _, err := r.service.SweepOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.logger(ctx, "sweep.error", map[string]any{"error": err.Error()})
	}
}
