package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stagelink/billing/internal/domain"
	"github.com/stagelink/billing/internal/repositories"
)

var (
	// ErrDocumentInvalidInput indicates a malformed document job.
	ErrDocumentInvalidInput = errors.New("document: invalid input")
	// ErrDocumentInvalidState indicates the order is not in a documentable state.
	ErrDocumentInvalidState = errors.New("document: order not paid")
	// ErrDocumentUnavailable indicates rendering or storage failed.
	ErrDocumentUnavailable = errors.New("document: unavailable")
)

// DocumentServiceDeps lists the collaborators document generation needs.
type DocumentServiceDeps struct {
	Orders    repositories.OrderRepository
	Publisher DocumentPublisher
	Renderer  DocumentRenderer
	Store     DocumentStore
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type documentService struct {
	orders    repositories.OrderRepository
	publisher DocumentPublisher
	renderer  DocumentRenderer
	store     DocumentStore
	clock     func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewDocumentService builds the invoice document dispatcher and processor.
func NewDocumentService(deps DocumentServiceDeps) (DocumentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("document service: order repository is required")
	}
	if deps.Publisher == nil {
		return nil, errors.New("document service: publisher is required")
	}
	if deps.Renderer == nil {
		return nil, errors.New("document service: renderer is required")
	}
	if deps.Store == nil {
		return nil, errors.New("document service: store is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &documentService{
		orders:    deps.Orders,
		publisher: deps.Publisher,
		renderer:  deps.Renderer,
		store:     deps.Store,
		clock:     func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

func (s *documentService) EnqueueInvoiceDocument(ctx context.Context, order domain.Order) {
	if order.Status != domain.OrderStatusPaid || order.InvoiceNumber == nil {
		return
	}
	job := domain.InvoiceDocumentJob{
		OrderID:       order.ID,
		InvoiceNumber: *order.InvoiceNumber,
		FeatureKind:   string(order.FeatureKind),
		RequestedAt:   s.clock(),
	}
	messageID, err := s.publisher.PublishDocumentJob(ctx, job)
	if err != nil {
		// The document is a derived artifact; the payment truth is already
		// committed, so publish failures are logged rather than surfaced to
		// the caller.
		s.logger(ctx, "document.enqueue.failed", map[string]any{
			"order_id": order.ID,
			"error":    err.Error(),
		})
		return
	}
	s.logger(ctx, "document.enqueued", map[string]any{
		"order_id":       order.ID,
		"invoice_number": job.InvoiceNumber,
		"message_id":     messageID,
	})
}

func (s *documentService) ProcessDocumentJob(ctx context.Context, job domain.InvoiceDocumentJob) error {
	if job.OrderID == "" {
		return fmt.Errorf("%w: order id is required", ErrDocumentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, job.OrderID)
	if err != nil {
		return mapDocumentError(err)
	}
	if order.Status != domain.OrderStatusPaid {
		return fmt.Errorf("%w: order %s is %s", ErrDocumentInvalidState, order.ID, order.Status)
	}
	if url := derefString(order.InvoiceDocumentURL); url != "" {
		s.logger(ctx, "document.process.skipped", map[string]any{
			"order_id": order.ID,
			"url":      url,
		})
		return nil
	}

	data, contentType, err := s.renderer.Render(ctx, order)
	if err != nil {
		return fmt.Errorf("%w: render: %v", ErrDocumentUnavailable, err)
	}
	url, err := s.store.Put(ctx, documentObjectName(order), contentType, data)
	if err != nil {
		return fmt.Errorf("%w: store: %v", ErrDocumentUnavailable, err)
	}

	order.InvoiceDocumentURL = &url
	if err := s.orders.Update(ctx, order); err != nil {
		return mapDocumentError(err)
	}
	s.logger(ctx, "document.stored", map[string]any{
		"order_id": order.ID,
		"url":      url,
	})
	return nil
}

// documentObjectName keys the stored document by order ID so regeneration
// overwrites in place instead of accumulating copies.
func documentObjectName(order domain.Order) string {
	return "invoices/" + strings.ReplaceAll(order.ID, "/", "-") + ".html"
}

func mapDocumentError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrDocumentInvalidInput, err)
	}
	return fmt.Errorf("%w: %v", ErrDocumentUnavailable, err)
}
