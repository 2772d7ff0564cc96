// Package di assembles repositories, services, and collaborators into the
// runtime dependency graph.
package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stagelink/billing/internal/gateway"
	"github.com/stagelink/billing/internal/platform/config"
	"github.com/stagelink/billing/internal/repositories"
	"github.com/stagelink/billing/internal/services"
)

// Collaborators carries the externally constructed adapters the service layer
// depends on: the payment gateway client, signature verifiers, and the
// document pipeline endpoints.
type Collaborators struct {
	Gateway       gateway.Gateway
	Verifier      *gateway.SignatureVerifier
	Publisher     services.DocumentPublisher
	DocumentStore services.DocumentStore
	Logger        *zap.Logger
}

// Services bundles the service-layer contracts handlers and workers rely on.
type Services struct {
	Orders         services.OrderService
	Settlement     services.SettlementService
	Entitlements   services.EntitlementService
	Invoices       services.InvoiceNumberAllocator
	Reconciliation services.ReconciliationService
	Documents      services.DocumentService
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Catalog      services.FeatureCatalog
}

// NewContainer constructs the runtime dependencies. Tests can supply in-memory
// registries and fake collaborators.
func NewContainer(cfg config.Config, reg repositories.Registry, collab Collaborators) (*Container, error) {
	if reg == nil {
		return nil, errors.New("di: repositories registry is required")
	}
	if collab.Gateway == nil {
		return nil, errors.New("di: payment gateway is required")
	}
	if collab.Verifier == nil {
		return nil, errors.New("di: checkout signature verifier is required")
	}
	if collab.Publisher == nil {
		return nil, errors.New("di: document publisher is required")
	}
	if collab.DocumentStore == nil {
		return nil, errors.New("di: document store is required")
	}

	catalog := services.DefaultCatalog(cfg.Invoices.SellerState)

	entitlements, err := services.NewEntitlementService(services.EntitlementServiceDeps{
		Grants:    reg.Grants(),
		Campaigns: reg.Campaigns(),
		Brands:    reg.Brands(),
		Catalog:   catalog,
		Clock:     time.Now,
		Logger:    eventLogger(collab.Logger, "entitlements"),
	})
	if err != nil {
		return nil, fmt.Errorf("di: build entitlement service: %w", err)
	}

	invoices, err := services.NewInvoiceNumberService(services.InvoiceNumberServiceDeps{
		Numbers: reg.InvoiceNumbers(),
		Catalog: catalog,
	})
	if err != nil {
		return nil, fmt.Errorf("di: build invoice number service: %w", err)
	}

	renderer, err := services.NewInvoiceRenderer(cfg.Invoices.SellerName, catalog)
	if err != nil {
		return nil, fmt.Errorf("di: build invoice renderer: %w", err)
	}
	documents, err := services.NewDocumentService(services.DocumentServiceDeps{
		Orders:    reg.Orders(),
		Publisher: collab.Publisher,
		Renderer:  renderer,
		Store:     collab.DocumentStore,
		Clock:     time.Now,
		Logger:    eventLogger(collab.Logger, "documents"),
	})
	if err != nil {
		return nil, fmt.Errorf("di: build document service: %w", err)
	}

	settlement, err := services.NewSettlementService(services.SettlementServiceDeps{
		Orders:       reg.Orders(),
		UnitOfWork:   reg,
		Invoices:     invoices,
		Entitlements: entitlements,
		Documents:    documents,
		Verifier:     collab.Verifier,
		Clock:        time.Now,
		Logger:       eventLogger(collab.Logger, "settlement"),
	})
	if err != nil {
		return nil, fmt.Errorf("di: build settlement service: %w", err)
	}

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:       reg.Orders(),
		Entitlements: entitlements,
		Gateway:      collab.Gateway,
		Catalog:      catalog,
		Currency:     cfg.Gateway.Currency,
		Clock:        time.Now,
		Logger:       eventLogger(collab.Logger, "orders"),
	})
	if err != nil {
		return nil, fmt.Errorf("di: build order service: %w", err)
	}

	reconciliation, err := services.NewReconciliationService(services.ReconciliationServiceDeps{
		Orders:     reg.Orders(),
		Gateway:    collab.Gateway,
		Settlement: settlement,
		StaleAfter: cfg.Sweeper.StaleAfter,
		BatchSize:  cfg.Sweeper.BatchSize,
		Clock:      time.Now,
		Logger:     eventLogger(collab.Logger, "sweep"),
	})
	if err != nil {
		return nil, fmt.Errorf("di: build reconciliation service: %w", err)
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Catalog:      catalog,
		Services: Services{
			Orders:         orders,
			Settlement:     settlement,
			Entitlements:   entitlements,
			Invoices:       invoices,
			Reconciliation: reconciliation,
			Documents:      documents,
		},
	}, nil
}

// Close releases resources held by the container.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

// eventLogger adapts a zap logger to the service callback shape.
func eventLogger(base *zap.Logger, name string) func(ctx context.Context, event string, fields map[string]any) {
	if base == nil {
		return nil
	}
	named := base.Named(name)
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		named.Info("service event", zFields...)
	}
}
