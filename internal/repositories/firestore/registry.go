package firestore

import (
	"context"
	"errors"

	"github.com/stagelink/billing/internal/platform/config"
	pfirestore "github.com/stagelink/billing/internal/platform/firestore"
	"github.com/stagelink/billing/internal/repositories"
)

// Registry wires Firestore-backed repositories behind the repositories.Registry interface.
type Registry struct {
	provider  *pfirestore.Provider
	orders    *OrderRepository
	grants    *GrantRepository
	campaigns *CampaignRepository
	brands    *BrandRepository
	health    *HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the registry and its repositories from Firestore configuration.
func NewRegistry(cfg config.FirestoreConfig, opts ...pfirestore.ProviderOption) (*Registry, error) {
	provider := pfirestore.NewProvider(cfg, opts...)
	return NewRegistryWithProvider(provider)
}

// NewRegistryWithProvider constructs the registry around an existing provider.
func NewRegistryWithProvider(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	grants, err := NewGrantRepository(provider)
	if err != nil {
		return nil, err
	}
	campaigns, err := NewCampaignRepository(provider)
	if err != nil {
		return nil, err
	}
	brands, err := NewBrandRepository(provider)
	if err != nil {
		return nil, err
	}
	health, err := NewHealthRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:  provider,
		orders:    orders,
		grants:    grants,
		campaigns: campaigns,
		brands:    brands,
		health:    health,
	}, nil
}

// Close releases the shared Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// InvoiceNumbers returns the invoice number snapshot reader.
func (r *Registry) InvoiceNumbers() repositories.InvoiceNumberRepository { return r.orders }

// Grants returns the entitlement grant marker repository.
func (r *Registry) Grants() repositories.EntitlementGrantRepository { return r.grants }

// Campaigns returns the campaign repository.
func (r *Registry) Campaigns() repositories.CampaignRepository { return r.campaigns }

// Brands returns the brand repository.
func (r *Registry) Brands() repositories.BrandRepository { return r.brands }

// Health returns the connectivity probe repository.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx executes fn inside a Firestore transaction. Repository calls made
// with the context passed to fn participate in the transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.provider.RunTransaction(ctx, pfirestore.TxFunc(fn))
}
