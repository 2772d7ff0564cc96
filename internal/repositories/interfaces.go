package repositories

import (
	"context"
	"time"

	"github.com/stagelink/billing/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	InvoiceNumbers() InvoiceNumberRepository
	Grants() EntitlementGrantRepository
	Campaigns() CampaignRepository
	Brands() BrandRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary. Calls
// made with the context passed to fn observe and mutate state atomically.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists purchase attempt records.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	Delete(ctx context.Context, orderID string) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByExternalOrderRef(ctx context.Context, externalOrderRef string) (domain.Order, error)
	// FindOpenBySubject returns the PENDING or PROCESSING order for the
	// (subject, featureKind) pair, or a not-found error when none is open.
	FindOpenBySubject(ctx context.Context, subject domain.SubjectRef, kind domain.FeatureKind) (domain.Order, error)
	// ListStaleProcessing returns PROCESSING orders whose status last changed
	// before the cutoff, oldest first, up to limit.
	ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)
}

// InvoiceNumberRepository reads the invoice numbers already issued. The next
// sequence is derived from this snapshot at allocation time, never from a
// running counter, so out-of-band imports of historical rows cannot cause
// collisions.
type InvoiceNumberRepository interface {
	// NumbersWithPrefix returns every issued invoice number starting with the
	// given prefix.
	NumbersWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

// EntitlementGrantRepository persists activation markers keyed by order ID.
type EntitlementGrantRepository interface {
	// Insert creates the grant marker, returning a conflict error when a
	// marker for the order already exists.
	Insert(ctx context.Context, grant domain.EntitlementGrant) error
	FindByOrderID(ctx context.Context, orderID string) (domain.EntitlementGrant, error)
}

// CampaignRepository mutates the campaign slice owned by entitlement activation.
type CampaignRepository interface {
	FindByID(ctx context.Context, campaignID string) (domain.Campaign, error)
	MarkUpgraded(ctx context.Context, campaignID, orderID string, at time.Time) error
}

// BrandRepository mutates the brand slice owned by entitlement activation.
type BrandRepository interface {
	FindByID(ctx context.Context, brandID string) (domain.Brand, error)
	AddCredits(ctx context.Context, brandID string, units int64, at time.Time) error
	EnableInviteAccess(ctx context.Context, brandID, orderID string, at time.Time) error
}

// HealthRepository verifies backend connectivity for readiness probes.
type HealthRepository interface {
	Check(ctx context.Context) error
}
