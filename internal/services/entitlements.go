package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stagelink/billing/internal/domain"
	"github.com/stagelink/billing/internal/repositories"
)

var (
	// ErrEntitlementInvalidInput indicates a malformed precheck or activation request.
	ErrEntitlementInvalidInput = errors.New("entitlement: invalid input")
	// ErrEntitlementSubjectNotFound indicates the campaign or brand does not exist.
	ErrEntitlementSubjectNotFound = errors.New("entitlement: subject not found")
	// ErrEntitlementPrecondition indicates the subject already holds the entitlement.
	ErrEntitlementPrecondition = errors.New("entitlement: precondition failed")
	// ErrEntitlementUnavailable indicates the entitlement store could not be reached.
	ErrEntitlementUnavailable = errors.New("entitlement: store unavailable")
)

// activator applies one feature kind's entitlement mutation.
type activator interface {
	precheck(ctx context.Context, subject domain.SubjectRef) error
	apply(ctx context.Context, order domain.Order, at time.Time) error
}

// EntitlementServiceDeps lists the collaborators entitlement activation needs.
type EntitlementServiceDeps struct {
	Grants    repositories.EntitlementGrantRepository
	Campaigns repositories.CampaignRepository
	Brands    repositories.BrandRepository
	Catalog   FeatureCatalog
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type entitlementService struct {
	grants     repositories.EntitlementGrantRepository
	activators map[domain.FeatureKind]activator
	clock      func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewEntitlementService builds the per-kind activator registry. Every
// activation is guarded by a grant marker keyed by order ID, created in the
// same transaction as the mutation, so redundant calls apply nothing.
func NewEntitlementService(deps EntitlementServiceDeps) (EntitlementService, error) {
	if deps.Grants == nil {
		return nil, errors.New("entitlement service: grant repository is required")
	}
	if deps.Campaigns == nil {
		return nil, errors.New("entitlement service: campaign repository is required")
	}
	if deps.Brands == nil {
		return nil, errors.New("entitlement service: brand repository is required")
	}
	if len(deps.Catalog) == 0 {
		return nil, errors.New("entitlement service: feature catalog is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	credits := int64(0)
	if descriptor, ok := deps.Catalog[domain.FeatureCreditPurchase]; ok {
		credits = descriptor.CreditUnits
	}

	return &entitlementService{
		grants: deps.Grants,
		activators: map[domain.FeatureKind]activator{
			domain.FeatureCampaignUpgrade: &campaignUpgradeActivator{campaigns: deps.Campaigns},
			domain.FeatureInviteUnlock:    &inviteUnlockActivator{brands: deps.Brands},
			domain.FeatureCreditPurchase:  &creditPurchaseActivator{brands: deps.Brands, units: credits},
		},
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

func (s *entitlementService) Precheck(ctx context.Context, kind domain.FeatureKind, subject domain.SubjectRef) error {
	if subject.SubjectID == "" {
		return fmt.Errorf("%w: subject id is required", ErrEntitlementInvalidInput)
	}
	act, ok := s.activators[kind]
	if !ok {
		return fmt.Errorf("%w: unsupported feature kind %q", ErrEntitlementInvalidInput, kind)
	}
	return act.precheck(ctx, subject)
}

func (s *entitlementService) Activate(ctx context.Context, order domain.Order) error {
	if order.ID == "" {
		return fmt.Errorf("%w: order id is required", ErrEntitlementInvalidInput)
	}
	act, ok := s.activators[order.FeatureKind]
	if !ok {
		return fmt.Errorf("%w: unsupported feature kind %q", ErrEntitlementInvalidInput, order.FeatureKind)
	}

	_, err := s.grants.FindByOrderID(ctx, order.ID)
	switch {
	case err == nil:
		s.logger(ctx, "entitlement.activation.skipped", map[string]any{
			"order_id": order.ID,
			"reason":   "grant marker exists",
		})
		return nil
	case isRepositoryNotFound(err):
		// No marker yet, proceed with the activation.
	default:
		return mapEntitlementError(err)
	}

	grantedAt := s.clock()
	if err := act.apply(ctx, order, grantedAt); err != nil {
		return err
	}

	grant := domain.EntitlementGrant{
		OrderID:     order.ID,
		FeatureKind: order.FeatureKind,
		Subject:     order.Subject,
		GrantedAt:   grantedAt,
	}
	if err := s.grants.Insert(ctx, grant); err != nil {
		if isRepositoryConflict(err) {
			s.logger(ctx, "entitlement.activation.skipped", map[string]any{
				"order_id": order.ID,
				"reason":   "grant marker raced",
			})
			return nil
		}
		return mapEntitlementError(err)
	}

	s.logger(ctx, "entitlement.activated", map[string]any{
		"order_id":     order.ID,
		"feature_kind": string(order.FeatureKind),
		"subject_id":   order.Subject.SubjectID,
	})
	return nil
}

type campaignUpgradeActivator struct {
	campaigns repositories.CampaignRepository
}

func (a *campaignUpgradeActivator) precheck(ctx context.Context, subject domain.SubjectRef) error {
	campaign, err := a.campaigns.FindByID(ctx, subject.SubjectID)
	if err != nil {
		return mapEntitlementError(err)
	}
	if campaign.Upgraded {
		return fmt.Errorf("%w: campaign %s is already upgraded", ErrEntitlementPrecondition, subject.SubjectID)
	}
	return nil
}

func (a *campaignUpgradeActivator) apply(ctx context.Context, order domain.Order, at time.Time) error {
	if err := a.campaigns.MarkUpgraded(ctx, order.Subject.SubjectID, order.ID, at); err != nil {
		return mapEntitlementError(err)
	}
	return nil
}

type inviteUnlockActivator struct {
	brands repositories.BrandRepository
}

func (a *inviteUnlockActivator) precheck(ctx context.Context, subject domain.SubjectRef) error {
	brand, err := a.brands.FindByID(ctx, subject.SubjectID)
	if err != nil {
		return mapEntitlementError(err)
	}
	if brand.InviteAccess {
		return fmt.Errorf("%w: brand %s already has invite access", ErrEntitlementPrecondition, subject.SubjectID)
	}
	return nil
}

func (a *inviteUnlockActivator) apply(ctx context.Context, order domain.Order, at time.Time) error {
	if err := a.brands.EnableInviteAccess(ctx, order.Subject.SubjectID, order.ID, at); err != nil {
		return mapEntitlementError(err)
	}
	return nil
}

type creditPurchaseActivator struct {
	brands repositories.BrandRepository
	units  int64
}

func (a *creditPurchaseActivator) precheck(ctx context.Context, subject domain.SubjectRef) error {
	if _, err := a.brands.FindByID(ctx, subject.SubjectID); err != nil {
		return mapEntitlementError(err)
	}
	return nil
}

func (a *creditPurchaseActivator) apply(ctx context.Context, order domain.Order, at time.Time) error {
	if a.units <= 0 {
		return fmt.Errorf("%w: credit pack has no units configured", ErrEntitlementInvalidInput)
	}
	if err := a.brands.AddCredits(ctx, order.Subject.SubjectID, a.units, at); err != nil {
		return mapEntitlementError(err)
	}
	return nil
}

func mapEntitlementError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrEntitlementSubjectNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrEntitlementUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrEntitlementUnavailable, err)
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepositoryConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
