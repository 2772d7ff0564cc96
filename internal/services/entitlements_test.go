package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stagelink/billing/internal/domain"
)

type entitlementFixture struct {
	grants    *stubGrantRepo
	campaigns *stubCampaignRepo
	brands    *stubBrandRepo
	svc       EntitlementService
}

func newEntitlementFixture(t *testing.T) *entitlementFixture {
	t.Helper()
	grants := newStubGrantRepo()
	campaigns := newStubCampaignRepo()
	campaigns.campaigns["camp_1"] = domain.Campaign{ID: "camp_1"}
	brands := newStubBrandRepo()
	brands.brands["brand_1"] = domain.Brand{ID: "brand_1", ScoringCredits: 20}

	svc, err := NewEntitlementService(EntitlementServiceDeps{
		Grants:    grants,
		Campaigns: campaigns,
		Brands:    brands,
		Catalog:   DefaultCatalog("KA"),
		Clock:     fixedClock,
	})
	if err != nil {
		t.Fatalf("NewEntitlementService: %v", err)
	}
	return &entitlementFixture{grants: grants, campaigns: campaigns, brands: brands, svc: svc}
}

func creditOrder() domain.Order {
	return domain.Order{
		ID:          "ord_1",
		FeatureKind: domain.FeatureCreditPurchase,
		Subject:     domain.SubjectRef{SubjectID: "brand_1", PayerID: "usr_1"},
		Status:      domain.OrderStatusProcessing,
	}
}

func TestActivateCreditPurchaseAddsConfiguredUnits(t *testing.T) {
	f := newEntitlementFixture(t)

	if err := f.svc.Activate(context.Background(), creditOrder()); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if credits := f.brands.brands["brand_1"].ScoringCredits; credits != 120 {
		t.Fatalf("credits = %d, want 120", credits)
	}
	grant, err := f.grants.FindByOrderID(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("grant marker missing: %v", err)
	}
	if grant.FeatureKind != domain.FeatureCreditPurchase || grant.GrantedAt.IsZero() {
		t.Fatalf("grant = %+v", grant)
	}
}

func TestActivateIsGuardedByGrantMarker(t *testing.T) {
	f := newEntitlementFixture(t)
	order := creditOrder()

	for i := 0; i < 3; i++ {
		if err := f.svc.Activate(context.Background(), order); err != nil {
			t.Fatalf("Activate #%d: %v", i+1, err)
		}
	}
	if f.brands.creditCalls != 1 {
		t.Fatalf("credit mutations = %d, want exactly 1", f.brands.creditCalls)
	}
	if f.grants.inserts != 1 {
		t.Fatalf("grant inserts = %d, want 1", f.grants.inserts)
	}
}

func TestActivateCampaignUpgrade(t *testing.T) {
	f := newEntitlementFixture(t)
	order := domain.Order{
		ID:          "ord_2",
		FeatureKind: domain.FeatureCampaignUpgrade,
		Subject:     domain.SubjectRef{SubjectID: "camp_1", PayerID: "usr_1"},
	}

	if err := f.svc.Activate(context.Background(), order); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	campaign := f.campaigns.campaigns["camp_1"]
	if !campaign.Upgraded {
		t.Fatalf("campaign not upgraded")
	}
	if campaign.UpgradeOrderID == nil || *campaign.UpgradeOrderID != "ord_2" {
		t.Fatalf("upgrade order id = %v", campaign.UpgradeOrderID)
	}
}

func TestActivateInviteUnlock(t *testing.T) {
	f := newEntitlementFixture(t)
	order := domain.Order{
		ID:          "ord_3",
		FeatureKind: domain.FeatureInviteUnlock,
		Subject:     domain.SubjectRef{SubjectID: "brand_1", PayerID: "usr_1"},
	}

	if err := f.svc.Activate(context.Background(), order); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	brand := f.brands.brands["brand_1"]
	if !brand.InviteAccess {
		t.Fatalf("invite access not enabled")
	}
}

func TestPrecheckRejectsHeldEntitlements(t *testing.T) {
	f := newEntitlementFixture(t)
	f.campaigns.campaigns["camp_up"] = domain.Campaign{ID: "camp_up", Upgraded: true}
	f.brands.brands["brand_inv"] = domain.Brand{ID: "brand_inv", InviteAccess: true}

	err := f.svc.Precheck(context.Background(), domain.FeatureCampaignUpgrade, domain.SubjectRef{SubjectID: "camp_up"})
	if !errors.Is(err, ErrEntitlementPrecondition) {
		t.Fatalf("campaign err = %v, want ErrEntitlementPrecondition", err)
	}
	err = f.svc.Precheck(context.Background(), domain.FeatureInviteUnlock, domain.SubjectRef{SubjectID: "brand_inv"})
	if !errors.Is(err, ErrEntitlementPrecondition) {
		t.Fatalf("invite err = %v, want ErrEntitlementPrecondition", err)
	}
	// Credit packs can always be bought again.
	if err := f.svc.Precheck(context.Background(), domain.FeatureCreditPurchase, domain.SubjectRef{SubjectID: "brand_inv"}); err != nil {
		t.Fatalf("credit precheck: %v", err)
	}
}

func TestPrecheckUnknownSubject(t *testing.T) {
	f := newEntitlementFixture(t)
	err := f.svc.Precheck(context.Background(), domain.FeatureCampaignUpgrade, domain.SubjectRef{SubjectID: "camp_ghost"})
	if !errors.Is(err, ErrEntitlementSubjectNotFound) {
		t.Fatalf("err = %v, want ErrEntitlementSubjectNotFound", err)
	}
}
