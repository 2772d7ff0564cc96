package services

import (
	"fmt"

	"github.com/stagelink/billing/internal/domain"
)

// FeatureCatalog maps each purchasable feature kind to its descriptor. One
// engine parameterised by descriptors replaces a payment service per feature.
type FeatureCatalog map[domain.FeatureKind]domain.FeatureDescriptor

// Descriptor returns the descriptor for a kind or an error for kinds the
// catalog does not sell.
func (c FeatureCatalog) Descriptor(kind domain.FeatureKind) (domain.FeatureDescriptor, error) {
	descriptor, ok := c[kind]
	if !ok {
		return domain.FeatureDescriptor{}, fmt.Errorf("catalog: unknown feature kind %q", kind)
	}
	return descriptor, nil
}

// DefaultCatalog builds the production catalog. sellerState is the seller's
// registered state code; buyers registered in the same state get the
// split tax treatment.
func DefaultCatalog(sellerState string) FeatureCatalog {
	tax := domain.TaxProfile{
		RatePermyriad: 1800,
		OriginState:   sellerState,
		SplitLabels:   [2]string{"CGST", "SGST"},
		SingleLabel:   "IGST",
	}

	return FeatureCatalog{
		domain.FeatureCampaignUpgrade: {
			Kind:        domain.FeatureCampaignUpgrade,
			DisplayName: "Campaign Upgrade",
			ListPrice:   29900,
			Tax:         tax,
			InvoiceTag:  "CU",
			LegacyInvoiceFormats: []domain.LegacyInvoiceFormat{
				{Tag: "CMP", Layout: domain.LegacyLayoutSlashMonthYear},
				{Tag: "CMP", Layout: domain.LegacyLayoutYearMonth},
			},
		},
		domain.FeatureInviteUnlock: {
			Kind:        domain.FeatureInviteUnlock,
			DisplayName: "Invite Unlock",
			ListPrice:   49900,
			Tax:         tax,
			InvoiceTag:  "IU",
			LegacyInvoiceFormats: []domain.LegacyInvoiceFormat{
				{Tag: "INV", Layout: domain.LegacyLayoutSlashMonthYear},
			},
		},
		domain.FeatureCreditPurchase: {
			Kind:        domain.FeatureCreditPurchase,
			DisplayName: "Scoring Credit Pack",
			ListPrice:   99900,
			Tax:         tax,
			InvoiceTag:  "SC",
			CreditUnits: 100,
		},
	}
}
