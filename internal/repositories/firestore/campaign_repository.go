package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/stagelink/billing/internal/domain"
	pfirestore "github.com/stagelink/billing/internal/platform/firestore"
)

const campaignsCollection = "campaigns"

type campaignDocument struct {
	Upgraded       bool       `firestore:"upgraded"`
	UpgradeOrderID *string    `firestore:"upgradeOrderId,omitempty"`
	UpgradedAt     *time.Time `firestore:"upgradedAt,omitempty"`
	UpdatedAt      time.Time  `firestore:"updatedAt"`
}

// CampaignRepository implements repositories.CampaignRepository backed by Firestore.
type CampaignRepository struct {
	campaigns *pfirestore.BaseRepository[campaignDocument]
}

// NewCampaignRepository constructs a Firestore-backed campaign repository.
func NewCampaignRepository(provider *pfirestore.Provider) (*CampaignRepository, error) {
	if provider == nil {
		return nil, errors.New("campaign repository requires firestore provider")
	}
	return &CampaignRepository{
		campaigns: pfirestore.NewBaseRepository[campaignDocument](provider, campaignsCollection, nil),
	}, nil
}

// FindByID fetches the campaign slice relevant to entitlement state.
func (r *CampaignRepository) FindByID(ctx context.Context, campaignID string) (domain.Campaign, error) {
	doc, err := r.campaigns.Get(ctx, campaignID)
	if err != nil {
		return domain.Campaign{}, err
	}
	return domain.Campaign{
		ID:             doc.ID,
		Upgraded:       doc.Data.Upgraded,
		UpgradeOrderID: doc.Data.UpgradeOrderID,
		UpgradedAt:     doc.Data.UpgradedAt,
		UpdatedAt:      doc.Data.UpdatedAt,
	}, nil
}

// MarkUpgraded flips the premium flag and records the paying order.
func (r *CampaignRepository) MarkUpgraded(ctx context.Context, campaignID, orderID string, at time.Time) error {
	if strings.TrimSpace(campaignID) == "" {
		return errors.New("campaign repository: campaign id is required")
	}
	_, err := r.campaigns.Update(ctx, campaignID, []firestore.Update{
		{Path: "upgraded", Value: true},
		{Path: "upgradeOrderId", Value: orderID},
		{Path: "upgradedAt", Value: at.UTC()},
		{Path: "updatedAt", Value: at.UTC()},
	})
	return err
}
