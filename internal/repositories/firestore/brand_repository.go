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

const brandsCollection = "brands"

type brandDocument struct {
	ScoringCredits int64     `firestore:"scoringCredits"`
	InviteAccess   bool      `firestore:"inviteAccess"`
	InviteOrderID  *string   `firestore:"inviteOrderId,omitempty"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

// BrandRepository implements repositories.BrandRepository backed by Firestore.
type BrandRepository struct {
	brands *pfirestore.BaseRepository[brandDocument]
}

// NewBrandRepository constructs a Firestore-backed brand repository.
func NewBrandRepository(provider *pfirestore.Provider) (*BrandRepository, error) {
	if provider == nil {
		return nil, errors.New("brand repository requires firestore provider")
	}
	return &BrandRepository{
		brands: pfirestore.NewBaseRepository[brandDocument](provider, brandsCollection, nil),
	}, nil
}

// FindByID fetches the brand slice relevant to entitlement state.
func (r *BrandRepository) FindByID(ctx context.Context, brandID string) (domain.Brand, error) {
	doc, err := r.brands.Get(ctx, brandID)
	if err != nil {
		return domain.Brand{}, err
	}
	return domain.Brand{
		ID:             doc.ID,
		ScoringCredits: doc.Data.ScoringCredits,
		InviteAccess:   doc.Data.InviteAccess,
		InviteOrderID:  doc.Data.InviteOrderID,
		UpdatedAt:      doc.Data.UpdatedAt,
	}, nil
}

// AddCredits increments the scoring credit counter.
func (r *BrandRepository) AddCredits(ctx context.Context, brandID string, units int64, at time.Time) error {
	if strings.TrimSpace(brandID) == "" {
		return errors.New("brand repository: brand id is required")
	}
	if units <= 0 {
		return errors.New("brand repository: credit units must be positive")
	}
	_, err := r.brands.Update(ctx, brandID, []firestore.Update{
		{Path: "scoringCredits", Value: firestore.Increment(units)},
		{Path: "updatedAt", Value: at.UTC()},
	})
	return err
}

// EnableInviteAccess flips the invite flag and records the paying order.
func (r *BrandRepository) EnableInviteAccess(ctx context.Context, brandID, orderID string, at time.Time) error {
	if strings.TrimSpace(brandID) == "" {
		return errors.New("brand repository: brand id is required")
	}
	_, err := r.brands.Update(ctx, brandID, []firestore.Update{
		{Path: "inviteAccess", Value: true},
		{Path: "inviteOrderId", Value: orderID},
		{Path: "updatedAt", Value: at.UTC()},
	})
	return err
}
