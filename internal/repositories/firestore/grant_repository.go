package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stagelink/billing/internal/domain"
	pfirestore "github.com/stagelink/billing/internal/platform/firestore"
)

const grantsCollection = "entitlementGrants"

type grantDocument struct {
	OrderID     string    `firestore:"orderId"`
	FeatureKind string    `firestore:"featureKind"`
	SubjectID   string    `firestore:"subjectId"`
	PayerID     string    `firestore:"payerId"`
	GrantedAt   time.Time `firestore:"grantedAt"`
}

// GrantRepository implements repositories.EntitlementGrantRepository backed by Firestore.
// Grant markers are keyed by order ID so a second activation attempt for the
// same order fails with a conflict.
type GrantRepository struct {
	grants *pfirestore.BaseRepository[grantDocument]
}

// NewGrantRepository constructs a Firestore-backed grant repository.
func NewGrantRepository(provider *pfirestore.Provider) (*GrantRepository, error) {
	if provider == nil {
		return nil, errors.New("grant repository requires firestore provider")
	}
	return &GrantRepository{
		grants: pfirestore.NewBaseRepository[grantDocument](provider, grantsCollection, nil),
	}, nil
}

// Insert creates the grant marker, conflicting when one already exists.
func (r *GrantRepository) Insert(ctx context.Context, grant domain.EntitlementGrant) error {
	if strings.TrimSpace(grant.OrderID) == "" {
		return errors.New("grant repository: order id is required")
	}
	_, err := r.grants.Create(ctx, grant.OrderID, grantDocument{
		OrderID:     grant.OrderID,
		FeatureKind: string(grant.FeatureKind),
		SubjectID:   grant.Subject.SubjectID,
		PayerID:     grant.Subject.PayerID,
		GrantedAt:   grant.GrantedAt.UTC(),
	})
	return err
}

// FindByOrderID fetches the marker for an order.
func (r *GrantRepository) FindByOrderID(ctx context.Context, orderID string) (domain.EntitlementGrant, error) {
	doc, err := r.grants.Get(ctx, orderID)
	if err != nil {
		return domain.EntitlementGrant{}, err
	}
	return domain.EntitlementGrant{
		OrderID:     doc.Data.OrderID,
		FeatureKind: domain.FeatureKind(doc.Data.FeatureKind),
		Subject: domain.SubjectRef{
			SubjectID: doc.Data.SubjectID,
			PayerID:   doc.Data.PayerID,
		},
		GrantedAt: doc.Data.GrantedAt,
	}, nil
}
