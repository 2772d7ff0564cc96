package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/stagelink/billing/internal/platform/firestore"
)

// HealthRepository probes Firestore connectivity for readiness checks.
type HealthRepository struct {
	provider *pfirestore.Provider
}

// NewHealthRepository constructs the probe around the shared provider.
func NewHealthRepository(provider *pfirestore.Provider) (*HealthRepository, error) {
	if provider == nil {
		return nil, errors.New("health repository requires firestore provider")
	}
	return &HealthRepository{provider: provider}, nil
}

// Check reads a sentinel document. A not-found response still proves the
// backend is reachable, so only transport failures are reported.
func (r *HealthRepository) Check(ctx context.Context) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.Collection("health").Doc("probe").Get(ctx)
	if err != nil {
		wrapped := pfirestore.WrapError("health.check", err)
		var repoErr *pfirestore.Error
		if errors.As(wrapped, &repoErr) && repoErr.IsNotFound() {
			return nil
		}
		return wrapped
	}
	return nil
}
