// Package firestore provides the Firestore-backed repository implementations.
package firestore

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/stagelink/billing/internal/platform/firestore"
)

func notFoundError(op, subject string) error {
	return pfirestore.WrapError(op, status.Errorf(codes.NotFound, "no document for %s", subject))
}
