package submissions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/legacyvault/internal/server/models"
)

// Repository holds escrowed shares per unlock request.
type Repository interface {
	// Add stores the submission unless the contact already submitted for
	// this request; added reports whether a row was written.
	Add(ctx context.Context, s *models.ShareSubmission) (added bool, err error)
	ListActive(ctx context.Context, requestID string) ([]models.ShareSubmission, error)
	// Revoke erases the sealed shares of a request and marks them revoked.
	Revoke(ctx context.Context, requestID string, at time.Time) error
}
