package unlockrequests

import (
	"context"
	"time"

	"github.com/dmitrijs2005/legacyvault/internal/server/models"
)

type Repository interface {
	// Create inserts a request. It fails with common.ErrAlreadyOpen when the
	// owner already has an open request.
	Create(ctx context.Context, req *models.UnlockRequest) error
	Get(ctx context.Context, id string) (*models.UnlockRequest, error)
	GetOpenByOwner(ctx context.Context, ownerID string) (*models.UnlockRequest, error)
	// ListByOwner returns the owner's requests, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]models.UnlockRequest, error)
	// Transition moves the request to `to` only if its current status is one
	// of from. It reports whether this call performed the transition.
	Transition(ctx context.Context, id string, from []models.UnlockStatus, to models.UnlockStatus, reason string, resolvedAt *time.Time) (bool, error)
	// AddConfirmation records contactID as confirmed on a pending request and
	// returns the resulting count. A repeated contact leaves the count
	// unchanged and added is false. A request that is not pending fails with
	// common.ErrRequestClosed.
	AddConfirmation(ctx context.Context, id, contactID string) (count int, added bool, err error)
	// ListExpirable returns pending requests whose ExpiresAt is not after now.
	ListExpirable(ctx context.Context, now time.Time) ([]models.UnlockRequest, error)
}
