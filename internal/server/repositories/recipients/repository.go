package recipients

import (
	"context"

	"github.com/dmitrijs2005/legacyvault/internal/server/models"
)

// Repository stores designated recipients and the access grants issued to
// them when a vault unlocks.
type Repository interface {
	Create(ctx context.Context, r *models.Recipient) error
	ListByOwner(ctx context.Context, ownerID string) ([]models.Recipient, error)
	CreateGrant(ctx context.Context, g *models.AccessGrant) error
	GetGrantByTokenHash(ctx context.Context, hash string) (*models.AccessGrant, error)
}
