package itemkeys

import (
	"context"

	"github.com/dmitrijs2005/legacyvault/internal/server/models"
)

type Repository interface {
	// Create stores the key unless one exists for the item; created reports
	// whether a row was written.
	Create(ctx context.Context, k *models.ItemKey) (created bool, err error)
	Get(ctx context.Context, ownerID, itemID string) (*models.ItemKey, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.ItemKey, error)
	Update(ctx context.Context, k *models.ItemKey) error
}
