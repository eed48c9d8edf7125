package owners

import (
	"context"

	"github.com/dmitrijs2005/legacyvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, owner *models.Owner) error
	Get(ctx context.Context, id string) (*models.Owner, error)
	// GetForUpdate loads the owner and holds its row lock until the
	// surrounding transaction ends. Every per-owner state transition starts
	// here so that transitions for one owner are serialized.
	GetForUpdate(ctx context.Context, id string) (*models.Owner, error)
	Update(ctx context.Context, owner *models.Owner) error
	// ListEnabledIDs returns the owners whose switch is on, the ones a
	// sweep has to look at.
	ListEnabledIDs(ctx context.Context) ([]string, error)
}
