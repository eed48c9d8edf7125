package contacts

import (
	"context"

	"github.com/dmitrijs2005/legacyvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, c *models.TrustedContact) error
	Get(ctx context.Context, id string) (*models.TrustedContact, error)
	GetByTokenHash(ctx context.Context, hash string) (*models.TrustedContact, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.TrustedContact, error)
	Update(ctx context.Context, c *models.TrustedContact) error
	Delete(ctx context.Context, id string) error
	// ClearShares drops every issued share of the owner's contacts.
	ClearShares(ctx context.Context, ownerID string) error
}
