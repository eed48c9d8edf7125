package checkins

import (
	"context"

	"github.com/dmitrijs2005/legacyvault/internal/server/models"
)

// Repository stores the append-only check-in history.
type Repository interface {
	Create(ctx context.Context, rec *models.CheckInRecord) error
	ListRecent(ctx context.Context, ownerID string, limit int) ([]models.CheckInRecord, error)
}
