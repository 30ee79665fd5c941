package careitem

import (
	"context"

	"github.com/google/uuid"
)

type CareItemRepository interface {
	Create(ctx context.Context, item *CareItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*CareItem, error)
	// GetForUpdate locks the item row for the rest of the transaction. The
	// lock conflicts with the foreign key check of a schedule insert, so no
	// schedule can start referencing the item until the transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*CareItem, error)
	// Update writes every mutable column. The service decides which fields
	// may change.
	Update(ctx context.Context, item *CareItem) error
	List(ctx context.Context, category *Category, limit, offset int) ([]*CareItem, int, error)
	// IsReferenced reports whether any schedule points at the item.
	IsReferenced(ctx context.Context, id uuid.UUID) (bool, error)
}
