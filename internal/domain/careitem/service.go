package careitem

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/caretrack/caretrack/internal/platform/careerr"
)

// Transactor runs fn inside one database transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	items CareItemRepository
	tx    Transactor
}

func NewService(repo CareItemRepository, tx Transactor) *Service {
	return &Service{items: repo, tx: tx}
}

func (s *Service) validate(item *CareItem) error {
	item.Name = strings.TrimSpace(item.Name)
	if item.Name == "" {
		return careerr.InvalidArgument("name is required")
	}
	if !item.Category.Known() {
		return careerr.InvalidArgument("unknown category %q", item.Category)
	}
	return item.Period.Validate()
}

func (s *Service) CreateCareItem(ctx context.Context, item *CareItem) error {
	if err := s.validate(item); err != nil {
		return err
	}
	return s.items.Create(ctx, item)
}

func (s *Service) GetCareItem(ctx context.Context, id uuid.UUID) (*CareItem, error) {
	return s.items.GetByID(ctx, id)
}

// UpdateCareItem replaces the item's fields. Once any schedule references the
// item only its name and description may change; category and period are
// fixed because past due dates were derived from them.
func (s *Service) UpdateCareItem(ctx context.Context, item *CareItem) error {
	if err := s.validate(item); err != nil {
		return err
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.items.GetForUpdate(ctx, item.ID)
		if err != nil {
			return err
		}
		if item.Category != current.Category || item.Period != current.Period {
			referenced, err := s.items.IsReferenced(ctx, item.ID)
			if err != nil {
				return err
			}
			if referenced {
				return careerr.Conflict("care item %s is scheduled; only name and description can change", item.ID)
			}
		}
		item.CreatedAt = current.CreatedAt
		return s.items.Update(ctx, item)
	})
}

func (s *Service) ListCareItems(ctx context.Context, category *Category, limit, offset int) ([]*CareItem, int, error) {
	return s.items.List(ctx, category, limit, offset)
}
