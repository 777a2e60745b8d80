package locations

import (
	"context"

	"github.com/meridian-erp/meridian/internal/masterdata/shared"
)

// Service exposes location lookups to handlers and to fulfillment flows that
// must validate a stock-holding location before posting movements.
type Service struct {
	repo Repository
}

// NewService constructs the location service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, kind Kind) ([]Location, error) {
	if !kind.IsValid() {
		return nil, shared.ErrValidation
	}
	return s.repo.List(ctx, kind)
}

func (s *Service) Get(ctx context.Context, kind Kind, id int64) (Location, error) {
	if !kind.IsValid() {
		return Location{}, shared.ErrValidation
	}
	if id <= 0 {
		return Location{}, shared.ErrInvalidID
	}
	return s.repo.Get(ctx, kind, id)
}

func (s *Service) Exists(ctx context.Context, kind Kind, id int64) (bool, error) {
	if !kind.IsValid() || id <= 0 {
		return false, shared.ErrValidation
	}
	return s.repo.Exists(ctx, kind, id)
}
