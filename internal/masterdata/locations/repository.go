package locations

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian/internal/masterdata/shared"
)

// Repository looks up warehouses and branches.
type Repository interface {
	List(ctx context.Context, kind Kind) ([]Location, error)
	Get(ctx context.Context, kind Kind, id int64) (Location, error)
	Exists(ctx context.Context, kind Kind, id int64) (bool, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the location repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func tableFor(kind Kind) (string, error) {
	switch kind {
	case KindWarehouse:
		return "warehouses", nil
	case KindBranch:
		return "branches", nil
	default:
		return "", fmt.Errorf("locations: unknown kind %q", kind)
	}
}

func (r *repository) List(ctx context.Context, kind Kind) ([]Location, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, COALESCE(address,'') FROM `+table+` ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Location
	for rows.Next() {
		loc := Location{Kind: kind}
		if err := rows.Scan(&loc.ID, &loc.Code, &loc.Name, &loc.Address); err != nil {
			return nil, err
		}
		list = append(list, loc)
	}
	return list, rows.Err()
}

func (r *repository) Get(ctx context.Context, kind Kind, id int64) (Location, error) {
	table, err := tableFor(kind)
	if err != nil {
		return Location{}, err
	}
	loc := Location{Kind: kind}
	err = r.pool.QueryRow(ctx, `SELECT id, code, name, COALESCE(address,'') FROM `+table+` WHERE id=$1`, id).
		Scan(&loc.ID, &loc.Code, &loc.Name, &loc.Address)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Location{}, shared.ErrNotFound
		}
		return Location{}, err
	}
	return loc, nil
}

func (r *repository) Exists(ctx context.Context, kind Kind, id int64) (bool, error) {
	table, err := tableFor(kind)
	if err != nil {
		return false, err
	}
	var exists bool
	err = r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id=$1)`, id).Scan(&exists)
	return exists, err
}
