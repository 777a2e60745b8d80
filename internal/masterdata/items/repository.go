package items

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian/internal/platform/db"
	"github.com/meridian-erp/meridian/internal/masterdata/shared"
)

// Repository persists items.
type Repository interface {
	List(ctx context.Context, filters shared.ListFilters) ([]Item, int, error)
	Get(ctx context.Context, id int64) (Item, error)
	Create(ctx context.Context, item Item) (Item, error)
	Update(ctx context.Context, id int64, item Item) error
	Delete(ctx context.Context, id int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the item repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const itemColumns = `id, code, name, abbreviation, standard_unit, COALESCE(wholesale_unit,''), COALESCE(wholesale_factor,0)`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	var factor pgtype.Numeric
	if err := row.Scan(&it.ID, &it.Code, &it.Name, &it.Abbreviation, &it.StandardUnit, &it.WholesaleUnit, &factor); err != nil {
		return Item{}, err
	}
	it.WholesaleFactor = db.NumericToDecimal(factor)
	return it, nil
}

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Item, int, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE deleted_at IS NULL`
	args := []any{}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		n := strconv.Itoa(len(args))
		query += ` AND (name ILIKE $` + n + ` OR code ILIKE $` + n + `)`
	}

	countQuery := `SELECT COUNT(*) FROM items WHERE deleted_at IS NULL`
	countArgs := []any{}
	if filters.Search != "" {
		countArgs = append(countArgs, "%"+filters.Search+"%")
		countQuery += ` AND (name ILIKE $1 OR code ILIKE $1)`
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += ` ORDER BY name`
	limit := filters.Limit
	if limit <= 0 {
		limit = shared.DefaultLimit
	}
	page := filters.Page
	if page <= 0 {
		page = shared.DefaultPage
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))
	args = append(args, (page-1)*limit)
	query += ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var list []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, it)
	}
	return list, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Item, error) {
	it, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1 AND deleted_at IS NULL`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, shared.ErrNotFound
		}
		return Item{}, err
	}
	return it, nil
}

func (r *repository) Create(ctx context.Context, item Item) (Item, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO items (code, name, abbreviation, standard_unit, wholesale_unit, wholesale_factor, created_at, updated_at)
VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,NOW(),NOW()) RETURNING `+itemColumns,
		item.Code, item.Name, item.Abbreviation, item.StandardUnit, item.WholesaleUnit, nullFactor(item))
	return scanItem(row)
}

func (r *repository) Update(ctx context.Context, id int64, item Item) error {
	tag, err := r.pool.Exec(ctx, `UPDATE items SET code=$1, name=$2, abbreviation=$3, standard_unit=$4, wholesale_unit=NULLIF($5,''), wholesale_factor=$6, updated_at=NOW()
WHERE id=$7 AND deleted_at IS NULL`,
		item.Code, item.Name, item.Abbreviation, item.StandardUnit, item.WholesaleUnit, nullFactor(item), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE items SET deleted_at=NOW() WHERE id=$1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func nullFactor(item Item) any {
	if !item.HasWholesaleUnit() {
		return nil
	}
	return db.DecimalToNumeric(item.WholesaleFactor)
}
