package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/masterdata/locations"
	"github.com/meridian-erp/meridian/internal/platform/db"
)

// ReportFilter narrows the stock movement report. Zero values mean "any".
type ReportFilter struct {
	Start    time.Time
	End      time.Time
	ItemID   int64
	Location *LocationRef
	Type     MovementType
	Limit    int
	Offset   int
}

// Pair identifies one running-balance chain.
type Pair struct {
	ItemID   int64
	Location LocationRef
}

// Level is the cached current stock for a pair.
type Level struct {
	ItemID    int64           `json:"item_id"`
	ItemName  string          `json:"item_name"`
	Location  LocationRef     `json:"location"`
	Quantity  decimal.Decimal `json:"quantity"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Repository is the read side of the ledger. Writes go through Ledger.Append
// on a document transaction.
type Repository interface {
	ListMovements(ctx context.Context, filter ReportFilter) ([]Entry, error)
	ListMovementsForPair(ctx context.Context, itemID int64, loc LocationRef) ([]Entry, error)
	ListPairs(ctx context.Context) ([]Pair, error)
	StockLevel(ctx context.Context, itemID int64, loc LocationRef) (decimal.Decimal, error)
	ListStockLevels(ctx context.Context, itemID int64) ([]Level, error)
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const movementColumns = `
	sm.id, sm.item_id, COALESCE(i.name, ''), sm.location_kind, sm.location_id,
	sm.movement_type, sm.previous_quantity, sm.movement_quantity, sm.after_quantity,
	sm.reference_type, sm.reference_id, sm.reference_code, sm.actor_id, sm.occurred_at`

func (r *repository) ListMovements(ctx context.Context, f ReportFilter) ([]Entry, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !f.Start.IsZero() {
		add("sm.occurred_at >= $%d", f.Start)
	}
	if !f.End.IsZero() {
		add("sm.occurred_at < $%d", f.End)
	}
	if f.ItemID > 0 {
		add("sm.item_id = $%d", f.ItemID)
	}
	if f.Location != nil {
		add("sm.location_kind = $%d", string(f.Location.Kind))
		add("sm.location_id = $%d", f.Location.ID)
	}
	if f.Type != "" {
		add("sm.movement_type = $%d", string(f.Type))
	}

	query := `SELECT ` + movementColumns + `
		FROM stock_movements sm
		LEFT JOIN items i ON i.id = sm.item_id`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY sm.occurred_at, sm.id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stock movements: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (r *repository) ListMovementsForPair(ctx context.Context, itemID int64, loc LocationRef) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+`
		FROM stock_movements sm
		LEFT JOIN items i ON i.id = sm.item_id
		WHERE sm.item_id = $1 AND sm.location_kind = $2 AND sm.location_id = $3
		ORDER BY sm.occurred_at, sm.id`,
		itemID, string(loc.Kind), loc.ID)
	if err != nil {
		return nil, fmt.Errorf("list pair movements: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (r *repository) ListPairs(ctx context.Context) ([]Pair, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT item_id, location_kind, location_id
		FROM stock_movements
		ORDER BY item_id, location_kind, location_id`)
	if err != nil {
		return nil, fmt.Errorf("list ledger pairs: %w", err)
	}
	defer rows.Close()

	var pairs []Pair
	for rows.Next() {
		var (
			p    Pair
			kind string
		)
		if err := rows.Scan(&p.ItemID, &kind, &p.Location.ID); err != nil {
			return nil, err
		}
		p.Location.Kind = locations.Kind(kind)
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

func (r *repository) StockLevel(ctx context.Context, itemID int64, loc LocationRef) (decimal.Decimal, error) {
	var qty pgtype.Numeric
	err := r.pool.QueryRow(ctx, `
		SELECT quantity FROM stock_levels
		WHERE item_id = $1 AND location_kind = $2 AND location_id = $3`,
		itemID, string(loc.Kind), loc.ID).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("stock level: %w", err)
	}
	return db.NumericToDecimal(qty), nil
}

func (r *repository) ListStockLevels(ctx context.Context, itemID int64) ([]Level, error) {
	query := `
		SELECT sl.item_id, COALESCE(i.name, ''), sl.location_kind, sl.location_id,
		       sl.quantity, sl.updated_at
		FROM stock_levels sl
		LEFT JOIN items i ON i.id = sl.item_id`
	var args []any
	if itemID > 0 {
		query += " WHERE sl.item_id = $1"
		args = append(args, itemID)
	}
	query += " ORDER BY sl.item_id, sl.location_kind, sl.location_id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stock levels: %w", err)
	}
	defer rows.Close()

	var levels []Level
	for rows.Next() {
		var (
			lv   Level
			kind string
			qty  pgtype.Numeric
		)
		if err := rows.Scan(&lv.ItemID, &lv.ItemName, &kind, &lv.Location.ID, &qty, &lv.UpdatedAt); err != nil {
			return nil, err
		}
		lv.Location.Kind = locations.Kind(kind)
		lv.Quantity = db.NumericToDecimal(qty)
		levels = append(levels, lv)
	}
	return levels, rows.Err()
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var (
			e                     Entry
			kind, mtype           string
			prev, movement, after pgtype.Numeric
		)
		err := rows.Scan(&e.ID, &e.ItemID, &e.ItemName, &kind, &e.Location.ID,
			&mtype, &prev, &movement, &after,
			&e.Reference.DocType, &e.Reference.DocID, &e.Reference.DocCode,
			&e.ActorID, &e.OccurredAt)
		if err != nil {
			return nil, err
		}
		e.Location.Kind = locations.Kind(kind)
		e.Type = MovementType(mtype)
		e.PreviousQuantity = db.NumericToDecimal(prev)
		e.MovementQuantity = db.NumericToDecimal(movement)
		e.AfterQuantity = db.NumericToDecimal(after)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}
