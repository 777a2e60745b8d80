package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/platform/db"
)

// Ledger appends stock movement entries. Append always runs on the caller's
// transaction so a document and its stock entries commit or roll back
// together.
type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Append locks the stock level row for the (item, location) pair, computes
// the resulting level per the movement type, inserts the ledger entry and
// updates the cached level. The cached level and the last entry's
// after_quantity always agree because both writes share the row lock.
func (l *Ledger) Append(ctx context.Context, tx pgx.Tx, in AppendInput) (Entry, error) {
	if err := in.Location.Validate(); err != nil {
		return Entry{}, err
	}
	if in.ItemID <= 0 {
		return Entry{}, errors.New("inventory: item id must be positive")
	}

	previous, err := lockLevel(ctx, tx, in.ItemID, in.Location)
	if err != nil {
		return Entry{}, fmt.Errorf("lock stock level: %w", err)
	}

	movement, after, err := resolveMovement(in.Type, previous, in.Quantity)
	if err != nil {
		return Entry{}, err
	}

	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	entry := Entry{
		ItemID:           in.ItemID,
		Location:         in.Location,
		Type:             in.Type,
		PreviousQuantity: previous,
		MovementQuantity: movement,
		AfterQuantity:    after,
		Reference:        in.Reference,
		ActorID:          in.ActorID,
		OccurredAt:       occurredAt,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO stock_movements
			(item_id, location_kind, location_id, movement_type,
			 previous_quantity, movement_quantity, after_quantity,
			 reference_type, reference_id, reference_code,
			 actor_id, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id`,
		in.ItemID, string(in.Location.Kind), in.Location.ID, string(in.Type),
		db.DecimalToNumeric(previous), db.DecimalToNumeric(movement), db.DecimalToNumeric(after),
		in.Reference.DocType, in.Reference.DocID, in.Reference.DocCode,
		in.ActorID, occurredAt,
	).Scan(&entry.ID)
	if err != nil {
		return Entry{}, fmt.Errorf("insert stock movement: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE stock_levels
		SET quantity = $4, updated_at = NOW()
		WHERE item_id = $1 AND location_kind = $2 AND location_id = $3`,
		in.ItemID, string(in.Location.Kind), in.Location.ID, db.DecimalToNumeric(after),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("update stock level: %w", err)
	}
	return entry, nil
}

// lockLevel takes the row lock on the stock level, creating the row at zero
// when the pair has never moved before.
func lockLevel(ctx context.Context, tx pgx.Tx, itemID int64, loc LocationRef) (decimal.Decimal, error) {
	const sel = `
		SELECT quantity FROM stock_levels
		WHERE item_id = $1 AND location_kind = $2 AND location_id = $3
		FOR UPDATE`

	var qty pgtype.Numeric
	err := tx.QueryRow(ctx, sel, itemID, string(loc.Kind), loc.ID).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		_, err = tx.Exec(ctx, `
			INSERT INTO stock_levels (item_id, location_kind, location_id, quantity)
			VALUES ($1, $2, $3, 0)
			ON CONFLICT (item_id, location_kind, location_id) DO NOTHING`,
			itemID, string(loc.Kind), loc.ID)
		if err != nil {
			return decimal.Zero, err
		}
		err = tx.QueryRow(ctx, sel, itemID, string(loc.Kind), loc.ID).Scan(&qty)
	}
	if err != nil {
		return decimal.Zero, err
	}
	return db.NumericToDecimal(qty), nil
}
