package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/bridge/internal/core/domain"
)

// EventRepo implements storage.EventRepository on the realtime_events table.
type EventRepo struct {
	db *sqlx.DB
}

// NewEventRepo creates a new PostgreSQL event repository.
func NewEventRepo(db *sqlx.DB) *EventRepo {
	return &EventRepo{db: db}
}

type eventRow struct {
	ID              string          `db:"id"`
	MerchantID      string          `db:"merchant_id"`
	CustomerID      sql.NullString  `db:"customer_id"`
	TransactionID   sql.NullString  `db:"transaction_id"`
	TransactionType sql.NullString  `db:"transaction_type"`
	Amount          sql.NullFloat64 `db:"amount"`
	EventType       sql.NullString  `db:"event_type"`
	EmittedAt       time.Time       `db:"emitted_at"`
	DeliveredAt     sql.NullTime    `db:"delivered_at"`
}

func (r eventRow) toDomain() *domain.RealtimeEvent {
	ev := &domain.RealtimeEvent{
		ID:         r.ID,
		MerchantID: r.MerchantID,
		CustomerID: r.CustomerID.String,
		EventType:  r.EventType.String,
		EmittedAt:  r.EmittedAt,
	}
	if r.TransactionID.Valid {
		ev.TransactionID = &r.TransactionID.String
	}
	if r.TransactionType.Valid {
		ev.TransactionType = &r.TransactionType.String
	}
	if r.Amount.Valid {
		ev.Amount = &r.Amount.Float64
	}
	if r.DeliveredAt.Valid {
		ev.DeliveredAt = &r.DeliveredAt.Time
	}
	ev.Normalize()
	return ev
}

const selectOldestUndelivered = `
	SELECT id, merchant_id, customer_id, transaction_id, transaction_type, amount, event_type, emitted_at, delivered_at
	FROM realtime_events
	WHERE merchant_id = $1 AND (customer_id = $2 OR customer_id IS NULL) AND delivered_at IS NULL
	ORDER BY emitted_at ASC, id ASC
	LIMIT 1`

// FindOldestUndelivered returns the oldest unclaimed event for the pair.
func (r *EventRepo) FindOldestUndelivered(
	ctx context.Context,
	merchantID, customerID string,
) (*domain.RealtimeEvent, error) {
	var row eventRow
	err := r.db.GetContext(ctx, &row, selectOldestUndelivered, merchantID, customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query undelivered event: %w", err)
	}
	return row.toDomain(), nil
}

// MarkDelivered claims the event with a conditional update.
func (r *EventRepo) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE realtime_events SET delivered_at = $2 WHERE id = $1 AND delivered_at IS NULL",
		id, at.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to mark event delivered: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// PatchCustomerID sets customer_id on an event stored without one.
func (r *EventRepo) PatchCustomerID(ctx context.Context, id, customerID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE realtime_events SET customer_id = $2 WHERE id = $1 AND customer_id IS NULL",
		id, customerID)
	if err != nil {
		return fmt.Errorf("failed to patch event customer: %w", err)
	}
	return nil
}
