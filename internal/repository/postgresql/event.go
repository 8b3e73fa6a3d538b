package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"

	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/db"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/repository"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/status"
)

type EventRepo struct {
	db db.DB
}

func NewEventRepo(db db.DB) *EventRepo {
	return &EventRepo{db: db}
}

func (r *EventRepo) CreateTx(ctx context.Context, tx db.Tx, event *repository.StatusEvent) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO status_events (
            order_id, status, event_at, note, source, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6)
    `, event.OrderID, event.Status, event.EventAt, event.Note, event.Source, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert status event for order %d: %w", event.OrderID, err)
	}
	return nil
}

// ExistsTx checks the dedupe key (order_id, status, event_at).
func (r *EventRepo) ExistsTx(ctx context.Context, tx db.Tx, orderID int64, st status.Status, eventAt time.Time) (bool, error) {
	var exists bool
	err := tx.ExecQueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM status_events
            WHERE order_id = $1 AND status = $2 AND event_at = $3
        )
    `, orderID, st, eventAt).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check status event existence for order %d: %w", orderID, err)
	}
	return exists, nil
}

// LatestTx returns the event with the greatest event_at for the order.
// Ties break on insertion order so repeated recomputation is stable.
func (r *EventRepo) LatestTx(ctx context.Context, tx db.Tx, orderID int64) (*repository.StatusEvent, error) {
	var event repository.StatusEvent
	err := tx.Get(ctx, &event, `
        SELECT * FROM status_events
        WHERE order_id = $1
        ORDER BY event_at DESC, id DESC
        LIMIT 1
    `, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrOrderNotFound
		}
		return nil, err
	}
	return &event, nil
}

func (r *EventRepo) ListByOrderID(ctx context.Context, orderID int64) ([]*repository.StatusEvent, error) {
	var events []*repository.StatusEvent
	err := r.db.Select(ctx, &events, `
        SELECT * FROM status_events
        WHERE order_id = $1
        ORDER BY event_at ASC, id ASC
    `, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list status events for order %d: %w", orderID, err)
	}
	return events, nil
}
