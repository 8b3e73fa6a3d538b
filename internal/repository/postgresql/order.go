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

type OrderRepo struct {
	db db.DB
}

func NewOrderRepo(db db.DB) *OrderRepo {
	return &OrderRepo{db: db}
}

// ListFilter narrows List/Count. Zero values mean "no filter".
type ListFilter struct {
	Marketplace *status.Marketplace
	Status      *status.Status
	Search      string
	Limit       int
	Offset      int
}

func (r *OrderRepo) CreateTx(ctx context.Context, tx db.Tx, order *repository.Order) (int64, error) {
	var id int64
	err := tx.ExecQueryRow(ctx, `
        INSERT INTO orders (
            marketplace, external_order_id, product_name, sku, quantity,
            due_ship_at, comment, current_status, current_status_at, created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING id
    `, order.Marketplace, order.ExternalOrderID, order.ProductName, order.SKU, order.Quantity,
		order.DueShipAt, order.Comment, order.CurrentStatus, order.CurrentStatusAt,
		order.CreatedAt, order.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert order %s/%s: %w", order.Marketplace, order.ExternalOrderID, err)
	}
	return id, nil
}

func (r *OrderRepo) GetByID(ctx context.Context, id int64) (*repository.Order, error) {
	var order repository.Order
	err := r.db.Get(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepo) GetByIDTx(ctx context.Context, tx db.Tx, id int64) (*repository.Order, error) {
	var order repository.Order
	err := tx.Get(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// GetByNaturalKeyTx locks the order row for the rest of the transaction, so
// the dedupe check and the event append see a stable history.
func (r *OrderRepo) GetByNaturalKeyTx(ctx context.Context, tx db.Tx, marketplace status.Marketplace, externalOrderID string) (*repository.Order, error) {
	var order repository.Order
	err := tx.Get(ctx, &order, `
        SELECT * FROM orders
        WHERE marketplace = $1 AND external_order_id = $2
        FOR UPDATE
    `, marketplace, externalOrderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepo) UpdateCurrentStatusTx(ctx context.Context, tx db.Tx, orderID int64, st status.Status, at time.Time) error {
	tag, err := tx.Exec(ctx, `
        UPDATE orders
        SET current_status = $1,
            current_status_at = $2,
            updated_at = $3
        WHERE id = $4
    `, st, at, time.Now().UTC(), orderID)
	if err != nil {
		return fmt.Errorf("failed to update current status of order %d: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrOrderNotFound
	}
	return nil
}

func (r *OrderRepo) List(ctx context.Context, filter ListFilter) ([]*repository.Order, error) {
	query, args := buildListQuery("SELECT *", filter)
	query += " ORDER BY current_status_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var orders []*repository.Order
	if err := r.db.Select(ctx, &orders, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

func (r *OrderRepo) Count(ctx context.Context, filter ListFilter) (int, error) {
	query, args := buildListQuery("SELECT COUNT(*)", filter)
	var total int
	if err := r.db.ExecQueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return total, nil
}

func (r *OrderRepo) GetAllActiveOrders(ctx context.Context) ([]*repository.Order, error) {
	terminal := status.TerminalStatuses()
	args := make([]interface{}, 0, len(terminal))
	placeholders := ""
	for i, st := range terminal {
		if i > 0 {
			placeholders += ", "
		}
		args = append(args, st)
		placeholders += fmt.Sprintf("$%d", len(args))
	}

	var orders []*repository.Order
	query := fmt.Sprintf(`
        SELECT * FROM orders
        WHERE current_status NOT IN (%s)
        ORDER BY created_at ASC
    `, placeholders)
	if err := r.db.Select(ctx, &orders, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get all active orders: %w", err)
	}
	return orders, nil
}

func buildListQuery(head string, filter ListFilter) (string, []interface{}) {
	query := head + " FROM orders WHERE 1=1"
	args := []interface{}{}

	if filter.Marketplace != nil {
		args = append(args, *filter.Marketplace)
		query += fmt.Sprintf(" AND marketplace = $%d", len(args))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" AND current_status = $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := len(args)
		query += fmt.Sprintf(" AND (external_order_id ILIKE $%d OR product_name ILIKE $%d OR sku ILIKE $%d)", n, n, n)
	}
	return query, args
}
