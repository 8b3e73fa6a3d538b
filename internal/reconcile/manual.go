package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/db"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/metrics"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/repository"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/status"
)

const statusChangeTopic = "order_status_events"

const initialEventNote = "Первичный статус заказа"

// CreateOrderParams describes a manually entered order.
type CreateOrderParams struct {
	Marketplace     status.Marketplace
	ExternalOrderID string
	ProductName     string
	SKU             *string
	Quantity        int
	DueShipAt       *time.Time
	Comment         *string
	InitialStatus   status.Status
	InitialStatusAt time.Time
}

// CreateManualOrder records an operator-entered order together with its
// initial status event.
func (e *Engine) CreateManualOrder(ctx context.Context, params CreateOrderParams) (*repository.Order, error) {
	var order *repository.Order

	err := db.InTx(ctx, e.db, func(tx db.Tx) error {
		_, err := e.orders.GetByNaturalKeyTx(ctx, tx, params.Marketplace, params.ExternalOrderID)
		if err == nil {
			return ErrOrderExists
		}
		if !errors.Is(err, repository.ErrOrderNotFound) {
			return err
		}

		now := time.Now().UTC()
		order = &repository.Order{
			Marketplace:     params.Marketplace,
			ExternalOrderID: params.ExternalOrderID,
			ProductName:     params.ProductName,
			SKU:             params.SKU,
			Quantity:        params.Quantity,
			DueShipAt:       params.DueShipAt,
			Comment:         params.Comment,
			CurrentStatus:   params.InitialStatus,
			CurrentStatusAt: params.InitialStatusAt,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		id, err := e.orders.CreateTx(ctx, tx, order)
		if err != nil {
			return err
		}
		order.ID = id

		note := initialEventNote
		event := &repository.StatusEvent{
			OrderID:   id,
			Status:    params.InitialStatus,
			EventAt:   params.InitialStatusAt,
			Note:      &note,
			Source:    repository.EventSourceManual,
			CreatedAt: now,
		}
		if err := e.events.CreateTx(ctx, tx, event); err != nil {
			return err
		}

		return e.enqueueStatusChange(ctx, tx, order, "", params.InitialStatus, params.InitialStatusAt, repository.EventSourceManual)
	})
	if err != nil {
		return nil, err
	}

	metrics.OrdersCreatedTotal.WithLabelValues(string(params.Marketplace)).Inc()
	metrics.EventsAppendedTotal.WithLabelValues(string(params.Marketplace), string(repository.EventSourceManual)).Inc()
	e.cache.Set(order)
	return order, nil
}

// AddManualEvent appends an operator-entered status event. It follows the
// same dedupe and recomputation rules as sync merging, so a duplicate
// (status, event_at) entry is silently absorbed.
func (e *Engine) AddManualEvent(ctx context.Context, orderID int64, st status.Status, eventAt time.Time, note *string) (*repository.Order, error) {
	var order *repository.Order

	err := db.InTx(ctx, e.db, func(tx db.Tx) error {
		var err error
		order, err = e.orders.GetByIDTx(ctx, tx, orderID)
		if err != nil {
			return err
		}

		exists, err := e.events.ExistsTx(ctx, tx, order.ID, st, eventAt)
		if err != nil {
			return err
		}
		if exists {
			metrics.EventsSkippedDuplicateTotal.WithLabelValues(string(order.Marketplace)).Inc()
			return nil
		}

		event := &repository.StatusEvent{
			OrderID:   order.ID,
			Status:    st,
			EventAt:   eventAt,
			Note:      note,
			Source:    repository.EventSourceManual,
			CreatedAt: time.Now().UTC(),
		}
		if err := e.events.CreateTx(ctx, tx, event); err != nil {
			return err
		}
		metrics.EventsAppendedTotal.WithLabelValues(string(order.Marketplace), string(repository.EventSourceManual)).Inc()

		_, err = e.recomputeCurrentStatus(ctx, tx, order, repository.EventSourceManual)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.cache.Set(order)
	return order, nil
}

func (e *Engine) enqueueStatusChange(ctx context.Context, tx db.Tx, order *repository.Order, oldStatus, newStatus status.Status, eventAt time.Time, source repository.EventSource) error {
	payload, err := json.Marshal(repository.StatusChangePayload{
		Timestamp:       time.Now().UTC(),
		Marketplace:     string(order.Marketplace),
		ExternalOrderID: order.ExternalOrderID,
		OrderID:         order.ID,
		OldStatus:       string(oldStatus),
		NewStatus:       string(newStatus),
		EventAt:         eventAt,
		Source:          string(source),
	})
	if err != nil {
		return err
	}

	return e.outbox.CreateTx(ctx, tx, &repository.OutboxTask{
		Payload: payload,
		Topic:   statusChangeTopic,
	})
}
