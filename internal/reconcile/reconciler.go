package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/cache"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/db"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/marketplace"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/metrics"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/repository"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/status"
)

var ErrOrderExists = errors.New("order already exists")

type OrderRepository interface {
	CreateTx(ctx context.Context, tx db.Tx, order *repository.Order) (int64, error)
	GetByIDTx(ctx context.Context, tx db.Tx, id int64) (*repository.Order, error)
	GetByNaturalKeyTx(ctx context.Context, tx db.Tx, m status.Marketplace, externalOrderID string) (*repository.Order, error)
	UpdateCurrentStatusTx(ctx context.Context, tx db.Tx, orderID int64, st status.Status, at time.Time) error
}

type EventRepository interface {
	CreateTx(ctx context.Context, tx db.Tx, event *repository.StatusEvent) error
	ExistsTx(ctx context.Context, tx db.Tx, orderID int64, st status.Status, eventAt time.Time) (bool, error)
	LatestTx(ctx context.Context, tx db.Tx, orderID int64) (*repository.StatusEvent, error)
}

type OutboxRepository interface {
	CreateTx(ctx context.Context, tx db.Tx, task *repository.OutboxTask) error
}

// Report is the outcome of merging one marketplace's fetched records.
type Report struct {
	OrdersCreated          int `json:"orders_created"`
	OrdersUpdated          int `json:"orders_updated"`
	EventsAppended         int `json:"events_appended"`
	EventsSkippedDuplicate int `json:"events_skipped_duplicate"`
	UnknownStatuses        int `json:"unknown_statuses"`
}

// Engine is the only writer of orders and status events. Each raw record is
// merged inside its own transaction: order lookup locks the row, the dedupe
// check and the event append happen against that locked history, and
// current_status is recomputed from the event with the greatest event_at so
// backfilled history never regresses it. Running the same batch twice is a
// no-op the second time.
type Engine struct {
	db     db.DB
	orders OrderRepository
	events EventRepository
	outbox OutboxRepository
	cache  *cache.OrderCache
	logger *zap.Logger
}

func NewEngine(database db.DB, orders OrderRepository, events EventRepository, outbox OutboxRepository, orderCache *cache.OrderCache, logger *zap.Logger) *Engine {
	return &Engine{
		db:     database,
		orders: orders,
		events: events,
		outbox: outbox,
		cache:  orderCache,
		logger: logger,
	}
}

func (e *Engine) Reconcile(ctx context.Context, m status.Marketplace, records []marketplace.RawOrderRecord) (Report, error) {
	var report Report

	for _, rec := range records {
		st, err := status.Translate(m, rec.RawStatusCode)
		if err != nil {
			report.UnknownStatuses++
			metrics.UnknownStatusTotal.WithLabelValues(string(m)).Inc()
			e.logger.Warn("skipping record with unmapped status",
				zap.String("marketplace", string(m)),
				zap.String("external_order_id", rec.ExternalOrderID),
				zap.String("raw_status", rec.RawStatusCode),
				zap.Error(err),
			)
			continue
		}

		// An unchanged cached order means the (status, event_at) pair is
		// already the latest event, so the record cannot add anything.
		if cached, ok := e.cache.Get(m, rec.ExternalOrderID); ok {
			if cached.CurrentStatus == st && cached.CurrentStatusAt.Equal(rec.StatusChangedAt) {
				report.EventsSkippedDuplicate++
				metrics.EventsSkippedDuplicateTotal.WithLabelValues(string(m)).Inc()
				continue
			}
		}

		mutated, err := e.reconcileRecord(ctx, m, rec, st, &report)
		if err != nil {
			return report, fmt.Errorf("failed to reconcile %s order %s: %w", m, rec.ExternalOrderID, err)
		}
		if mutated != nil {
			e.cache.Set(mutated)
		}
	}

	return report, nil
}

func (e *Engine) reconcileRecord(ctx context.Context, m status.Marketplace, rec marketplace.RawOrderRecord, st status.Status, report *Report) (*repository.Order, error) {
	var mutated *repository.Order

	err := db.InTx(ctx, e.db, func(tx db.Tx) error {
		order, err := e.orders.GetByNaturalKeyTx(ctx, tx, m, rec.ExternalOrderID)
		if errors.Is(err, repository.ErrOrderNotFound) {
			created, err := e.createFromRecord(ctx, tx, m, rec, st)
			if err != nil {
				return err
			}
			report.OrdersCreated++
			report.EventsAppended++
			metrics.OrdersCreatedTotal.WithLabelValues(string(m)).Inc()
			metrics.EventsAppendedTotal.WithLabelValues(string(m), string(repository.EventSourceSync)).Inc()
			mutated = created
			return nil
		}
		if err != nil {
			return err
		}

		exists, err := e.events.ExistsTx(ctx, tx, order.ID, st, rec.StatusChangedAt)
		if err != nil {
			return err
		}
		if exists {
			report.EventsSkippedDuplicate++
			metrics.EventsSkippedDuplicateTotal.WithLabelValues(string(m)).Inc()
			mutated = order
			return nil
		}

		event := &repository.StatusEvent{
			OrderID:   order.ID,
			Status:    st,
			EventAt:   rec.StatusChangedAt,
			Source:    repository.EventSourceSync,
			CreatedAt: time.Now().UTC(),
		}
		if err := e.events.CreateTx(ctx, tx, event); err != nil {
			return err
		}
		report.EventsAppended++
		metrics.EventsAppendedTotal.WithLabelValues(string(m), string(repository.EventSourceSync)).Inc()

		updated, err := e.recomputeCurrentStatus(ctx, tx, order, repository.EventSourceSync)
		if err != nil {
			return err
		}
		if updated {
			report.OrdersUpdated++
		}
		mutated = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mutated, nil
}

func (e *Engine) createFromRecord(ctx context.Context, tx db.Tx, m status.Marketplace, rec marketplace.RawOrderRecord, st status.Status) (*repository.Order, error) {
	now := time.Now().UTC()
	order := &repository.Order{
		Marketplace:     m,
		ExternalOrderID: rec.ExternalOrderID,
		ProductName:     rec.ProductName,
		SKU:             rec.SKU,
		Quantity:        rec.Quantity,
		DueShipAt:       rec.DueShipAt,
		CurrentStatus:   st,
		CurrentStatusAt: rec.StatusChangedAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	id, err := e.orders.CreateTx(ctx, tx, order)
	if err != nil {
		return nil, err
	}
	order.ID = id

	event := &repository.StatusEvent{
		OrderID:   id,
		Status:    st,
		EventAt:   rec.StatusChangedAt,
		Source:    repository.EventSourceSync,
		CreatedAt: now,
	}
	if err := e.events.CreateTx(ctx, tx, event); err != nil {
		return nil, err
	}

	if err := e.enqueueStatusChange(ctx, tx, order, "", st, rec.StatusChangedAt, repository.EventSourceSync); err != nil {
		return nil, err
	}
	return order, nil
}

// recomputeCurrentStatus re-derives current_status from the event set and
// writes it back when it moved. It mutates order in place on change.
func (e *Engine) recomputeCurrentStatus(ctx context.Context, tx db.Tx, order *repository.Order, source repository.EventSource) (bool, error) {
	latest, err := e.events.LatestTx(ctx, tx, order.ID)
	if err != nil {
		return false, err
	}

	if latest.Status == order.CurrentStatus && latest.EventAt.Equal(order.CurrentStatusAt) {
		return false, nil
	}

	if err := e.orders.UpdateCurrentStatusTx(ctx, tx, order.ID, latest.Status, latest.EventAt); err != nil {
		return false, err
	}

	if latest.Status != order.CurrentStatus {
		if err := e.enqueueStatusChange(ctx, tx, order, order.CurrentStatus, latest.Status, latest.EventAt, source); err != nil {
			return false, err
		}
	}

	order.CurrentStatus = latest.Status
	order.CurrentStatusAt = latest.EventAt
	return true, nil
}
