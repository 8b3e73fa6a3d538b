package repository

import (
	"errors"
	"time"

	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/status"
)

var ErrOrderNotFound = errors.New("order not found")

type EventSource string

const (
	EventSourceSync   EventSource = "sync"
	EventSourceManual EventSource = "manual"
)

// Order is one fulfillment task. Identity is the natural key
// (marketplace, external_order_id); the surrogate id only exists for
// foreign keys and URLs.
type Order struct {
	ID              int64              `db:"id"`
	Marketplace     status.Marketplace `db:"marketplace"`
	ExternalOrderID string             `db:"external_order_id"`
	ProductName     string             `db:"product_name"`
	SKU             *string            `db:"sku"`
	Quantity        int                `db:"quantity"`
	DueShipAt       *time.Time         `db:"due_ship_at"`
	Comment         *string            `db:"comment"`
	CurrentStatus   status.Status      `db:"current_status"`
	CurrentStatusAt time.Time          `db:"current_status_at"`
	CreatedAt       time.Time          `db:"created_at"`
	UpdatedAt       time.Time          `db:"updated_at"`
}

// StatusEvent is one transition in an order's history. For a given order no
// two events share (status, event_at); that pair is the dedupe key repeated
// syncs are checked against.
type StatusEvent struct {
	ID        int64         `db:"id"`
	OrderID   int64         `db:"order_id"`
	Status    status.Status `db:"status"`
	EventAt   time.Time     `db:"event_at"`
	Note      *string       `db:"note"`
	Source    EventSource   `db:"source"`
	CreatedAt time.Time     `db:"created_at"`
}

// Settings is the singleton credentials row read by the marketplace adapters
// before every fetch. Empty fields mean the marketplace is not configured.
type Settings struct {
	WBToken      string    `db:"wb_token"`
	OzonClientID string    `db:"ozon_client_id"`
	OzonAPIKey   string    `db:"ozon_api_key"`
	UpdatedAt    time.Time `db:"updated_at"`
}
