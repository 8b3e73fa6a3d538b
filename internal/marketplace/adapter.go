package marketplace

import (
	"context"
	"fmt"
	"time"

	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/repository"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/status"
)

// RawOrderRecord is the normalized intermediate shape both upstream APIs are
// mapped into before reconciliation. RawStatusCode still speaks the
// marketplace's own vocabulary; translation happens in the engine.
type RawOrderRecord struct {
	ExternalOrderID string
	ProductName     string
	SKU             *string
	Quantity        int
	DueShipAt       *time.Time
	RawStatusCode   string
	StatusChangedAt time.Time
}

// Adapter fetches every order page the upstream has for the given window and
// returns the union, deduplicated by external order id. A fetch either
// succeeds for the whole marketplace or fails with a typed error; individual
// malformed records are skipped, never fatal.
type Adapter interface {
	Marketplace() status.Marketplace
	FetchOrders(ctx context.Context, since *time.Time, creds repository.Settings) ([]RawOrderRecord, error)
}

type UpstreamUnavailableError struct {
	Marketplace status.Marketplace
	StatusCode  int
	Err         error
}

func (e *UpstreamUnavailableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s upstream unavailable: HTTP %d", e.Marketplace, e.StatusCode)
	}
	return fmt.Sprintf("%s upstream unavailable: %v", e.Marketplace, e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error {
	return e.Err
}

type CredentialsMissingError struct {
	Marketplace status.Marketplace
}

func (e *CredentialsMissingError) Error() string {
	return fmt.Sprintf("credentials for %s are not configured", e.Marketplace)
}
