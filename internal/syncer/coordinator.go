package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/marketplace"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/metrics"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/reconcile"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/repository"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/status"
)

// ErrSyncAlreadyRunning is returned to a manual trigger that arrives while a
// run is in flight. It is never retried automatically.
var ErrSyncAlreadyRunning = errors.New("sync is already running")

const (
	DefaultInterval     = 15 * time.Minute
	defaultFetchTimeout = 60 * time.Second

	// overlap rewinds the since watermark so records settling in the
	// upstream just after the previous run are not missed. Reconciliation
	// is idempotent, so re-fetching them is harmless.
	sinceOverlap = 5 * time.Minute
)

type Reconciler interface {
	Reconcile(ctx context.Context, m status.Marketplace, records []marketplace.RawOrderRecord) (reconcile.Report, error)
}

type SettingsSource interface {
	Get(ctx context.Context) (*repository.Settings, error)
}

type SyncError struct {
	Marketplace status.Marketplace `json:"marketplace"`
	Message     string             `json:"message"`
}

type SyncReport struct {
	WBReceived      int         `json:"wb_received"`
	OzonReceived    int         `json:"ozon_received"`
	ProcessedOrders int         `json:"processed_orders"`
	Errors          []SyncError `json:"errors"`
}

// Coordinator owns the sync concurrency discipline: a background ticker and
// manual triggers funnel into runLocked through a single TryLock guard, so at
// most one run is in flight and a second manual trigger fails fast instead of
// queuing. The guard is process state only; a crash mid-run simply restarts
// Idle.
type Coordinator struct {
	adapters     []marketplace.Adapter
	engine       Reconciler
	settings     SettingsSource
	interval     time.Duration
	fetchTimeout time.Duration
	logger       *zap.Logger

	runMu    sync.Mutex
	lastSync map[status.Marketplace]time.Time

	wg             sync.WaitGroup
	shutdownSignal chan struct{}
	stopOnce       sync.Once
}

func NewCoordinator(adapters []marketplace.Adapter, engine Reconciler, settings SettingsSource, interval time.Duration, logger *zap.Logger) *Coordinator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Coordinator{
		adapters:       adapters,
		engine:         engine,
		settings:       settings,
		interval:       interval,
		fetchTimeout:   defaultFetchTimeout,
		logger:         logger,
		lastSync:       make(map[status.Marketplace]time.Time),
		shutdownSignal: make(chan struct{}),
	}
}

// RunSync performs one sync run, or fails immediately with
// ErrSyncAlreadyRunning when a run is in flight.
func (c *Coordinator) RunSync(ctx context.Context) (*SyncReport, error) {
	if !c.runMu.TryLock() {
		return nil, ErrSyncAlreadyRunning
	}
	defer c.runMu.Unlock()

	return c.runLocked(ctx)
}

type fetchResult struct {
	marketplace status.Marketplace
	records     []marketplace.RawOrderRecord
	err         error
}

func (c *Coordinator) runLocked(ctx context.Context) (*SyncReport, error) {
	startedAt := time.Now().UTC()
	creds, err := c.settings.Get(ctx)
	if err != nil {
		return nil, err
	}

	// Both fetches run concurrently; they share nothing and one hanging or
	// failing must not stop the other.
	results := make([]fetchResult, len(c.adapters))
	var g errgroup.Group
	for i, adapter := range c.adapters {
		i, adapter := i, adapter
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
			defer cancel()

			records, err := adapter.FetchOrders(fetchCtx, c.since(adapter.Marketplace()), *creds)
			results[i] = fetchResult{marketplace: adapter.Marketplace(), records: records, err: err}
			return nil
		})
	}
	_ = g.Wait()

	report := &SyncReport{Errors: []SyncError{}}
	for _, res := range results {
		if res.err != nil {
			metrics.SyncErrorsTotal.WithLabelValues(string(res.marketplace)).Inc()
			c.logger.Error("marketplace fetch failed",
				zap.String("marketplace", string(res.marketplace)),
				zap.Error(res.err),
			)
			report.Errors = append(report.Errors, SyncError{Marketplace: res.marketplace, Message: res.err.Error()})
			continue
		}

		c.countReceived(report, res)

		merged, err := c.engine.Reconcile(ctx, res.marketplace, res.records)
		if err != nil {
			metrics.SyncErrorsTotal.WithLabelValues(string(res.marketplace)).Inc()
			c.logger.Error("reconciliation failed",
				zap.String("marketplace", string(res.marketplace)),
				zap.Error(err),
			)
			report.Errors = append(report.Errors, SyncError{Marketplace: res.marketplace, Message: err.Error()})
			continue
		}

		report.ProcessedOrders += merged.OrdersCreated + merged.OrdersUpdated
		c.setSince(res.marketplace, startedAt)
	}

	metrics.SyncRunsTotal.Inc()
	c.logger.Info("sync run completed",
		zap.Int("wb_received", report.WBReceived),
		zap.Int("ozon_received", report.OzonReceived),
		zap.Int("processed_orders", report.ProcessedOrders),
		zap.Int("errors", len(report.Errors)),
		zap.Duration("took", time.Since(startedAt)),
	)
	return report, nil
}

func (c *Coordinator) countReceived(report *SyncReport, res fetchResult) {
	switch res.marketplace {
	case status.MarketplaceWB:
		report.WBReceived = len(res.records)
	case status.MarketplaceOzon:
		report.OzonReceived = len(res.records)
	}
}

func (c *Coordinator) since(m status.Marketplace) *time.Time {
	last, ok := c.lastSync[m]
	if !ok {
		return nil
	}
	since := last.Add(-sinceOverlap)
	return &since
}

func (c *Coordinator) setSince(m status.Marketplace, at time.Time) {
	c.lastSync[m] = at
}

// Start launches the background timer. A tick that lands during a running
// sync is a no-op rather than a queued run.
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.logger.Info("sync coordinator started", zap.Duration("interval", c.interval))

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := c.RunSync(ctx); err != nil {
					if errors.Is(err, ErrSyncAlreadyRunning) {
						c.logger.Debug("timer tick skipped, sync already running")
						continue
					}
					c.logger.Error("scheduled sync failed", zap.Error(err))
				}
			case <-c.shutdownSignal:
				c.logger.Info("sync coordinator stopping")
				return
			case <-ctx.Done():
				c.logger.Info("sync coordinator context cancelled")
				return
			}
		}
	}()
}

func (c *Coordinator) Shutdown(ctx context.Context) {
	c.stopOnce.Do(func() {
		close(c.shutdownSignal)

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			c.logger.Info("sync coordinator stopped")
		case <-ctx.Done():
			c.logger.Warn("sync coordinator shutdown timed out")
		}
	})
}
