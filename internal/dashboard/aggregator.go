package dashboard

import (
	"context"
	"fmt"
	"math"
	"time"

	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/db"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/status"
)

// Summary is the read-only dashboard block for one marketplace.
type Summary struct {
	Marketplace       status.Marketplace    `json:"marketplace"`
	TotalOrders       int                   `json:"total_orders"`
	ActiveOrders      int                   `json:"active_orders"`
	OverdueToShip     int                   `json:"overdue_to_ship"`
	BuyoutCount       int                   `json:"buyout_count"`
	BuyoutRatePercent float64               `json:"buyout_rate_percent"`
	RejectionCount    int                   `json:"rejection_count"`
	ReturnCount       int                   `json:"return_count"`
	DefectCount       int                   `json:"defect_count"`
	ByStatus          map[status.Status]int `json:"by_status"`
}

type Aggregator struct {
	db db.DB
}

func NewAggregator(database db.DB) *Aggregator {
	return &Aggregator{db: database}
}

type statusCount struct {
	CurrentStatus status.Status `db:"current_status"`
	Count         int           `db:"count"`
}

// Summarize derives all counters from one grouped query plus the overdue
// count, which needs due_ship_at. Orders count as overdue while they are
// active, past their ship-by time and still before handed_to_delivery in the
// lifecycle.
func (a *Aggregator) Summarize(ctx context.Context, m status.Marketplace) (*Summary, error) {
	var grouped []*statusCount
	err := a.db.Select(ctx, &grouped, `
        SELECT current_status, COUNT(*) AS count
        FROM orders
        WHERE marketplace = $1
        GROUP BY current_status
    `, m)
	if err != nil {
		return nil, fmt.Errorf("failed to group orders by status: %w", err)
	}

	summary := &Summary{
		Marketplace: m,
		ByStatus:    make(map[status.Status]int, 13),
	}
	for _, st := range status.All() {
		summary.ByStatus[st] = 0
	}

	for _, row := range grouped {
		summary.ByStatus[row.CurrentStatus] = row.Count
		summary.TotalOrders += row.Count
		if !row.CurrentStatus.IsTerminal() {
			summary.ActiveOrders += row.Count
		}
		if row.CurrentStatus.IsReturn() {
			summary.ReturnCount += row.Count
		}
		switch row.CurrentStatus {
		case status.StatusBuyout:
			summary.BuyoutCount = row.Count
		case status.StatusRejection:
			summary.RejectionCount = row.Count
		case status.StatusDefect:
			summary.DefectCount = row.Count
		}
	}

	overdue, err := a.countOverdue(ctx, m, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	summary.OverdueToShip = overdue

	if summary.TotalOrders > 0 {
		rate := float64(summary.BuyoutCount) / float64(summary.TotalOrders) * 100.0
		summary.BuyoutRatePercent = math.Round(rate*10) / 10
	}

	return summary, nil
}

func (a *Aggregator) countOverdue(ctx context.Context, m status.Marketplace, now time.Time) (int, error) {
	args := []interface{}{m, now}
	placeholders := ""
	for _, st := range status.All() {
		if !st.Before(status.StatusHandedToDelivery) {
			continue
		}
		args = append(args, st)
		if placeholders != "" {
			placeholders += ", "
		}
		placeholders += fmt.Sprintf("$%d", len(args))
	}

	var overdue int
	query := fmt.Sprintf(`
        SELECT COUNT(*) FROM orders
        WHERE marketplace = $1
          AND due_ship_at IS NOT NULL
          AND due_ship_at < $2
          AND current_status IN (%s)
    `, placeholders)
	if err := a.db.ExecQueryRow(ctx, query, args...).Scan(&overdue); err != nil {
		return 0, fmt.Errorf("failed to count overdue orders: %w", err)
	}
	return overdue, nil
}
