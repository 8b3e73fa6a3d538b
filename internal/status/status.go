package status

import "fmt"

type Marketplace string

const (
	MarketplaceWB   Marketplace = "wb"
	MarketplaceOzon Marketplace = "ozon"
)

var marketplaceLabels = map[Marketplace]string{
	MarketplaceWB:   "Wildberries",
	MarketplaceOzon: "Ozon",
}

func ParseMarketplace(s string) (Marketplace, error) {
	m := Marketplace(s)
	if _, ok := marketplaceLabels[m]; !ok {
		return "", fmt.Errorf("unknown marketplace %q", s)
	}
	return m, nil
}

func (m Marketplace) Label() string {
	return marketplaceLabels[m]
}

func Marketplaces() []Marketplace {
	return []Marketplace{MarketplaceWB, MarketplaceOzon}
}

// Status is one of the 13 canonical lifecycle states every
// marketplace-specific status code is translated into.
type Status string

const (
	StatusNew                         Status = "new"
	StatusAssembly                    Status = "assembly"
	StatusHandedToDelivery            Status = "handed_to_delivery"
	StatusWarehouseReceived           Status = "warehouse_received"
	StatusInTransitToBuyer            Status = "in_transit_to_buyer"
	StatusArrivedAtBuyerPickup        Status = "arrived_at_buyer_pickup"
	StatusBuyout                      Status = "buyout"
	StatusReturnStarted               Status = "return_started"
	StatusRejection                   Status = "rejection"
	StatusDefect                      Status = "defect"
	StatusReturnInTransitFromBuyer    Status = "return_in_transit_from_buyer"
	StatusReturnArrivedToSellerPickup Status = "return_arrived_to_seller_pickup"
	StatusSellerPickedUp              Status = "seller_picked_up"
)

// lifecycleOrder is the canonical progression used for "before" comparisons
// on the dashboard. The exact ordering is business configuration, so it lives
// in one table rather than being baked into comparisons.
var lifecycleOrder = []Status{
	StatusNew,
	StatusAssembly,
	StatusHandedToDelivery,
	StatusWarehouseReceived,
	StatusInTransitToBuyer,
	StatusArrivedAtBuyerPickup,
	StatusBuyout,
	StatusReturnStarted,
	StatusRejection,
	StatusDefect,
	StatusReturnInTransitFromBuyer,
	StatusReturnArrivedToSellerPickup,
	StatusSellerPickedUp,
}

var lifecycleRank = func() map[Status]int {
	ranks := make(map[Status]int, len(lifecycleOrder))
	for i, s := range lifecycleOrder {
		ranks[s] = i
	}
	return ranks
}()

var terminalStatuses = map[Status]struct{}{
	StatusBuyout:         {},
	StatusRejection:      {},
	StatusDefect:         {},
	StatusSellerPickedUp: {},
}

var returnStatuses = map[Status]struct{}{
	StatusReturnStarted:               {},
	StatusReturnInTransitFromBuyer:    {},
	StatusReturnArrivedToSellerPickup: {},
}

var statusLabels = map[Status]string{
	StatusNew:                         "Новый заказ",
	StatusAssembly:                    "Сборка",
	StatusHandedToDelivery:            "Передан в доставку",
	StatusWarehouseReceived:           "Принят на складе маркетплейса",
	StatusInTransitToBuyer:            "В пути к покупателю",
	StatusArrivedAtBuyerPickup:        "Прибыл на ПВЗ покупателя",
	StatusBuyout:                      "Выкуп",
	StatusReturnStarted:               "Возврат",
	StatusRejection:                   "Отказ",
	StatusDefect:                      "Брак",
	StatusReturnInTransitFromBuyer:    "Возврат в пути от покупателя",
	StatusReturnArrivedToSellerPickup: "Возврат прибыл на ПВЗ продавца",
	StatusSellerPickedUp:              "Возврат получен продавцом",
}

// All returns the canonical statuses in lifecycle order.
func All() []Status {
	out := make([]Status, len(lifecycleOrder))
	copy(out, lifecycleOrder)
	return out
}

// TerminalStatuses returns the statuses after which no transition is expected.
func TerminalStatuses() []Status {
	out := make([]Status, 0, len(terminalStatuses))
	for _, s := range lifecycleOrder {
		if _, ok := terminalStatuses[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

func Parse(s string) (Status, error) {
	st := Status(s)
	if _, ok := lifecycleRank[st]; !ok {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

func (s Status) Label() string {
	return statusLabels[s]
}

// IsTerminal reports whether no further transitions are expected after s.
func (s Status) IsTerminal() bool {
	_, ok := terminalStatuses[s]
	return ok
}

// IsReturn reports whether s belongs to the return flow.
func (s Status) IsReturn() bool {
	_, ok := returnStatuses[s]
	return ok
}

// Before reports whether s comes strictly earlier than other in the
// canonical lifecycle.
func (s Status) Before(other Status) bool {
	return lifecycleRank[s] < lifecycleRank[other]
}
