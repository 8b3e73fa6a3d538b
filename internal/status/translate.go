package status

import "fmt"

// UnknownStatusError is returned when an upstream status code has no entry in
// the translation table. It must be surfaced (logged and counted), never
// silently dropped: an unmapped code would otherwise corrupt current_status.
type UnknownStatusError struct {
	Marketplace Marketplace
	RawCode     string
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("no canonical status mapping for %s code %q", e.Marketplace, e.RawCode)
}

// Translation tables from raw marketplace status codes to canonical statuses.
// Built once, read-only afterwards.
var wbStatusMap = map[string]Status{
	"new":                "new",
	"confirm":            "assembly",
	"assembly":           "assembly",
	"complete":           "handed_to_delivery",
	"receive":            "warehouse_received",
	"sorted":             "warehouse_received",
	"delivering":         "in_transit_to_buyer",
	"ready_for_pickup":   "arrived_at_buyer_pickup",
	"sold":               "buyout",
	"canceled":           "rejection",
	"canceled_by_client": "rejection",
	"declined_by_client": "return_started",
	"defect":             "defect",
	"return_in_transit":  "return_in_transit_from_buyer",
	"return_pvz":         "return_arrived_to_seller_pickup",
	"return_done":        "seller_picked_up",
}

var ozonStatusMap = map[string]Status{
	"awaiting_packaging":     "new",
	"awaiting_registration":  "assembly",
	"acceptance_in_progress": "assembly",
	"awaiting_deliver":       "assembly",
	"sent_by_seller":         "handed_to_delivery",
	"arbitration":            "warehouse_received",
	"driver_pickup":          "in_transit_to_buyer",
	"delivering":             "in_transit_to_buyer",
	"arrived_at_pickup":      "arrived_at_buyer_pickup",
	"delivered":              "buyout",
	"cancelled":              "rejection",
	"client_arbitration":     "return_started",
	"not_accepted":           "defect",
	"returning":              "return_in_transit_from_buyer",
	"return_arrived":         "return_arrived_to_seller_pickup",
	"returned_to_seller":     "seller_picked_up",
}

var translations = map[Marketplace]map[string]Status{
	MarketplaceWB:   wbStatusMap,
	MarketplaceOzon: ozonStatusMap,
}

// Translate maps a raw upstream status code to its canonical status.
func Translate(marketplace Marketplace, rawCode string) (Status, error) {
	table, ok := translations[marketplace]
	if !ok {
		return "", fmt.Errorf("unknown marketplace %q", marketplace)
	}
	st, ok := table[rawCode]
	if !ok {
		return "", &UnknownStatusError{Marketplace: marketplace, RawCode: rawCode}
	}
	return st, nil
}
