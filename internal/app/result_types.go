package app

import (
	"inventory-ledger/internal/core"
	"inventory-ledger/internal/gl"
)

// StockResult is returned by GetStock.
type StockResult struct {
	Item         core.Item         `json:"item"`
	Availability core.Availability `json:"availability"`
	Layers       []core.Layer      `json:"layers"`
}

// OrderResult is returned by the order workflows.
type OrderResult struct {
	SourceType   string               `json:"source_type"`
	SourceID     string               `json:"source_id"`
	Reservations []core.Reservation   `json:"reservations,omitempty"`
	Released     []core.Reservation   `json:"released,omitempty"`
	Consumptions []core.ConsumeResult `json:"consumptions,omitempty"`
}

// TrialBalanceResult is returned by GetTrialBalance.
type TrialBalanceResult struct {
	Accounts []gl.AccountBalance `json:"accounts"`
}
