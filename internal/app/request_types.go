package app

import "time"

// OrderRequest describes an order from an order-management collaborator.
type OrderRequest struct {
	SourceType string
	SourceID   string
	Lines      []OrderLineInput
	// ExpiresAt bounds reservations made on confirmation; nil means no expiry.
	ExpiresAt *time.Time
	// IdempotencyKey, when set, makes FulfillOrder safe to repeat.
	IdempotencyKey string
}

// OrderLineInput is a single line within an OrderRequest.
type OrderLineInput struct {
	ItemCode string `json:"item_code"`
	Quantity int64  `json:"quantity"`
}
