package domain

import (
	"time"
)

// OrderStatus tracks an order's progress.
type OrderStatus string

const (
	OrderStatusOpen OrderStatus = "open"
	OrderStatusDone OrderStatus = "done"
)

// Order is a unit of work created for an entity.
type Order struct {
	ID        string      `json:"id"`
	EntityID  string      `json:"entity_id"`
	Category  Category    `json:"category"`
	Files     int         `json:"files"`
	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// ScheduleEntry books a date for an entity.
type ScheduleEntry struct {
	ID       string    `json:"id"`
	EntityID string    `json:"entity_id"`
	Date     time.Time `json:"date"`
	Note     string    `json:"note,omitempty"`
}

// AccountingEntry records a payment received from an entity.
// Amount is in whole currency units.
type AccountingEntry struct {
	ID        string    `json:"id"`
	EntityID  string    `json:"entity_id"`
	Amount    int64     `json:"amount"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// OrderRequest asks the store to create Count orders of one category.
type OrderRequest struct {
	EntityID string   `json:"entity_id"`
	Category Category `json:"category"`
	Count    int      `json:"count"`
}
