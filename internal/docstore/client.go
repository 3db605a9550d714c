// Package docstore defines the document-store contract the router talks to
// and an HTTP implementation of it.
package docstore

import (
	"context"
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
)

// Client is the document store. Implementations classify failures as *Error.
type Client interface {
	// SearchEntities returns entities whose title or an alias contains
	// query, case-insensitively.
	SearchEntities(ctx context.Context, query string) ([]domain.Entity, error)
	GetEntity(ctx context.Context, id string) (domain.Entity, error)
	// RenameEntity changes an entity title. Renaming to the current title is
	// not an error; it reports Modified=false.
	RenameEntity(ctx context.Context, id, title string) (UpdateResult, error)

	CreateOrders(ctx context.Context, req domain.OrderRequest) ([]domain.Order, error)
	// AddFiles attaches count files to the entity's most recent open order.
	AddFiles(ctx context.Context, entityID string, count int) (domain.Order, error)
	// ListOrders lists an entity's orders, newest first. CategoryNone lists
	// every category.
	ListOrders(ctx context.Context, entityID string, category domain.Category) ([]domain.Order, error)

	CreateScheduleEntry(ctx context.Context, entry domain.ScheduleEntry) (domain.ScheduleEntry, error)
	CreateAccountingEntry(ctx context.Context, entry domain.AccountingEntry) (domain.AccountingEntry, error)

	Ping(ctx context.Context) error
	Close() error
}

// UpdateResult reports whether an update changed anything.
type UpdateResult struct {
	Modified bool `json:"modified"`
}

// Validation limits shared by implementations.
const (
	MaxOrdersPerRequest = 50
	MaxFilesPerRequest  = 500
	MaxTitleLength      = 200
)

// ValidateOrderRequest checks an order request before it is sent.
func ValidateOrderRequest(op string, req domain.OrderRequest) error {
	if req.EntityID == "" {
		return Errorf(op, KindValidation, "entity id is required")
	}
	if _, ok := domain.ParseCategory(string(req.Category)); !ok {
		return Errorf(op, KindValidation, "unknown category %q", req.Category)
	}
	if req.Count < 1 || req.Count > MaxOrdersPerRequest {
		return Errorf(op, KindValidation, "order count must be between 1 and %d, got %d", MaxOrdersPerRequest, req.Count)
	}
	return nil
}

// ValidateFileCount checks a file count before it is sent.
func ValidateFileCount(op string, count int) error {
	if count < 1 || count > MaxFilesPerRequest {
		return Errorf(op, KindValidation, "file count must be between 1 and %d, got %d", MaxFilesPerRequest, count)
	}
	return nil
}

// ValidateAccountingEntry checks an accounting entry before it is sent.
func ValidateAccountingEntry(op string, e domain.AccountingEntry) error {
	if e.EntityID == "" {
		return Errorf(op, KindValidation, "entity id is required")
	}
	if e.Amount <= 0 {
		return Errorf(op, KindValidation, "amount must be positive, got %d", e.Amount)
	}
	return nil
}

// ValidateScheduleEntry checks a schedule entry before it is sent.
func ValidateScheduleEntry(op string, e domain.ScheduleEntry, now time.Time) error {
	if e.EntityID == "" {
		return Errorf(op, KindValidation, "entity id is required")
	}
	if e.Date.IsZero() {
		return Errorf(op, KindValidation, "date is required")
	}
	y, m, d := now.Date()
	if e.Date.Before(time.Date(y, m, d, 0, 0, 0, 0, now.Location())) {
		return Errorf(op, KindValidation, "date %s is in the past", e.Date.Format(time.DateOnly))
	}
	return nil
}
