// Package docstore describes the document store the lending services run
// against: receipts, borrow items, inventory and the compensation journal.
//
// The store offers single-record operations only. There is no multi-record
// transaction; callers that need atomicity across records compensate.
package docstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("docstore: not found")
	ErrDuplicate       = errors.New("docstore: duplicate key")
	ErrVersionConflict = errors.New("docstore: version conflict")
	ErrInUse           = errors.New("docstore: record in use")
)

type ReceiptQuery struct {
	UserID          string
	Status          ReceiptStatus
	ReferencePrefix string
	// DueBefore selects receipts whose due date is strictly before it.
	DueBefore *time.Time
	Limit     int
	Offset    int
	// Desc lists newest first; the default is insertion order.
	Desc bool
}

type InventoryQuery struct {
	Category string
	// Available selects records with at least one unit on the shelf.
	Available bool
	Limit     int
	Offset    int
}

type ReceiptStore interface {
	// CreateReceipt fails with ErrDuplicate when the id or reference is taken.
	CreateReceipt(ctx context.Context, r *Receipt) error
	GetReceipt(ctx context.Context, id string) (*Receipt, error)
	// UpdateReceipt writes r only if the stored version still equals
	// r.Version; a stale or missing record gives ErrVersionConflict. On
	// success r.Version holds the new version.
	UpdateReceipt(ctx context.Context, r *Receipt) error
	// DeleteReceipt is idempotent.
	DeleteReceipt(ctx context.Context, id string) error
	ListReceipts(ctx context.Context, q ReceiptQuery) ([]Receipt, error)
	CountReceipts(ctx context.Context, q ReceiptQuery) (int, error)
}

type BorrowItemStore interface {
	CreateBorrowItem(ctx context.Context, b *BorrowItem) error
	GetBorrowItem(ctx context.Context, id string) (*BorrowItem, error)
	// UpdateBorrowItem is a compare-and-swap on b.Version like UpdateReceipt.
	UpdateBorrowItem(ctx context.Context, b *BorrowItem) error
	// DeleteBorrowItem is idempotent.
	DeleteBorrowItem(ctx context.Context, id string) error
	// ListBorrowItems returns the items of a receipt in insertion order.
	ListBorrowItems(ctx context.Context, receiptID string) ([]BorrowItem, error)
}

type InventoryStore interface {
	CreateInventory(ctx context.Context, r *InventoryRecord) error
	GetInventory(ctx context.Context, itemID string) (*InventoryRecord, error)
	// UpdateInventory writes r only if the stored version still equals
	// r.Version, otherwise it returns ErrVersionConflict. On success
	// r.Version holds the new version.
	UpdateInventory(ctx context.Context, r *InventoryRecord) error
	// DeleteInventory is idempotent and refuses with ErrInUse while units are borrowed.
	DeleteInventory(ctx context.Context, itemID string) error
	ListInventory(ctx context.Context, q InventoryQuery) ([]InventoryRecord, error)
}

type CompensationStore interface {
	// SaveCompensation inserts or replaces the entry with c.ID.
	SaveCompensation(ctx context.Context, c *Compensation) error
	// ListCompensations returns the oldest entries first.
	ListCompensations(ctx context.Context, limit int) ([]Compensation, error)
	DeleteCompensation(ctx context.Context, id string) error
}

type Store interface {
	ReceiptStore
	BorrowItemStore
	InventoryStore
	CompensationStore
}

// NormalizeLimit clamps a page size into [1, 500], defaulting to 50.
func NormalizeLimit(n int) int {
	switch {
	case n <= 0:
		return 50
	case n > 500:
		return 500
	default:
		return n
	}
}

// HasPrefixFold is the prefix match every backend implements for references.
func HasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
