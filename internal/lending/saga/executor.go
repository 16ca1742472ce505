package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"toollend-backend/internal/platform/docstore"
)

const maxCASAttempts = 5

// ErrCannotRestore reports an inventory restore that would push the
// available quantity below zero.
var ErrCannotRestore = errors.New("inventory cannot be restored without going negative")

// Executor applies one compensation to the store. Every kind is safe to
// apply again after it succeeded, except the restores when they fall back
// to the inverse delta.
type Executor struct {
	store docstore.Store
	now   func() time.Time
}

func NewExecutor(store docstore.Store) *Executor {
	return &Executor{store: store, now: time.Now}
}

func (e *Executor) Apply(ctx context.Context, c docstore.Compensation) error {
	switch c.Kind {
	case docstore.CompDeleteReceipt:
		return e.store.DeleteReceipt(ctx, c.TargetID)

	case docstore.CompDeleteBorrowItem:
		return e.store.DeleteBorrowItem(ctx, c.TargetID)

	case docstore.CompRestoreReceipt:
		if c.Receipt == nil || c.ReceiptApplied == nil {
			return fmt.Errorf("compensation %s: missing receipt snapshots", c.ID)
		}
		return e.restoreReceipt(ctx, c.Receipt, c.ReceiptApplied)

	case docstore.CompRestoreBorrowItem:
		if c.BorrowItem == nil || c.BorrowItemApplied == nil {
			return fmt.Errorf("compensation %s: missing borrow item snapshots", c.ID)
		}
		return e.restoreBorrowItem(ctx, c.BorrowItem, c.BorrowItemApplied)

	case docstore.CompRestoreInventory:
		if c.Previous == nil || c.Applied == nil {
			return fmt.Errorf("compensation %s: missing inventory snapshots", c.ID)
		}
		return e.restoreInventory(ctx, c.Previous, c.Applied)

	default:
		return fmt.Errorf("compensation %s: unknown kind %q", c.ID, c.Kind)
	}
}

// restoreInventory puts back the counters a forward write changed. When the
// record is untouched since that write the snapshot is written as is;
// otherwise the forward delta is reversed on top of the newer values.
func (e *Executor) restoreInventory(ctx context.Context, prev, applied *docstore.InventoryRecord) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		cur, err := e.store.GetInventory(ctx, applied.ItemID)
		if errors.Is(err, docstore.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		next := cur.Clone()
		if cur.Version == applied.Version {
			next.AvailableQuantity = prev.AvailableQuantity
			next.TotalBorrowed = prev.TotalBorrowed
		} else {
			next.AvailableQuantity += prev.AvailableQuantity - applied.AvailableQuantity
			next.TotalBorrowed += prev.TotalBorrowed - applied.TotalBorrowed
		}
		if next.AvailableQuantity < 0 {
			return fmt.Errorf("%w: item %s", ErrCannotRestore, cur.ItemID)
		}
		if next.TotalBorrowed < 0 {
			next.TotalBorrowed = 0
		}
		next.UpdatedAt = e.now().UTC()

		err = e.store.UpdateInventory(ctx, next)
		if errors.Is(err, docstore.ErrVersionConflict) {
			continue
		}
		return err
	}
	return fmt.Errorf("restore inventory %s: %w", applied.ItemID, docstore.ErrVersionConflict)
}

// restoreReceipt takes back the returned quantities a forward write booked.
// An untouched receipt gets the snapshot back; a receipt another return has
// moved on only loses this write's share.
func (e *Executor) restoreReceipt(ctx context.Context, prev, applied *docstore.Receipt) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		cur, err := e.store.GetReceipt(ctx, applied.ID)
		if errors.Is(err, docstore.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		var next *docstore.Receipt
		if cur.Version == applied.Version {
			next = prev.Clone()
			next.Version = cur.Version
		} else {
			next = cur.Clone()
			for i := range next.ReturnedQuantities {
				if i < len(prev.ReturnedQuantities) && i < len(applied.ReturnedQuantities) {
					next.ReturnedQuantities[i] -= applied.ReturnedQuantities[i] - prev.ReturnedQuantities[i]
				}
				if next.ReturnedQuantities[i] < 0 {
					next.ReturnedQuantities[i] = 0
				}
			}
			if !next.FullyReturned() {
				next.Status = docstore.ReceiptActive
				next.ReturnDate = nil
			}
		}
		next.UpdatedAt = e.now().UTC()

		err = e.store.UpdateReceipt(ctx, next)
		if errors.Is(err, docstore.ErrVersionConflict) {
			continue
		}
		return err
	}
	return fmt.Errorf("restore receipt %s: %w", applied.ID, docstore.ErrVersionConflict)
}

func (e *Executor) restoreBorrowItem(ctx context.Context, prev, applied *docstore.BorrowItem) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		cur, err := e.store.GetBorrowItem(ctx, applied.ID)
		if errors.Is(err, docstore.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		var next *docstore.BorrowItem
		if cur.Version == applied.Version {
			next = prev.Clone()
			next.Version = cur.Version
		} else {
			next = cur.Clone()
			next.ReturnedQuantity -= applied.ReturnedQuantity - prev.ReturnedQuantity
			if next.ReturnedQuantity < 0 {
				next.ReturnedQuantity = 0
			}
			if next.ReturnedQuantity < next.Quantity {
				next.Status = docstore.ItemBorrowed
			}
		}
		next.UpdatedAt = e.now().UTC()

		err = e.store.UpdateBorrowItem(ctx, next)
		if errors.Is(err, docstore.ErrVersionConflict) {
			continue
		}
		return err
	}
	return fmt.Errorf("restore borrow item %s: %w", applied.ID, docstore.ErrVersionConflict)
}
