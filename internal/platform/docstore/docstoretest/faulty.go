// Package docstoretest wraps a docstore.Store for tests: it counts calls and
// fails chosen operations on demand.
package docstoretest

import (
	"context"
	"errors"
	"sync"

	"toollend-backend/internal/platform/docstore"
)

var ErrInjected = errors.New("injected store failure")

// Fault decides whether a call fails. key is the record id the call targets,
// or the item id for borrow item writes.
type Fault func(op, key string) error

// FailOn fails op for the given key (any key when empty) with ErrInjected.
func FailOn(op, key string) Fault {
	return func(gotOp, gotKey string) error {
		if gotOp == op && (key == "" || key == gotKey) {
			return ErrInjected
		}
		return nil
	}
}

// FailTimes fails op the first n times it is called.
func FailTimes(op string, n int) Fault {
	var mu sync.Mutex
	left := n
	return func(gotOp, _ string) error {
		if gotOp != op {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		if left > 0 {
			left--
			return ErrInjected
		}
		return nil
	}
}

type Store struct {
	inner docstore.Store

	mu     sync.Mutex
	calls  map[string]int
	faults []Fault
	// BeforeUpdateInventory and BeforeUpdateReceipt run ahead of every write
	// of that kind; tests use them to slip in a concurrent writer.
	BeforeUpdateInventory func(ctx context.Context, r *docstore.InventoryRecord)
	BeforeUpdateReceipt   func(ctx context.Context, r *docstore.Receipt)
}

var _ docstore.Store = (*Store)(nil)

func Wrap(inner docstore.Store) *Store {
	return &Store{inner: inner, calls: map[string]int{}}
}

func (s *Store) Inject(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, f)
}

func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = nil
	s.calls = map[string]int{}
}

// Calls returns how often op ran; Calls("") sums every operation.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if op != "" {
		return s.calls[op]
	}
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

func (s *Store) hit(op, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	for _, f := range s.faults {
		if err := f(op, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateReceipt(ctx context.Context, r *docstore.Receipt) error {
	if err := s.hit("CreateReceipt", r.ID); err != nil {
		return err
	}
	return s.inner.CreateReceipt(ctx, r)
}

func (s *Store) GetReceipt(ctx context.Context, id string) (*docstore.Receipt, error) {
	if err := s.hit("GetReceipt", id); err != nil {
		return nil, err
	}
	return s.inner.GetReceipt(ctx, id)
}

func (s *Store) UpdateReceipt(ctx context.Context, r *docstore.Receipt) error {
	if err := s.hit("UpdateReceipt", r.ID); err != nil {
		return err
	}
	if hook := s.BeforeUpdateReceipt; hook != nil {
		hook(ctx, r)
	}
	return s.inner.UpdateReceipt(ctx, r)
}

func (s *Store) DeleteReceipt(ctx context.Context, id string) error {
	if err := s.hit("DeleteReceipt", id); err != nil {
		return err
	}
	return s.inner.DeleteReceipt(ctx, id)
}

func (s *Store) ListReceipts(ctx context.Context, q docstore.ReceiptQuery) ([]docstore.Receipt, error) {
	if err := s.hit("ListReceipts", q.UserID); err != nil {
		return nil, err
	}
	return s.inner.ListReceipts(ctx, q)
}

func (s *Store) CountReceipts(ctx context.Context, q docstore.ReceiptQuery) (int, error) {
	if err := s.hit("CountReceipts", q.UserID); err != nil {
		return 0, err
	}
	return s.inner.CountReceipts(ctx, q)
}

func (s *Store) CreateBorrowItem(ctx context.Context, b *docstore.BorrowItem) error {
	if err := s.hit("CreateBorrowItem", b.ItemID); err != nil {
		return err
	}
	return s.inner.CreateBorrowItem(ctx, b)
}

func (s *Store) GetBorrowItem(ctx context.Context, id string) (*docstore.BorrowItem, error) {
	if err := s.hit("GetBorrowItem", id); err != nil {
		return nil, err
	}
	return s.inner.GetBorrowItem(ctx, id)
}

func (s *Store) UpdateBorrowItem(ctx context.Context, b *docstore.BorrowItem) error {
	if err := s.hit("UpdateBorrowItem", b.ItemID); err != nil {
		return err
	}
	return s.inner.UpdateBorrowItem(ctx, b)
}

func (s *Store) DeleteBorrowItem(ctx context.Context, id string) error {
	if err := s.hit("DeleteBorrowItem", id); err != nil {
		return err
	}
	return s.inner.DeleteBorrowItem(ctx, id)
}

func (s *Store) ListBorrowItems(ctx context.Context, receiptID string) ([]docstore.BorrowItem, error) {
	if err := s.hit("ListBorrowItems", receiptID); err != nil {
		return nil, err
	}
	return s.inner.ListBorrowItems(ctx, receiptID)
}

func (s *Store) CreateInventory(ctx context.Context, r *docstore.InventoryRecord) error {
	if err := s.hit("CreateInventory", r.ItemID); err != nil {
		return err
	}
	return s.inner.CreateInventory(ctx, r)
}

func (s *Store) GetInventory(ctx context.Context, itemID string) (*docstore.InventoryRecord, error) {
	if err := s.hit("GetInventory", itemID); err != nil {
		return nil, err
	}
	return s.inner.GetInventory(ctx, itemID)
}

func (s *Store) UpdateInventory(ctx context.Context, r *docstore.InventoryRecord) error {
	if err := s.hit("UpdateInventory", r.ItemID); err != nil {
		return err
	}
	if hook := s.BeforeUpdateInventory; hook != nil {
		hook(ctx, r)
	}
	return s.inner.UpdateInventory(ctx, r)
}

func (s *Store) DeleteInventory(ctx context.Context, itemID string) error {
	if err := s.hit("DeleteInventory", itemID); err != nil {
		return err
	}
	return s.inner.DeleteInventory(ctx, itemID)
}

func (s *Store) ListInventory(ctx context.Context, q docstore.InventoryQuery) ([]docstore.InventoryRecord, error) {
	if err := s.hit("ListInventory", q.Category); err != nil {
		return nil, err
	}
	return s.inner.ListInventory(ctx, q)
}

func (s *Store) SaveCompensation(ctx context.Context, c *docstore.Compensation) error {
	if err := s.hit("SaveCompensation", c.TargetID); err != nil {
		return err
	}
	return s.inner.SaveCompensation(ctx, c)
}

func (s *Store) ListCompensations(ctx context.Context, limit int) ([]docstore.Compensation, error) {
	if err := s.hit("ListCompensations", ""); err != nil {
		return nil, err
	}
	return s.inner.ListCompensations(ctx, limit)
}

func (s *Store) DeleteCompensation(ctx context.Context, id string) error {
	if err := s.hit("DeleteCompensation", id); err != nil {
		return err
	}
	return s.inner.DeleteCompensation(ctx, id)
}
