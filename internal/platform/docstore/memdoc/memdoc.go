// Package memdoc is an in-process docstore.Store used by dev mode and tests.
package memdoc

import (
	"context"
	"sort"
	"sync"

	"toollend-backend/internal/platform/docstore"
)

type Store struct {
	mu            sync.Mutex
	seq           int64
	receipts      map[string]*docstore.Receipt
	references    map[string]string
	items         map[string]*docstore.BorrowItem
	inventory     map[string]*docstore.InventoryRecord
	compensations map[string]*docstore.Compensation
}

var _ docstore.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		receipts:      map[string]*docstore.Receipt{},
		references:    map[string]string{},
		items:         map[string]*docstore.BorrowItem{},
		inventory:     map[string]*docstore.InventoryRecord{},
		compensations: map[string]*docstore.Compensation{},
	}
}

func (s *Store) next() int64 {
	s.seq++
	return s.seq
}

// ---- receipts ----

func (s *Store) CreateReceipt(_ context.Context, r *docstore.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.receipts[r.ID]; ok {
		return docstore.ErrDuplicate
	}
	if _, ok := s.references[r.Reference]; ok {
		return docstore.ErrDuplicate
	}
	r.Seq = s.next()
	s.receipts[r.ID] = r.Clone()
	s.references[r.Reference] = r.ID
	return nil
}

func (s *Store) GetReceipt(_ context.Context, id string) (*docstore.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.receipts[id]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *Store) UpdateReceipt(_ context.Context, r *docstore.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.receipts[r.ID]
	if !ok || cur.Version != r.Version {
		return docstore.ErrVersionConflict
	}
	if cur.Reference != r.Reference {
		if _, taken := s.references[r.Reference]; taken {
			return docstore.ErrDuplicate
		}
		delete(s.references, cur.Reference)
		s.references[r.Reference] = r.ID
	}
	r.Version++
	c := r.Clone()
	c.Seq = cur.Seq
	s.receipts[r.ID] = c
	return nil
}

func (s *Store) DeleteReceipt(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.receipts[id]; ok {
		delete(s.references, r.Reference)
		delete(s.receipts, id)
	}
	return nil
}

func (s *Store) ListReceipts(_ context.Context, q docstore.ReceiptQuery) ([]docstore.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := s.matchReceipts(q)
	if q.Desc {
		sort.Slice(matched, func(i, j int) bool { return matched[i].Seq > matched[j].Seq })
	}

	limit := docstore.NormalizeLimit(q.Limit)
	if q.Offset >= len(matched) {
		return []docstore.Receipt{}, nil
	}
	end := q.Offset + limit
	if end > len(matched) {
		end = len(matched)
	}

	out := make([]docstore.Receipt, 0, end-q.Offset)
	for _, r := range matched[q.Offset:end] {
		out = append(out, *r.Clone())
	}
	return out, nil
}

func (s *Store) CountReceipts(_ context.Context, q docstore.ReceiptQuery) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.matchReceipts(q)), nil
}

// matchReceipts returns the matching receipts in insertion order; callers hold mu.
func (s *Store) matchReceipts(q docstore.ReceiptQuery) []*docstore.Receipt {
	var out []*docstore.Receipt
	for _, r := range s.receipts {
		if q.UserID != "" && r.UserID != q.UserID {
			continue
		}
		if q.Status != "" && r.Status != q.Status {
			continue
		}
		if q.ReferencePrefix != "" && !docstore.HasPrefixFold(r.Reference, q.ReferencePrefix) {
			continue
		}
		if q.DueBefore != nil && !r.DueDate.Before(*q.DueBefore) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// ---- borrow items ----

func (s *Store) CreateBorrowItem(_ context.Context, b *docstore.BorrowItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[b.ID]; ok {
		return docstore.ErrDuplicate
	}
	b.Seq = s.next()
	s.items[b.ID] = b.Clone()
	return nil
}

func (s *Store) GetBorrowItem(_ context.Context, id string) (*docstore.BorrowItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.items[id]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return b.Clone(), nil
}

func (s *Store) UpdateBorrowItem(_ context.Context, b *docstore.BorrowItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.items[b.ID]
	if !ok || cur.Version != b.Version {
		return docstore.ErrVersionConflict
	}
	b.Version++
	c := b.Clone()
	c.Seq = cur.Seq
	s.items[b.ID] = c
	return nil
}

func (s *Store) DeleteBorrowItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, id)
	return nil
}

func (s *Store) ListBorrowItems(_ context.Context, receiptID string) ([]docstore.BorrowItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []docstore.BorrowItem{}
	for _, b := range s.items {
		if b.ReceiptID == receiptID {
			out = append(out, *b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// ---- inventory ----

func (s *Store) CreateInventory(_ context.Context, r *docstore.InventoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inventory[r.ItemID]; ok {
		return docstore.ErrDuplicate
	}
	r.Seq = s.next()
	s.inventory[r.ItemID] = r.Clone()
	return nil
}

func (s *Store) GetInventory(_ context.Context, itemID string) (*docstore.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.inventory[itemID]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *Store) UpdateInventory(_ context.Context, r *docstore.InventoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.inventory[r.ItemID]
	if !ok || cur.Version != r.Version {
		return docstore.ErrVersionConflict
	}
	r.Version++
	c := r.Clone()
	c.Seq = cur.Seq
	s.inventory[r.ItemID] = c
	return nil
}

func (s *Store) DeleteInventory(_ context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.inventory[itemID]
	if !ok {
		return nil
	}
	if cur.TotalBorrowed > 0 {
		return docstore.ErrInUse
	}
	delete(s.inventory, itemID)
	return nil
}

func (s *Store) ListInventory(_ context.Context, q docstore.InventoryQuery) ([]docstore.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*docstore.InventoryRecord
	for _, r := range s.inventory {
		if q.Category != "" && r.Category != q.Category {
			continue
		}
		if q.Available && r.AvailableQuantity <= 0 {
			continue
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Seq < matched[j].Seq })

	limit := docstore.NormalizeLimit(q.Limit)
	out := []docstore.InventoryRecord{}
	for i := q.Offset; i < len(matched) && i < q.Offset+limit; i++ {
		out = append(out, *matched[i].Clone())
	}
	return out, nil
}

// ---- compensations ----

func (s *Store) SaveCompensation(_ context.Context, c *docstore.Compensation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	s.compensations[c.ID] = &cp
	return nil
}

func (s *Store) ListCompensations(_ context.Context, limit int) ([]docstore.Compensation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]docstore.Compensation, 0, len(s.compensations))
	for _, c := range s.compensations {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) DeleteCompensation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.compensations, id)
	return nil
}
