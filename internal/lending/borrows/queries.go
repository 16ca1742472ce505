package borrows

import (
	"context"
	"time"

	"toollend-backend/internal/platform/auth"
	"toollend-backend/internal/platform/docstore"
)

// GetReceipt returns a receipt to its owner or to staff. Other callers get
// NotFound so receipt ids cannot be probed.
func (s *Service) GetReceipt(ctx context.Context, caller *auth.Identity, id string) (*docstore.Receipt, error) {
	if caller == nil {
		return nil, ErrUnauthorized()
	}
	r, err := s.loadReceipt(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsStaff() && r.UserID != caller.UserID {
		return nil, ErrNotFound("Borrow receipt not found")
	}
	return r, nil
}

// ListReceipts lists receipts newest first. Students only ever see their own.
func (s *Service) ListReceipts(ctx context.Context, caller *auth.Identity, f ReceiptFilter) (*ReceiptList, error) {
	if caller == nil {
		return nil, ErrUnauthorized()
	}

	q := docstore.ReceiptQuery{
		UserID:          f.UserID,
		Status:          f.Status,
		ReferencePrefix: f.ReferencePrefix,
		Limit:           docstore.NormalizeLimit(f.Limit),
		Offset:          max(f.Offset, 0),
		Desc:            true,
	}
	if !caller.IsStaff() {
		q.UserID = caller.UserID
	}
	switch q.Status {
	case "", docstore.ReceiptActive, docstore.ReceiptReturned:
	default:
		return nil, ErrInvalid("status must be active or returned")
	}
	if f.Overdue {
		if q.Status == docstore.ReceiptReturned {
			return nil, ErrInvalid("a returned receipt cannot be overdue")
		}
		q.Status = docstore.ReceiptActive
		cut := overdueCutoff(s.clock.Now())
		q.DueBefore = &cut
	}

	items, err := s.store.ListReceipts(ctx, q)
	if err != nil {
		return nil, errStore("list receipts", err)
	}
	return &ReceiptList{Items: items, Limit: q.Limit, Offset: q.Offset}, nil
}

// ListBorrowItems returns the per-item lines of a receipt in borrow order.
func (s *Service) ListBorrowItems(ctx context.Context, caller *auth.Identity, receiptID string) ([]docstore.BorrowItem, error) {
	r, err := s.GetReceipt(ctx, caller, receiptID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListBorrowItems(ctx, r.ID)
	if err != nil {
		return nil, errStore("list borrow items", err)
	}
	return items, nil
}

// ActiveReceipts pages through every active receipt; used by the reports.
func (s *Service) ActiveReceipts(ctx context.Context, fn func(docstore.Receipt) error) error {
	const page = 200
	for offset := 0; ; offset += page {
		batch, err := s.store.ListReceipts(ctx, docstore.ReceiptQuery{
			Status: docstore.ReceiptActive,
			Limit:  page,
			Offset: offset,
		})
		if err != nil {
			return errStore("list active receipts", err)
		}
		for _, r := range batch {
			if err := fn(r); err != nil {
				return err
			}
		}
		if len(batch) < page {
			return nil
		}
	}
}

// IsOverdue reports whether an active receipt is past its due date at now.
func IsOverdue(r docstore.Receipt, now time.Time) bool {
	return r.Status == docstore.ReceiptActive && r.DueDate.Before(overdueCutoff(now))
}

// overdueCutoff is the start of today (UTC); due dates before it have passed.
func overdueCutoff(now time.Time) time.Time {
	return now.UTC().Truncate(24 * time.Hour)
}
