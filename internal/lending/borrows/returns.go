package borrows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"toollend-backend/internal/lending/saga"
	"toollend-backend/internal/platform/auth"
	"toollend-backend/internal/platform/docstore"
)

// ReturnItems books returned units against a receipt (partial returns are
// allowed). The quantities are claimed on the receipt first, so concurrent
// returns cannot both pass the outstanding check; borrow items and inventory
// follow per item. A failure compensates like BorrowItems does.
func (s *Service) ReturnItems(ctx context.Context, caller *auth.Identity, receiptID string, req ReturnBorrowRequest) (*docstore.Receipt, error) {
	if caller == nil {
		return nil, ErrUnauthorized()
	}
	if !caller.IsStaff() {
		return nil, ErrForbidden("only staff can process returns")
	}
	lines, err := parseLines(req.ItemIDs, req.Quantities)
	if err != nil {
		return nil, err
	}

	receipt, err := s.loadReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	// 全部検証してから書き込む
	if err := checkReturn(receipt, lines); err != nil {
		return nil, err
	}

	items, err := s.store.ListBorrowItems(ctx, receipt.ID)
	if err != nil {
		return nil, errStore("list borrow items", err)
	}
	itemIDs := make(map[string]string, len(items))
	for _, it := range items {
		itemIDs[it.ItemID] = it.ID
	}
	for _, l := range lines {
		if _, ok := itemIDs[l.itemID]; !ok {
			return nil, &APIError{Kind: KindNotFound, Message: "Borrow item not found", ItemID: l.itemID}
		}
	}

	now := s.clock.Now()
	sg := s.saga.Begin()

	claimed, err := s.claimReturn(ctx, sg, receipt, lines, trimmed(req.Notes), now)
	if err != nil {
		return nil, err
	}

	for _, l := range lines {
		if err := s.bookItemReturn(ctx, sg, itemIDs[l.itemID], l.qty, now); err != nil {
			return nil, s.abort(ctx, sg, receipt.ID, err)
		}
		if err := s.adjustInventory(ctx, sg, l.itemID, l.qty, now); err != nil {
			return nil, s.abort(ctx, sg, receipt.ID, err)
		}
	}

	s.logger.Info("return processed",
		zap.String("receipt_id", claimed.ID),
		zap.String("processed_by", caller.UserID),
		zap.String("status", string(claimed.Status)),
	)
	return claimed, nil
}

// checkReturn validates the lines against the receipt as currently stored.
func checkReturn(r *docstore.Receipt, lines []line) error {
	if r.Status == docstore.ReceiptReturned {
		return ErrConflict("Borrow receipt already returned")
	}
	for _, l := range lines {
		idx := r.IndexOf(l.itemID)
		if idx < 0 {
			return &APIError{Kind: KindInvalidArgument, Message: "item is not part of this receipt", ItemID: l.itemID}
		}
		if l.qty > r.Outstanding(idx) {
			return &APIError{Kind: KindInvalidArgument, Message: "return quantity exceeds outstanding quantity", ItemID: l.itemID}
		}
	}
	return nil
}

// claimReturn adds the returned quantities to the receipt with a
// compare-and-swap write. After a conflict the receipt is read and checked
// again, so a return that lost the race is refused instead of doubled.
func (s *Service) claimReturn(ctx context.Context, sg *saga.Saga, receipt *docstore.Receipt, lines []line, notes *string, now time.Time) (*docstore.Receipt, error) {
	cur := receipt
	for attempt := 0; attempt < maxReturnAttempts; attempt++ {
		if attempt > 0 {
			var err error
			if cur, err = s.loadReceipt(ctx, receipt.ID); err != nil {
				return nil, err
			}
			if err := checkReturn(cur, lines); err != nil {
				return nil, err
			}
		}

		next := cur.Clone()
		for _, l := range lines {
			next.ReturnedQuantities[next.IndexOf(l.itemID)] += l.qty
		}
		if next.FullyReturned() {
			next.Status = docstore.ReceiptReturned
			next.ReturnDate = &now
		}
		if notes != nil {
			next.Notes = notes
		}
		next.UpdatedAt = now

		err := s.store.UpdateReceipt(ctx, next)
		if errors.Is(err, docstore.ErrVersionConflict) {
			s.logger.Debug("receipt changed underneath, re-reading", zap.String("receipt_id", receipt.ID), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, errStore("update receipt", err)
		}
		sg.ReceiptUpdated(cur, next)
		return next, nil
	}
	return nil, ErrConflict("Borrow receipt is being changed by another request, please retry")
}

// bookItemReturn adds qty to the returned quantity of one borrow item.
func (s *Service) bookItemReturn(ctx context.Context, sg *saga.Saga, id string, qty int, now time.Time) error {
	for attempt := 0; attempt < maxReturnAttempts; attempt++ {
		cur, err := s.store.GetBorrowItem(ctx, id)
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrNotFound("Borrow item not found")
		}
		if err != nil {
			return errStore("read borrow item", err)
		}

		next := cur.Clone()
		next.ReturnedQuantity += qty
		if next.ReturnedQuantity >= next.Quantity {
			next.Status = docstore.ItemReturned
		}
		next.UpdatedAt = now

		err = s.store.UpdateBorrowItem(ctx, next)
		if errors.Is(err, docstore.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return errStore("update borrow item", err)
		}
		sg.BorrowItemUpdated(cur, next)
		return nil
	}
	return ErrConflict("Borrow item is being changed by another request, please retry")
}

// UpdateBorrow edits the metadata of a receipt.
func (s *Service) UpdateBorrow(ctx context.Context, caller *auth.Identity, receiptID string, upd BorrowUpdate) (*docstore.Receipt, error) {
	if caller == nil {
		return nil, ErrUnauthorized()
	}
	if !caller.IsStaff() {
		return nil, ErrForbidden("only staff can edit borrows")
	}

	now := s.clock.Now()
	var due *time.Time
	if upd.DueDate != nil {
		d, err := parseDueDate(*upd.DueDate, now)
		if err != nil {
			return nil, err
		}
		due = &d
	}

	for attempt := 0; attempt < maxReturnAttempts; attempt++ {
		receipt, err := s.loadReceipt(ctx, receiptID)
		if err != nil {
			return nil, err
		}
		if due != nil {
			receipt.DueDate = *due
		}
		if upd.Lecturer != nil {
			receipt.Lecturer = trimmed(upd.Lecturer)
		}
		if upd.Subject != nil {
			receipt.Subject = trimmed(upd.Subject)
		}
		if upd.Notes != nil {
			receipt.Notes = trimmed(upd.Notes)
		}
		receipt.UpdatedAt = now

		err = s.store.UpdateReceipt(ctx, receipt)
		if errors.Is(err, docstore.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, errStore("update receipt", err)
		}
		return receipt, nil
	}
	return nil, ErrConflict("Borrow receipt is being changed by another request, please retry")
}

func (s *Service) loadReceipt(ctx context.Context, id string) (*docstore.Receipt, error) {
	r, err := s.store.GetReceipt(ctx, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrNotFound("Borrow receipt not found")
	}
	if err != nil {
		return nil, errStore(fmt.Sprintf("get receipt %s", id), err)
	}
	return r, nil
}
