// Package borrows coordinates borrow and return transactions across
// receipts, borrow items and inventory records.
//
// The document store has no multi-record transaction. Every forward write is
// recorded in a saga and undone when a later step fails; inventory counters
// are written with compare-and-swap so concurrent borrowers cannot lose
// each other's updates.
package borrows

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"toollend-backend/internal/lending/refid"
	"toollend-backend/internal/lending/saga"
	"toollend-backend/internal/platform/auth"
	"toollend-backend/internal/platform/docstore"
)

const (
	maxItemsPerBorrow = 50
	// label regenerations after a duplicate reference
	maxReferenceAttempts = 3
	// re-reads of an inventory record after a version conflict
	maxInventoryAttempts = 3
	// re-reads of a receipt or borrow item after a version conflict
	maxReturnAttempts = 3
	dateLayout        = "2006-01-02"
)

// -------------- Clock & ID --------------

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type IDGen interface{ NewULID(t time.Time) string }
type ulidGen struct{}

func (ulidGen) NewULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// -------------- Service --------------

type Service struct {
	store  docstore.Store
	refs   *refid.Generator
	saga   *saga.Runner
	clock  Clock
	id     IDGen
	logger *zap.Logger
}

type Option func(*Service)

func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

func WithIDGen(g IDGen) Option { return func(s *Service) { s.id = g } }

func NewService(store docstore.Store, runner *saga.Runner, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:  store,
		refs:   refid.New(store),
		saga:   runner,
		clock:  realClock{},
		id:     ulidGen{},
		logger: logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type line struct {
	itemID string
	qty    int
}

// BorrowItems creates a receipt, one borrow item per requested item and
// takes the requested quantities out of inventory, in request order. When a
// step fails everything done so far is compensated and the first failure is
// returned. A nil caller is rejected before the store is touched.
func (s *Service) BorrowItems(ctx context.Context, caller *auth.Identity, req CreateBorrowRequest) (*docstore.Receipt, error) {
	if caller == nil {
		return nil, ErrUnauthorized()
	}

	now := s.clock.Now()
	lines, err := parseLines(req.ItemIDs, req.ItemQuantities)
	if err != nil {
		return nil, err
	}
	due, err := parseDueDate(req.DueDate, now)
	if err != nil {
		return nil, err
	}

	receipt := &docstore.Receipt{
		ID:                 s.id.NewULID(now),
		UserID:             caller.UserID,
		ItemIDs:            make([]string, len(lines)),
		ItemQuantities:     make([]int, len(lines)),
		ReturnedQuantities: make([]int, len(lines)),
		DueDate:            due,
		Lecturer:           trimmed(req.Lecturer),
		Subject:            trimmed(req.Subject),
		Notes:              trimmed(req.Notes),
		Status:             docstore.ReceiptActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	for i, l := range lines {
		receipt.ItemIDs[i] = l.itemID
		receipt.ItemQuantities[i] = l.qty
	}

	if err := s.createReceipt(ctx, receipt, now); err != nil {
		return nil, err
	}

	sg := s.saga.Begin()
	sg.ReceiptCreated(receipt.ID)

	for _, l := range lines {
		item := &docstore.BorrowItem{
			ID:        s.id.NewULID(now),
			ReceiptID: receipt.ID,
			UserID:    caller.UserID,
			ItemID:    l.itemID,
			Quantity:  l.qty,
			Status:    docstore.ItemBorrowed,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.CreateBorrowItem(ctx, item); err != nil {
			return nil, s.abort(ctx, sg, receipt.ID, errStore("create borrow item", err))
		}
		sg.BorrowItemCreated(item.ID)

		if err := s.adjustInventory(ctx, sg, l.itemID, -l.qty, now); err != nil {
			return nil, s.abort(ctx, sg, receipt.ID, err)
		}
	}

	s.logger.Info("borrow created",
		zap.String("receipt_id", receipt.ID),
		zap.String("reference", receipt.Reference),
		zap.String("user_id", caller.UserID),
		zap.Strings("item_ids", receipt.ItemIDs),
	)
	return receipt, nil
}

// createReceipt labels and stores the receipt, choosing the next label when
// a concurrent borrow took the same one.
func (s *Service) createReceipt(ctx context.Context, r *docstore.Receipt, now time.Time) error {
	for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
		ref, err := s.refs.Generate(ctx, r.UserID, now, attempt)
		if err != nil {
			return errStore("generate reference", err)
		}
		r.Reference = ref

		err = s.store.CreateReceipt(ctx, r)
		if err == nil {
			return nil
		}
		if !errors.Is(err, docstore.ErrDuplicate) {
			return errStore("create receipt", err)
		}
		s.logger.Debug("receipt reference taken", zap.String("reference", ref), zap.Int("attempt", attempt))
	}
	return ErrConflict("could not allocate a receipt reference, please retry")
}

// adjustInventory moves delta units onto (delta > 0) or off (delta < 0) the
// shelf with a compare-and-swap write, re-reading on version conflicts.
func (s *Service) adjustInventory(ctx context.Context, sg *saga.Saga, itemID string, delta int, now time.Time) error {
	for attempt := 0; attempt < maxInventoryAttempts; attempt++ {
		cur, err := s.store.GetInventory(ctx, itemID)
		if errors.Is(err, docstore.ErrNotFound) {
			return errInventoryNotFound(itemID)
		}
		if err != nil {
			return errStore("read inventory", err)
		}
		if cur.AvailableQuantity+delta < 0 {
			return errInsufficient(itemID)
		}

		next := cur.Clone()
		next.AvailableQuantity += delta
		next.TotalBorrowed -= delta
		if next.TotalBorrowed < 0 {
			next.TotalBorrowed = 0
		}
		next.UpdatedAt = now

		err = s.store.UpdateInventory(ctx, next)
		if errors.Is(err, docstore.ErrVersionConflict) {
			s.logger.Debug("inventory changed underneath, re-reading", zap.String("item_id", itemID), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return errStore("update inventory", err)
		}
		sg.InventoryUpdated(cur, next)
		return nil
	}
	return &APIError{
		Kind:    KindConflict,
		Message: "Inventory item is being changed by another request, please retry",
		ItemID:  itemID,
	}
}

// abort rolls the saga back. The original failure is returned unless the
// rollback itself left work behind.
func (s *Service) abort(ctx context.Context, sg *saga.Saga, receiptID string, cause error) error {
	s.logger.Warn("rolling back",
		zap.String("receipt_id", receiptID),
		zap.Int("steps", sg.Len()),
		zap.Error(cause),
	)
	if err := sg.Rollback(ctx); err != nil {
		s.logger.Error("rollback incomplete", zap.String("receipt_id", receiptID), zap.Error(err))
		return &APIError{
			Kind:    KindCompensationFailed,
			Message: MsgCompensationFailed,
			Err:     errors.Join(cause, err),
		}
	}
	return cause
}

// -------------- validation --------------

func parseLines(ids []string, qtys []int) ([]line, error) {
	if len(ids) == 0 {
		return nil, ErrInvalid("at least one item is required")
	}
	if len(ids) != len(qtys) {
		return nil, ErrInvalid("item_ids and item_quantities must have the same length")
	}
	if len(ids) > maxItemsPerBorrow {
		return nil, ErrInvalid(fmt.Sprintf("at most %d items per request", maxItemsPerBorrow))
	}

	seen := make(map[string]struct{}, len(ids))
	out := make([]line, 0, len(ids))
	for i, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			return nil, ErrInvalid(fmt.Sprintf("item_ids[%d] is empty", i))
		}
		if _, dup := seen[id]; dup {
			return nil, ErrInvalid(fmt.Sprintf("item %s is listed more than once", id))
		}
		seen[id] = struct{}{}
		if qtys[i] <= 0 {
			return nil, ErrInvalid(fmt.Sprintf("quantity for %s must be > 0", id))
		}
		out = append(out, line{itemID: id, qty: qtys[i]})
	}
	return out, nil
}

// parseDueDate accepts a calendar date or an RFC3339 timestamp that is not
// before today (UTC).
func parseDueDate(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalid("dueDate is required")
	}
	due, err := time.Parse(dateLayout, s)
	if err != nil {
		if due, err = time.Parse(time.RFC3339, s); err != nil {
			return time.Time{}, ErrInvalid("invalid dueDate format, expected YYYY-MM-DD or RFC3339")
		}
	}
	due = due.UTC()

	today := now.UTC().Truncate(24 * time.Hour)
	if due.Before(today) {
		return time.Time{}, ErrInvalid("dueDate must not be in the past")
	}
	return due, nil
}

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}
