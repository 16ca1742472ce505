// Package inventory manages the stock records borrowers draw from.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"toollend-backend/internal/platform/docstore"
)

// re-reads after a version conflict with a concurrent borrow or return
const maxWriteAttempts = 3

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type Service struct {
	store  docstore.InventoryStore
	clock  Clock
	logger *zap.Logger
}

func NewService(store docstore.InventoryStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, clock: realClock{}, logger: logger}
}

// WithClock replaces the clock; tests pin time with it.
func (s *Service) WithClock(c Clock) *Service {
	s.clock = c
	return s
}

func (s *Service) Create(ctx context.Context, in CreateItemRequest) (*docstore.InventoryRecord, error) {
	id := strings.TrimSpace(in.ItemID)
	name := strings.TrimSpace(in.Name)
	if id == "" || name == "" {
		return nil, ErrInvalid("item_id and name are required")
	}
	if in.Quantity < 0 {
		return nil, ErrInvalid("quantity must be >= 0")
	}

	now := s.clock.Now()
	rec := &docstore.InventoryRecord{
		ItemID:            id,
		Name:              name,
		Category:          strings.TrimSpace(in.Category),
		Location:          strings.TrimSpace(in.Location),
		AvailableQuantity: in.Quantity,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.CreateInventory(ctx, rec); err != nil {
		if errors.Is(err, docstore.ErrDuplicate) {
			return nil, ErrConflict("item_id already exists")
		}
		return nil, fmt.Errorf("create inventory %s: %w", id, err)
	}
	return rec, nil
}

func (s *Service) Get(ctx context.Context, itemID string) (*docstore.InventoryRecord, error) {
	rec, err := s.store.GetInventory(ctx, itemID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrNotFound("item not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get inventory %s: %w", itemID, err)
	}
	return rec, nil
}

func (s *Service) List(ctx context.Context, q ItemQuery, p Page) ([]docstore.InventoryRecord, error) {
	items, err := s.store.ListInventory(ctx, docstore.InventoryQuery{
		Category:  strings.TrimSpace(q.Category),
		Available: q.Available,
		Limit:     docstore.NormalizeLimit(p.Limit),
		Offset:    max(p.Offset, 0),
	})
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	return items, nil
}

func (s *Service) Update(ctx context.Context, itemID string, in UpdateItemRequest) (*docstore.InventoryRecord, error) {
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return nil, ErrInvalid("name must not be empty")
	}
	return s.modify(ctx, itemID, func(r *docstore.InventoryRecord) error {
		if in.Name != nil {
			r.Name = strings.TrimSpace(*in.Name)
		}
		if in.Category != nil {
			r.Category = strings.TrimSpace(*in.Category)
		}
		if in.Location != nil {
			r.Location = strings.TrimSpace(*in.Location)
		}
		return nil
	})
}

// Adjust changes the available quantity by delta. Borrowed units are not
// touched; the quantity on the shelf never goes below zero.
func (s *Service) Adjust(ctx context.Context, itemID string, in AdjustRequest) (*docstore.InventoryRecord, error) {
	if in.Delta == 0 {
		return nil, ErrInvalid("delta must not be 0")
	}
	rec, err := s.modify(ctx, itemID, func(r *docstore.InventoryRecord) error {
		if r.AvailableQuantity+in.Delta < 0 {
			return ErrConflict(fmt.Sprintf("only %d available", r.AvailableQuantity))
		}
		r.AvailableQuantity += in.Delta
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("inventory adjusted",
		zap.String("item_id", itemID),
		zap.Int("delta", in.Delta),
		zap.Int("available", rec.AvailableQuantity),
		zap.String("reason", in.Reason),
	)
	return rec, nil
}

// Delete removes an item that nobody currently has borrowed.
func (s *Service) Delete(ctx context.Context, itemID string) error {
	if _, err := s.Get(ctx, itemID); err != nil {
		return err
	}
	if err := s.store.DeleteInventory(ctx, itemID); err != nil {
		if errors.Is(err, docstore.ErrInUse) {
			return ErrConflict("item is currently borrowed")
		}
		return fmt.Errorf("delete inventory %s: %w", itemID, err)
	}
	return nil
}

// modify applies fn to a fresh copy of the record and writes it back with
// compare-and-swap, starting over when a borrow got there first.
func (s *Service) modify(ctx context.Context, itemID string, fn func(*docstore.InventoryRecord) error) (*docstore.InventoryRecord, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		rec, err := s.Get(ctx, itemID)
		if err != nil {
			return nil, err
		}
		if err := fn(rec); err != nil {
			return nil, err
		}
		rec.UpdatedAt = s.clock.Now()

		err = s.store.UpdateInventory(ctx, rec)
		if errors.Is(err, docstore.ErrVersionConflict) {
			s.logger.Debug("inventory changed underneath, re-reading", zap.String("item_id", itemID), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update inventory %s: %w", itemID, err)
		}
		return rec, nil
	}
	return nil, ErrConflict("item is being changed by another request, please retry")
}
