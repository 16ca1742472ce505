package borrows_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toollend-backend/internal/lending/borrows"
	"toollend-backend/internal/platform/auth"
	"toollend-backend/internal/platform/docstore"
	"toollend-backend/internal/platform/docstore/docstoretest"
)

func Test_BorrowItems_Success(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, map[string]int{"drill-1": 5, "mill-2": 2})

	req := borrowReq("2025-01-10", "drill-1", 2, "mill-2", 1)
	req.Lecturer = ptr("Dr. Sato")
	req.Notes = ptr("   ")

	rec, err := e.svc.BorrowItems(ctx, student, req)
	require.NoError(t, err)

	assert.Equal(t, "ref-250101-abcd-001", rec.Reference)
	assert.Equal(t, student.UserID, rec.UserID)
	assert.Equal(t, []string{"drill-1", "mill-2"}, rec.ItemIDs)
	assert.Equal(t, []int{2, 1}, rec.ItemQuantities)
	assert.Equal(t, []int{0, 0}, rec.ReturnedQuantities)
	assert.Equal(t, docstore.ReceiptActive, rec.Status)
	assert.Equal(t, "2025-01-10", rec.DueDate.Format("2006-01-02"))
	assert.Equal(t, "Dr. Sato", *rec.Lecturer)
	assert.Nil(t, rec.Notes, "blank notes are dropped")

	drill := e.inventory(t, "drill-1")
	assert.Equal(t, 3, drill.AvailableQuantity)
	assert.Equal(t, 2, drill.TotalBorrowed)
	mill := e.inventory(t, "mill-2")
	assert.Equal(t, 1, mill.AvailableQuantity)
	assert.Equal(t, 1, mill.TotalBorrowed)

	items := e.borrowItems(t, rec.ID)
	require.Len(t, items, 2)
	assert.Equal(t, "drill-1", items[0].ItemID)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, 0, items[0].ReturnedQuantity)
	assert.Equal(t, docstore.ItemBorrowed, items[0].Status)
	assert.Equal(t, "mill-2", items[1].ItemID)

	stored, err := e.mem.GetReceipt(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Reference, stored.Reference)
}

func Test_BorrowItems_SequentialReferences(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, map[string]int{"drill-1": 5})

	first, err := e.svc.BorrowItems(ctx, student, borrowReq("2025-01-10", "drill-1", 1))
	require.NoError(t, err)
	second, err := e.svc.BorrowItems(ctx, student, borrowReq("2025-01-10", "drill-1", 1))
	require.NoError(t, err)

	assert.Equal(t, "ref-250101-abcd-001", first.Reference)
	assert.Equal(t, "ref-250101-abcd-002", second.Reference)
}

func Test_BorrowItems_ReferenceCollisionIsRetried(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, map[string]int{"drill-1": 5})

	// an earlier 001 was rolled back, so the count says 1 while 002 is taken
	require.NoError(t, e.mem.CreateReceipt(ctx, &docstore.Receipt{
		ID: "kept", Reference: "ref-250101-abcd-002", UserID: "u-abcd", Status: docstore.ReceiptActive,
	}))

	rec, err := e.svc.BorrowItems(ctx, student, borrowReq("2025-01-10", "drill-1", 1))
	require.NoError(t, err)
	assert.Equal(t, "ref-250101-abcd-003", rec.Reference)
	assert.Equal(t, 2, e.store.Calls("CreateReceipt"))
}

func Test_BorrowItems_SharedSuffixAcrossUsers(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, map[string]int{"drill-1": 10})
	lookalike := &auth.Identity{UserID: "x-abcd", Role: auth.RoleStudent}

	for i := 0; i < 3; i++ {
		_, err := e.svc.BorrowItems(ctx, student, borrowReq("2025-01-10", "drill-1", 1))
		require.NoError(t, err)
	}

	rec, err := e.svc.BorrowItems(ctx, lookalike, borrowReq("2025-01-10", "drill-1", 1))
	require.NoError(t, err)
	assert.Equal(t, "ref-250101-abcd-004", rec.Reference)
	assert.Equal(t, "x-abcd", rec.UserID)

	again, err := e.svc.BorrowItems(ctx, student, borrowReq("2025-01-10", "drill-1", 1))
	require.NoError(t, err)
	assert.Equal(t, "ref-250101-abcd-005", again.Reference)
	assert.Equal(t, 5, e.store.Calls("CreateReceipt"), "no label collided")
}

func Test_BorrowItems_Unauthorized(t *testing.T) {
	e := newEnv(t, map[string]int{"drill-1": 5})

	rec, err := e.svc.BorrowItems(context.Background(), nil, borrowReq("2025-01-10", "drill-1", 1))
	require.Error(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, borrows.KindUnauthorized, borrows.KindOf(err))
	assert.Equal(t, 0, e.store.Calls(""), "no store call may happen")

	body, err := json.Marshal(borrows.Fail(err))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"message":"Unauthorized","kind":"UNAUTHORIZED"}`, string(body))
}

func Test_BorrowItems_InsufficientQuantity(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, map[string]int{"drill-1": 3})
	before := e.inventory(t, "drill-1")

	_, err := e.svc.BorrowItems(ctx, student, borrowReq("2025-01-10", "drill-1", 5))
	require.Error(t, err)
	assert.Equal(t, borrows.KindInsufficientQuantity, borrows.KindOf(err))

	res := borrows.Fail(err)
	assert.False(t, res.Success)
	assert.Equal(t, "Not enough quantity available", res.Message)
	assert.Equal(t, "drill-1", res.ItemID)

	assert.Equal(t, before, e.inventory(t, "drill-1"))
	assert.Empty(t, e.receipts(t))
}

func Test_BorrowItems_MissingInventoryRollsBack(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, map[string]int{"drill-1": 5})
	before := e.inventory(t, "drill-1")

	_, err := e.svc.BorrowItems(ctx, student, borrowReq("2025-01-10", "drill-1", 2, "mill-2", 1))
	require.Error(t, err)
	assert.Equal(t, borrows.KindNotFound, borrows.KindOf(err))
	assert.Equal(t, "Inventory item not found", borrows.Fail(err).Message)

	assert.Empty(t, e.receipts(t))
	_, err = e.mem.GetBorrowItem(ctx, "id-0002")
	assert.ErrorIs(t, err, docstore.ErrNotFound, "drill-1's borrow item is deleted")

	after := e.inventory(t, "drill-1")
	assert.Equal(t, before.AvailableQuantity, after.AvailableQuantity)
	assert.Equal(t, before.TotalBorrowed, after.TotalBorrowed)
	assert.Equal(t, 1, e.store.Calls("DeleteReceipt"))
	assert.Equal(t, 2, e.store.Calls("DeleteBorrowItem"))
}

func Test_BorrowItems_FullRollbackAtAnyIndex(t *testing.T) {
	items := []string{"a-1", "b-2", "c-3"}

	for failAt := range items {
		t.Run(fmt.Sprintf("short_at_%d", failAt), func(t *testing.T) {
			ctx := context.Background()
			stock := map[string]int{"a-1": 4, "b-2": 4, "c-3": 4}
			stock[items[failAt]] = 0
			e := newEnv(t, stock)

			var before []docstore.InventoryRecord
			for _, id := range items {
				before = append(before, e.inventory(t, id))
			}

			_, err := e.svc.BorrowItems(ctx, student, borrowReq("2025-01-10", "a-1", 1, "b-2", 1, "c-3", 1))
			require.Error(t, err)
			assert.Equal(t, borrows.KindInsufficientQuantity, borrows.KindOf(err))

			for i, id := range items {
				after := e.inventory(t, id)
				assert.Equal(t, before[i].AvailableQuantity, after.AvailableQuantity, id)
				assert.Equal(t, before[i].TotalBorrowed, after.TotalBorrowed, id)
			}
			assert.Empty(t, e.receipts(t))
			for n := 1; n <= 4; n++ {
				_, err := e.mem.GetBorrowItem(ctx, fmt.Sprintf("id-%04d", n))
				assert.ErrorIs(t, err, docstore.ErrNotFound)
			}
		})
	}
}

func Test_BorrowItems_StoreFailureRollsBack(t *testing.T) {
	tests := []struct {
		name  string
		fault docstoretest.Fault
	}{
		{"create_borrow_item", docstoretest.FailOn("CreateBorrowItem", "mill-2")},
		{"read_inventory", docstoretest.FailOn("GetInventory", "mill-2")},
		{"update_inventory", docstoretest.FailOn("UpdateInventory", "mill-2")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			e := newEnv(t, map[string]int{"drill-1": 5, "mill-2": 5})
			e.store.Inject(tt.fault)

			_, err := e.svc.BorrowItems(ctx, student, borrowReq("2025-01-10", "drill-1", 2, "mill-2", 1))
			require.Error(t, err)
			assert.Equal(t, borrows.KindStoreFailure, borrows.KindOf(err))
			assert.ErrorIs(t, err, docstoretest.ErrInjected)
			assert.Equal(t, "Store operation failed", borrows.Fail(err).Message)

			assert.Empty(t, e.receipts(t))
			assert.Equal(t, 5, e.inventory(t, "drill-1").AvailableQuantity)
			assert.Equal(t, 5, e.inventory(t, "mill-2").AvailableQuantity)
		})
	}
}

func Test_BorrowItems_CompensationFailureIsJournalled(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, map[string]int{"drill-1": 5})
	e.store.Inject(docstoretest.FailOn("DeleteReceipt", ""))

	_, err := e.svc.BorrowItems(ctx, student, borrowReq("2025-01-10", "drill-1", 2, "mill-2", 1))
	require.Error(t, err)
	assert.Equal(t, borrows.KindCompensationFailed, borrows.KindOf(err))
	assert.Equal(t, 2, e.store.Calls("DeleteReceipt"), "retried before giving up")

	// everything else was still undone
	assert.Equal(t, 5, e.inventory(t, "drill-1").AvailableQuantity)

	pending, err := e.mem.ListCompensations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, docstore.CompDeleteReceipt, pending[0].Kind)
}

func Test_BorrowItems_ConcurrentInventoryWriteIsNotLost(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, map[string]int{"drill-1": 5})

	var once atomic.Bool
	e.store.BeforeUpdateInventory = func(ctx context.Context, _ *docstore.InventoryRecord) {
		if !once.CompareAndSwap(false, true) {
			return
		}
		// another borrower takes one unit between our read and our write
		cur, err := e.mem.GetInventory(ctx, "drill-1")
		require.NoError(t, err)
		cur.AvailableQuantity--
		cur.TotalBorrowed++
		require.NoError(t, e.mem.UpdateInventory(ctx, cur))
	}

	_, err := e.svc.BorrowItems(ctx, student, borrowReq("2025-01-10", "drill-1", 2))
	require.NoError(t, err)

	inv := e.inventory(t, "drill-1")
	assert.Equal(t, 2, inv.AvailableQuantity)
	assert.Equal(t, 3, inv.TotalBorrowed)
	assert.Equal(t, 2, e.store.Calls("GetInventory"))
}

func Test_BorrowItems_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  borrows.CreateBorrowRequest
	}{
		{"no_items", borrowReq("2025-01-10")},
		{"length_mismatch", borrows.CreateBorrowRequest{ItemIDs: []string{"drill-1", "mill-2"}, ItemQuantities: []int{1}, DueDate: "2025-01-10"}},
		{"zero_quantity", borrowReq("2025-01-10", "drill-1", 0)},
		{"negative_quantity", borrowReq("2025-01-10", "drill-1", -2)},
		{"duplicate_item", borrowReq("2025-01-10", "drill-1", 1, "drill-1", 1)},
		{"blank_item", borrowReq("2025-01-10", "  ", 1)},
		{"missing_due_date", borrowReq("", "drill-1", 1)},
		{"bad_due_date", borrowReq("10/01/2025", "drill-1", 1)},
		{"due_date_in_past", borrowReq("2024-12-31", "drill-1", 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, map[string]int{"drill-1": 5})

			_, err := e.svc.BorrowItems(context.Background(), student, tt.req)
			require.Error(t, err)
			assert.Equal(t, borrows.KindInvalidArgument, borrows.KindOf(err))
			assert.Equal(t, 0, e.store.Calls(""))
		})
	}

	t.Run("rfc3339_due_date_today", func(t *testing.T) {
		e := newEnv(t, map[string]int{"drill-1": 5})
		_, err := e.svc.BorrowItems(context.Background(), student, borrowReq("2025-01-01T17:00:00+09:00", "drill-1", 1))
		assert.NoError(t, err)
	})
}

func ptr(s string) *string { return &s }
