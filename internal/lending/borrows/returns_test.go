package borrows_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toollend-backend/internal/lending/borrows"
	"toollend-backend/internal/platform/docstore"
	"toollend-backend/internal/platform/docstore/docstoretest"
)

// borrowed sets up one receipt holding drill-1 x3 and mill-2 x1.
func borrowed(t *testing.T) (*env, *docstore.Receipt) {
	t.Helper()
	e := newEnv(t, map[string]int{"drill-1": 5, "mill-2": 2})
	rec, err := e.svc.BorrowItems(context.Background(), student, borrowReq("2025-01-10", "drill-1", 3, "mill-2", 1))
	require.NoError(t, err)
	return e, rec
}

func returnReq(pairs ...any) borrows.ReturnBorrowRequest {
	b := borrowReq("", pairs...)
	return borrows.ReturnBorrowRequest{ItemIDs: b.ItemIDs, Quantities: b.ItemQuantities}
}

func Test_ReturnItems_PartialThenFull(t *testing.T) {
	ctx := context.Background()
	e, rec := borrowed(t)

	got, err := e.svc.ReturnItems(ctx, staff, rec.ID, returnReq("drill-1", 1))
	require.NoError(t, err)
	assert.Equal(t, docstore.ReceiptActive, got.Status)
	assert.Equal(t, []int{1, 0}, got.ReturnedQuantities)
	assert.Nil(t, got.ReturnDate)

	drill := e.inventory(t, "drill-1")
	assert.Equal(t, 3, drill.AvailableQuantity)
	assert.Equal(t, 2, drill.TotalBorrowed)

	items := e.borrowItems(t, rec.ID)
	assert.Equal(t, 1, items[0].ReturnedQuantity)
	assert.Equal(t, docstore.ItemBorrowed, items[0].Status)

	req := returnReq("drill-1", 2, "mill-2", 1)
	req.Notes = ptr("all back, chuck key missing")
	got, err = e.svc.ReturnItems(ctx, staff, rec.ID, req)
	require.NoError(t, err)
	assert.Equal(t, docstore.ReceiptReturned, got.Status)
	assert.Equal(t, []int{3, 1}, got.ReturnedQuantities)
	require.NotNil(t, got.ReturnDate)
	assert.Equal(t, day, *got.ReturnDate)
	assert.Equal(t, "all back, chuck key missing", *got.Notes)

	for _, it := range e.borrowItems(t, rec.ID) {
		assert.Equal(t, docstore.ItemReturned, it.Status, it.ItemID)
		assert.Equal(t, it.Quantity, it.ReturnedQuantity, it.ItemID)
	}
	assert.Equal(t, 5, e.inventory(t, "drill-1").AvailableQuantity)
	assert.Equal(t, 0, e.inventory(t, "drill-1").TotalBorrowed)
	assert.Equal(t, 2, e.inventory(t, "mill-2").AvailableQuantity)

	stored, err := e.mem.GetReceipt(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, docstore.ReceiptReturned, stored.Status)
}

func Test_ReturnItems_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		req    borrows.ReturnBorrowRequest
		id     string
		kind   borrows.Kind
		itemID string
	}{
		{name: "over_return", req: returnReq("drill-1", 4), kind: borrows.KindInvalidArgument, itemID: "drill-1"},
		{name: "not_on_receipt", req: returnReq("saw-9", 1), kind: borrows.KindInvalidArgument, itemID: "saw-9"},
		{name: "zero_quantity", req: returnReq("drill-1", 0), kind: borrows.KindInvalidArgument},
		{name: "empty", req: returnReq(), kind: borrows.KindInvalidArgument},
		{name: "unknown_receipt", req: returnReq("drill-1", 1), id: "nope", kind: borrows.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, rec := borrowed(t)
			e.store.Reset()
			id := rec.ID
			if tt.id != "" {
				id = tt.id
			}

			_, err := e.svc.ReturnItems(context.Background(), staff, id, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, borrows.KindOf(err))
			assert.Equal(t, tt.itemID, borrows.Fail(err).ItemID)

			assert.Zero(t, e.store.Calls("UpdateBorrowItem"))
			assert.Zero(t, e.store.Calls("UpdateInventory"))
			assert.Zero(t, e.store.Calls("UpdateReceipt"))
		})
	}
}

func Test_ReturnItems_Authorization(t *testing.T) {
	e, rec := borrowed(t)

	_, err := e.svc.ReturnItems(context.Background(), student, rec.ID, returnReq("drill-1", 1))
	assert.Equal(t, borrows.KindForbidden, borrows.KindOf(err))

	_, err = e.svc.ReturnItems(context.Background(), nil, rec.ID, returnReq("drill-1", 1))
	assert.Equal(t, borrows.KindUnauthorized, borrows.KindOf(err))

	assert.Equal(t, 2, e.inventory(t, "drill-1").AvailableQuantity)
}

func Test_ReturnItems_AlreadyReturned(t *testing.T) {
	ctx := context.Background()
	e, rec := borrowed(t)
	_, err := e.svc.ReturnItems(ctx, staff, rec.ID, returnReq("drill-1", 3, "mill-2", 1))
	require.NoError(t, err)

	_, err = e.svc.ReturnItems(ctx, staff, rec.ID, returnReq("drill-1", 1))
	require.Error(t, err)
	assert.Equal(t, borrows.KindConflict, borrows.KindOf(err))
}

func Test_ReturnItems_ReceiptWriteFailureLeavesStockAlone(t *testing.T) {
	ctx := context.Background()
	e, rec := borrowed(t)
	beforeDrill := e.inventory(t, "drill-1")
	beforeMill := e.inventory(t, "mill-2")
	e.store.Inject(docstoretest.FailOn("UpdateReceipt", rec.ID))

	_, err := e.svc.ReturnItems(ctx, staff, rec.ID, returnReq("drill-1", 2, "mill-2", 1))
	require.Error(t, err)
	assert.Equal(t, borrows.KindStoreFailure, borrows.KindOf(err))

	for _, it := range e.borrowItems(t, rec.ID) {
		assert.Zero(t, it.ReturnedQuantity, it.ItemID)
		assert.Equal(t, docstore.ItemBorrowed, it.Status, it.ItemID)
	}
	afterDrill := e.inventory(t, "drill-1")
	afterMill := e.inventory(t, "mill-2")
	assert.Equal(t, beforeDrill.AvailableQuantity, afterDrill.AvailableQuantity)
	assert.Equal(t, beforeDrill.TotalBorrowed, afterDrill.TotalBorrowed)
	assert.Equal(t, beforeMill.AvailableQuantity, afterMill.AvailableQuantity)

	stored, err := e.mem.GetReceipt(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0}, stored.ReturnedQuantities)
	assert.Equal(t, docstore.ReceiptActive, stored.Status)
}

func Test_ReturnItems_InventoryFailureRollsBackClaim(t *testing.T) {
	ctx := context.Background()
	e, rec := borrowed(t)
	beforeDrill := e.inventory(t, "drill-1")
	e.store.Inject(docstoretest.FailOn("UpdateInventory", "mill-2"))

	_, err := e.svc.ReturnItems(ctx, staff, rec.ID, returnReq("drill-1", 3, "mill-2", 1))
	require.Error(t, err)
	assert.Equal(t, borrows.KindStoreFailure, borrows.KindOf(err))

	stored, err := e.mem.GetReceipt(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0}, stored.ReturnedQuantities)
	assert.Equal(t, docstore.ReceiptActive, stored.Status)
	assert.Nil(t, stored.ReturnDate)

	for _, it := range e.borrowItems(t, rec.ID) {
		assert.Zero(t, it.ReturnedQuantity, it.ItemID)
		assert.Equal(t, docstore.ItemBorrowed, it.Status, it.ItemID)
	}
	assert.Equal(t, beforeDrill.AvailableQuantity, e.inventory(t, "drill-1").AvailableQuantity)
	assert.Equal(t, beforeDrill.TotalBorrowed, e.inventory(t, "drill-1").TotalBorrowed)
}

// Test_ReturnItems_ConcurrentReturn runs a second return while the first is
// between its receipt write and its inventory write.
func Test_ReturnItems_ConcurrentReturn(t *testing.T) {
	tests := []struct {
		name       string
		first      int
		second     int
		secondKind borrows.Kind
		returned   int
		available  int
	}{
		{name: "same_units_twice", first: 2, second: 2, secondKind: borrows.KindConflict, returned: 2, available: 5},
		{name: "more_than_left", first: 1, second: 2, secondKind: borrows.KindInvalidArgument, returned: 1, available: 4},
		{name: "split_return", first: 1, second: 1, returned: 2, available: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			e := newEnv(t, map[string]int{"drill-1": 5})
			rec, err := e.svc.BorrowItems(ctx, student, borrowReq("2025-01-10", "drill-1", 2))
			require.NoError(t, err)

			var (
				fired     bool
				secondErr error
			)
			e.store.BeforeUpdateInventory = func(ctx context.Context, _ *docstore.InventoryRecord) {
				if fired {
					return
				}
				fired = true
				_, secondErr = e.svc.ReturnItems(ctx, staff, rec.ID, returnReq("drill-1", tt.second))
			}

			_, err = e.svc.ReturnItems(ctx, staff, rec.ID, returnReq("drill-1", tt.first))
			require.NoError(t, err)
			require.True(t, fired)
			if tt.secondKind == "" {
				require.NoError(t, secondErr)
			} else {
				require.Error(t, secondErr)
				assert.Equal(t, tt.secondKind, borrows.KindOf(secondErr))
			}

			drill := e.inventory(t, "drill-1")
			assert.Equal(t, tt.available, drill.AvailableQuantity)
			assert.Equal(t, 5-tt.available, drill.TotalBorrowed)

			items := e.borrowItems(t, rec.ID)
			require.Len(t, items, 1)
			assert.Equal(t, tt.returned, items[0].ReturnedQuantity)

			stored, err := e.mem.GetReceipt(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, []int{tt.returned}, stored.ReturnedQuantities)
		})
	}
}

func Test_ReturnItems_RecheckedAfterReceiptConflict(t *testing.T) {
	ctx := context.Background()
	e, rec := borrowed(t)

	var fired bool
	e.store.BeforeUpdateReceipt = func(ctx context.Context, _ *docstore.Receipt) {
		if fired {
			return
		}
		fired = true
		_, err := e.svc.ReturnItems(ctx, staff, rec.ID, returnReq("drill-1", 1))
		require.NoError(t, err)
	}

	// the other return took one drill first, so three no longer fit
	_, err := e.svc.ReturnItems(ctx, staff, rec.ID, returnReq("drill-1", 3))
	require.Error(t, err)
	assert.Equal(t, borrows.KindInvalidArgument, borrows.KindOf(err))
	assert.Equal(t, "drill-1", borrows.Fail(err).ItemID)

	stored, err := e.mem.GetReceipt(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, stored.ReturnedQuantities)
	assert.Equal(t, 3, e.inventory(t, "drill-1").AvailableQuantity)
	assert.Equal(t, 1, e.borrowItems(t, rec.ID)[0].ReturnedQuantity)
}

func Test_UpdateBorrow_RetriesOnConcurrentEdit(t *testing.T) {
	ctx := context.Background()
	e, rec := borrowed(t)

	var fired bool
	e.store.BeforeUpdateReceipt = func(ctx context.Context, _ *docstore.Receipt) {
		if fired {
			return
		}
		fired = true
		_, err := e.svc.ReturnItems(ctx, staff, rec.ID, returnReq("mill-2", 1))
		require.NoError(t, err)
	}

	got, err := e.svc.UpdateBorrow(ctx, staff, rec.ID, borrows.BorrowUpdate{Subject: ptr("Metalwork")})
	require.NoError(t, err)
	assert.Equal(t, "Metalwork", *got.Subject)
	// the edit did not wipe the return booked in between
	assert.Equal(t, []int{0, 1}, got.ReturnedQuantities)

	stored, err := e.mem.GetReceipt(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, stored.ReturnedQuantities)
	assert.Equal(t, "Metalwork", *stored.Subject)
}

func Test_UpdateBorrow(t *testing.T) {
	ctx := context.Background()
	e, rec := borrowed(t)

	got, err := e.svc.UpdateBorrow(ctx, staff, rec.ID, borrows.BorrowUpdate{
		DueDate:  ptr("2025-01-20"),
		Lecturer: ptr(" Dr. Ito "),
		Notes:    ptr(""),
	})
	require.NoError(t, err)
	assert.Equal(t, "2025-01-20", got.DueDate.Format("2006-01-02"))
	assert.Equal(t, "Dr. Ito", *got.Lecturer)
	assert.Nil(t, got.Notes)

	stored, err := e.mem.GetReceipt(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, got.DueDate, stored.DueDate)
	assert.Equal(t, rec.Reference, stored.Reference)

	_, err = e.svc.UpdateBorrow(ctx, student, rec.ID, borrows.BorrowUpdate{Subject: ptr("x")})
	assert.Equal(t, borrows.KindForbidden, borrows.KindOf(err))

	_, err = e.svc.UpdateBorrow(ctx, staff, rec.ID, borrows.BorrowUpdate{DueDate: ptr("2024-06-01")})
	assert.Equal(t, borrows.KindInvalidArgument, borrows.KindOf(err))

	_, err = e.svc.UpdateBorrow(ctx, staff, "nope", borrows.BorrowUpdate{})
	assert.Equal(t, borrows.KindNotFound, borrows.KindOf(err))
}
