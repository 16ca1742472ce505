package borrows_test

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"toollend-backend/internal/lending/borrows"
	"toollend-backend/internal/lending/saga"
	"toollend-backend/internal/platform/auth"
	"toollend-backend/internal/platform/docstore"
	"toollend-backend/internal/platform/docstore/docstoretest"
	"toollend-backend/internal/platform/docstore/memdoc"
)

var (
	day     = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	student = &auth.Identity{UserID: "u-abcd", Role: auth.RoleStudent}
	other   = &auth.Identity{UserID: "u-wxyz", Role: auth.RoleStudent}
	staff   = &auth.Identity{UserID: "s-0001", Role: auth.RoleStaff}
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewULID(time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%04d", g.n)
}

type env struct {
	mem   *memdoc.Store
	store *docstoretest.Store
	svc   *borrows.Service
	ids   *seqIDs
}

// newEnv seeds the inventory straight into memory so the wrapped store
// starts with zero recorded calls.
func newEnv(t *testing.T, stock map[string]int) *env {
	t.Helper()
	ctx := context.Background()
	mem := memdoc.New()
	for _, id := range slices.Sorted(maps.Keys(stock)) {
		require.NoError(t, mem.CreateInventory(ctx, &docstore.InventoryRecord{
			ItemID:            id,
			Name:              id,
			AvailableQuantity: stock[id],
		}))
	}

	e := &env{mem: mem, store: docstoretest.Wrap(mem), ids: &seqIDs{}}
	e.svc = e.service(t, day)
	return e
}

// service builds a Service over the same store with a different clock.
func (e *env) service(t *testing.T, now time.Time) *borrows.Service {
	runner := saga.NewRunner(e.store, zaptest.NewLogger(t), saga.WithBackoff(saga.Backoff{Attempts: 2}))
	return borrows.NewService(e.store, runner, zaptest.NewLogger(t),
		borrows.WithClock(fixedClock{now}),
		borrows.WithIDGen(e.ids),
	)
}

func (e *env) inventory(t *testing.T, itemID string) docstore.InventoryRecord {
	t.Helper()
	r, err := e.mem.GetInventory(context.Background(), itemID)
	require.NoError(t, err)
	return *r
}

func (e *env) receipts(t *testing.T) []docstore.Receipt {
	t.Helper()
	out, err := e.mem.ListReceipts(context.Background(), docstore.ReceiptQuery{})
	require.NoError(t, err)
	return out
}

func (e *env) borrowItems(t *testing.T, receiptID string) []docstore.BorrowItem {
	t.Helper()
	out, err := e.mem.ListBorrowItems(context.Background(), receiptID)
	require.NoError(t, err)
	return out
}

func borrowReq(due string, pairs ...any) borrows.CreateBorrowRequest {
	req := borrows.CreateBorrowRequest{DueDate: due}
	for i := 0; i+1 < len(pairs); i += 2 {
		req.ItemIDs = append(req.ItemIDs, pairs[i].(string))
		req.ItemQuantities = append(req.ItemQuantities, pairs[i+1].(int))
	}
	return req
}
