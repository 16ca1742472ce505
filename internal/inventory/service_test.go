package inventory_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"toollend-backend/internal/inventory"
	"toollend-backend/internal/platform/auth"
	"toollend-backend/internal/platform/docstore"
	"toollend-backend/internal/platform/docstore/docstoretest"
	"toollend-backend/internal/platform/docstore/memdoc"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var now = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*inventory.Service, *docstoretest.Store) {
	store := docstoretest.Wrap(memdoc.New())
	return inventory.NewService(store, zaptest.NewLogger(t)).WithClock(fixedClock{now}), store
}

func apiCode(err error) inventory.Code {
	if api, ok := err.(*inventory.APIError); ok {
		return api.Code
	}
	return ""
}

func Test_Service_CreateGetList(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	rec, err := svc.Create(ctx, inventory.CreateItemRequest{ItemID: " drill-1 ", Name: "Cordless drill", Category: "power", Quantity: 4})
	require.NoError(t, err)
	assert.Equal(t, "drill-1", rec.ItemID)
	assert.Equal(t, 4, rec.AvailableQuantity)
	assert.Equal(t, now, rec.CreatedAt)

	_, err = svc.Create(ctx, inventory.CreateItemRequest{ItemID: "drill-1", Name: "again"})
	assert.Equal(t, inventory.CodeConflict, apiCode(err))
	_, err = svc.Create(ctx, inventory.CreateItemRequest{ItemID: "x", Name: "neg", Quantity: -1})
	assert.Equal(t, inventory.CodeInvalidArgument, apiCode(err))
	_, err = svc.Create(ctx, inventory.CreateItemRequest{ItemID: "x"})
	assert.Equal(t, inventory.CodeInvalidArgument, apiCode(err))

	_, err = svc.Create(ctx, inventory.CreateItemRequest{ItemID: "file-3", Name: "File", Category: "hand"})
	require.NoError(t, err)

	got, err := svc.Get(ctx, "drill-1")
	require.NoError(t, err)
	assert.Equal(t, "Cordless drill", got.Name)
	_, err = svc.Get(ctx, "nope")
	assert.Equal(t, inventory.CodeNotFound, apiCode(err))

	all, err := svc.List(ctx, inventory.ItemQuery{}, inventory.Page{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	avail, err := svc.List(ctx, inventory.ItemQuery{Available: true}, inventory.Page{})
	require.NoError(t, err)
	require.Len(t, avail, 1)
	assert.Equal(t, "drill-1", avail[0].ItemID)

	hand, err := svc.List(ctx, inventory.ItemQuery{Category: "hand"}, inventory.Page{})
	require.NoError(t, err)
	require.Len(t, hand, 1)
	assert.Equal(t, "file-3", hand[0].ItemID)
}

func Test_Service_UpdateAndAdjust(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	_, err := svc.Create(ctx, inventory.CreateItemRequest{ItemID: "drill-1", Name: "Drill", Quantity: 2})
	require.NoError(t, err)

	loc := "Shelf B"
	rec, err := svc.Update(ctx, "drill-1", inventory.UpdateItemRequest{Location: &loc})
	require.NoError(t, err)
	assert.Equal(t, "Shelf B", rec.Location)
	assert.Equal(t, "Drill", rec.Name)

	blank := " "
	_, err = svc.Update(ctx, "drill-1", inventory.UpdateItemRequest{Name: &blank})
	assert.Equal(t, inventory.CodeInvalidArgument, apiCode(err))
	_, err = svc.Update(ctx, "nope", inventory.UpdateItemRequest{Location: &loc})
	assert.Equal(t, inventory.CodeNotFound, apiCode(err))

	rec, err = svc.Adjust(ctx, "drill-1", inventory.AdjustRequest{Delta: 3, Reason: "stock take"})
	require.NoError(t, err)
	assert.Equal(t, 5, rec.AvailableQuantity)

	rec, err = svc.Adjust(ctx, "drill-1", inventory.AdjustRequest{Delta: -5})
	require.NoError(t, err)
	assert.Equal(t, 0, rec.AvailableQuantity)

	_, err = svc.Adjust(ctx, "drill-1", inventory.AdjustRequest{Delta: -1})
	assert.Equal(t, inventory.CodeConflict, apiCode(err))
	_, err = svc.Adjust(ctx, "drill-1", inventory.AdjustRequest{})
	assert.Equal(t, inventory.CodeInvalidArgument, apiCode(err))

	got, err := svc.Get(ctx, "drill-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.AvailableQuantity)
	assert.Equal(t, "Shelf B", got.Location)
}

func Test_Service_AdjustRetriesOnConcurrentBorrow(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	_, err := svc.Create(ctx, inventory.CreateItemRequest{ItemID: "drill-1", Name: "Drill", Quantity: 4})
	require.NoError(t, err)

	var once atomic.Bool
	store.BeforeUpdateInventory = func(ctx context.Context, _ *docstore.InventoryRecord) {
		if !once.CompareAndSwap(false, true) {
			return
		}
		// a borrow of one unit lands in between
		cur, err := svc.Get(ctx, "drill-1")
		require.NoError(t, err)
		cur.AvailableQuantity--
		cur.TotalBorrowed++
		require.NoError(t, store.UpdateInventory(ctx, cur))
	}

	rec, err := svc.Adjust(ctx, "drill-1", inventory.AdjustRequest{Delta: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, rec.AvailableQuantity)
	assert.Equal(t, 1, rec.TotalBorrowed)
}

func Test_Service_Delete(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	_, err := svc.Create(ctx, inventory.CreateItemRequest{ItemID: "drill-1", Name: "Drill", Quantity: 2})
	require.NoError(t, err)

	cur, err := store.GetInventory(ctx, "drill-1")
	require.NoError(t, err)
	cur.AvailableQuantity, cur.TotalBorrowed = 1, 1
	require.NoError(t, store.UpdateInventory(ctx, cur))

	assert.Equal(t, inventory.CodeConflict, apiCode(svc.Delete(ctx, "drill-1")))

	cur.AvailableQuantity, cur.TotalBorrowed = 2, 0
	require.NoError(t, store.UpdateInventory(ctx, cur))
	require.NoError(t, svc.Delete(ctx, "drill-1"))
	assert.Equal(t, inventory.CodeNotFound, apiCode(svc.Delete(ctx, "drill-1")))
}

func Test_Routes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, store := newService(t)

	route := func(id *auth.Identity) *gin.Engine {
		r := gin.New()
		api := r.Group("/api/v1")
		api.Use(func(c *gin.Context) {
			if id != nil {
				c.Set(auth.CtxIdentityKey, id)
			}
			c.Next()
		})
		api.Use(auth.RequireAuth())
		inventory.RegisterRoutes(api, svc, auth.RequireRole(auth.RoleAdmin))
		return r
	}
	admin := route(&auth.Identity{UserID: "admin", Role: auth.RoleAdmin})
	student := route(&auth.Identity{UserID: "u-abcd", Role: auth.RoleStudent})

	do := func(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := do(student, http.MethodPost, "/api/v1/inventory", `{"item_id":"drill-1","name":"Drill","quantity":2}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Zero(t, store.Calls("CreateInventory"))

	w = do(admin, http.MethodPost, "/api/v1/inventory", `{"item_id":"drill-1","name":"Drill","quantity":2}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "/api/v1/inventory/drill-1", w.Header().Get("Location"))

	w = do(admin, http.MethodPost, "/api/v1/inventory", `{"item_id":"drill-1","name":"Drill"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"error":{"code":"CONFLICT","message":"item_id already exists"}}`, w.Body.String())

	w = do(student, http.MethodGet, "/api/v1/inventory?available=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Items      []docstore.InventoryRecord `json:"items"`
		NextOffset int                        `json:"next_offset"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Items, 1)
	assert.Zero(t, list.NextOffset)

	w = do(admin, http.MethodPost, "/api/v1/inventory/drill-1/adjust", `{"delta":-3}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(admin, http.MethodPut, "/api/v1/inventory/drill-1", `{"location":"Cabinet 2"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(student, http.MethodGet, "/api/v1/inventory/drill-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"location":"Cabinet 2"`)

	w = do(admin, http.MethodDelete, "/api/v1/inventory/drill-1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(student, http.MethodGet, "/api/v1/inventory/drill-1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
