package borrows

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"toollend-backend/internal/platform/auth"
	"toollend-backend/internal/platform/docstore"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	// 貸出 (receipt 単位)
	r.POST("/borrows", h.CreateBorrow)
	r.GET("/borrows", h.ListBorrows)
	r.GET("/borrows/:id", h.GetBorrow)
	r.GET("/borrows/:id/items", h.ListBorrowItems)
	r.PATCH("/borrows/:id", h.UpdateBorrow)

	// 返却
	r.POST("/borrows/:id/returns", h.ReturnBorrow)
}

// ---------- handlers ----------

// CreateBorrow godoc
// @Summary  Borrow one or more inventory items
// @Tags     borrows
// @Accept   json
// @Produce  json
// @Param    body body CreateBorrowRequest true "items, quantities and due date"
// @Success  201 {object} Result
// @Failure  400,401,404,409,500 {object} Result
// @Router   /borrows [post]
func (h *Handler) CreateBorrow(c *gin.Context) {
	var req CreateBorrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Fail(ErrInvalid("invalid json")))
		return
	}

	rec, err := h.svc.BorrowItems(c.Request.Context(), auth.FromGin(c), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), Fail(err))
		return
	}

	c.Header("Location", "/api/v1/borrows/"+rec.ID)
	c.JSON(http.StatusCreated, Succeed("Borrow created", rec))
}

// ListBorrows godoc
// @Summary  List borrow receipts
// @Tags     borrows
// @Produce  json
// @Param    user_id   query string false "owner (staff only)"
// @Param    status    query string false "active or returned"
// @Param    reference query string false "reference prefix"
// @Param    overdue   query bool   false "only overdue receipts"
// @Success  200 {object} Result
// @Router   /borrows [get]
func (h *Handler) ListBorrows(c *gin.Context) {
	f := ReceiptFilter{
		UserID:          c.Query("user_id"),
		Status:          docstore.ReceiptStatus(c.Query("status")),
		ReferencePrefix: c.Query("reference"),
		Limit:           parseIntDefault(c.Query("limit"), 50),
		Offset:          parseIntDefault(c.Query("offset"), 0),
	}
	if v := c.Query("overdue"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			f.Overdue = b
		}
	}

	res, err := h.svc.ListReceipts(c.Request.Context(), auth.FromGin(c), f)
	if err != nil {
		c.JSON(ToHTTPStatus(err), Fail(err))
		return
	}
	c.JSON(http.StatusOK, Succeed("ok", res))
}

func (h *Handler) GetBorrow(c *gin.Context) {
	rec, err := h.svc.GetReceipt(c.Request.Context(), auth.FromGin(c), c.Param("id"))
	if err != nil {
		c.JSON(ToHTTPStatus(err), Fail(err))
		return
	}
	c.JSON(http.StatusOK, Succeed("ok", rec))
}

func (h *Handler) ListBorrowItems(c *gin.Context) {
	items, err := h.svc.ListBorrowItems(c.Request.Context(), auth.FromGin(c), c.Param("id"))
	if err != nil {
		c.JSON(ToHTTPStatus(err), Fail(err))
		return
	}
	c.JSON(http.StatusOK, Succeed("ok", items))
}

func (h *Handler) UpdateBorrow(c *gin.Context) {
	var upd BorrowUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, Fail(ErrInvalid("invalid json")))
		return
	}

	rec, err := h.svc.UpdateBorrow(c.Request.Context(), auth.FromGin(c), c.Param("id"), upd)
	if err != nil {
		c.JSON(ToHTTPStatus(err), Fail(err))
		return
	}
	c.JSON(http.StatusOK, Succeed("Borrow updated", rec))
}

// ReturnBorrow godoc
// @Summary  Process returned items of a receipt
// @Tags     borrows
// @Accept   json
// @Produce  json
// @Param    id   path string              true "receipt id"
// @Param    body body ReturnBorrowRequest true "returned items"
// @Success  200 {object} Result
// @Failure  400,401,403,404,409,500 {object} Result
// @Router   /borrows/{id}/returns [post]
func (h *Handler) ReturnBorrow(c *gin.Context) {
	var req ReturnBorrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Fail(ErrInvalid("invalid json")))
		return
	}

	rec, err := h.svc.ReturnItems(c.Request.Context(), auth.FromGin(c), c.Param("id"), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), Fail(err))
		return
	}
	c.JSON(http.StatusOK, Succeed("Return processed", rec))
}

// ---------- helpers ----------

func parseIntDefault(s string, d int) int {
	if s == "" {
		return d
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}
