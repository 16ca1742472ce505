package inventory

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// RegisterRoutes mounts the read routes for every caller and the write
// routes behind the admin guards.
func RegisterRoutes(r gin.IRoutes, svc *Service, admin ...gin.HandlerFunc) {
	h := &Handler{svc: svc, logger: svc.logger}

	r.GET("/inventory", h.ListItems)
	r.GET("/inventory/:item_id", h.GetItem)

	r.POST("/inventory", chain(admin, h.CreateItem)...)
	r.PUT("/inventory/:item_id", chain(admin, h.UpdateItem)...)
	r.POST("/inventory/:item_id/adjust", chain(admin, h.AdjustItem)...)
	r.DELETE("/inventory/:item_id", chain(admin, h.DeleteItem)...)
}

func chain(guards []gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(guards)+1)
	out = append(out, guards...)
	return append(out, h)
}

// CreateItem godoc
// @Summary  Register a new inventory item
// @Tags     inventory
// @Accept   json
// @Produce  json
// @Param    body body CreateItemRequest true "item"
// @Success  201 {object} docstore.InventoryRecord
// @Failure  400,409 {object} errDTO
// @Router   /inventory [post]
func (h *Handler) CreateItem(c *gin.Context) {
	var req CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apiErr(CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Location", "/api/v1/inventory/"+res.ItemID)
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) GetItem(c *gin.Context) {
	res, err := h.svc.Get(c.Request.Context(), c.Param("item_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListItems(c *gin.Context) {
	q := ItemQuery{Category: c.Query("category")}
	if v, err := strconv.ParseBool(c.Query("available")); err == nil {
		q.Available = v
	}
	p := Page{
		Limit:  atoiDef(c.Query("limit"), 50),
		Offset: atoiDef(c.Query("offset"), 0),
	}
	items, err := h.svc.List(c.Request.Context(), q, p)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "next_offset": nextOffset(len(items), p)})
}

func (h *Handler) UpdateItem(c *gin.Context) {
	var req UpdateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apiErr(CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.Update(c.Request.Context(), c.Param("item_id"), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// AdjustItem godoc
// @Summary  Add or remove units on the shelf
// @Tags     inventory
// @Accept   json
// @Produce  json
// @Param    item_id path string        true "item id"
// @Param    body    body AdjustRequest true "delta"
// @Success  200 {object} docstore.InventoryRecord
// @Failure  400,404,409 {object} errDTO
// @Router   /inventory/{item_id}/adjust [post]
func (h *Handler) AdjustItem(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apiErr(CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.Adjust(c.Request.Context(), c.Param("item_id"), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) DeleteItem(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("item_id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ===== helpers =====

func (h *Handler) fail(c *gin.Context, err error) {
	status := toHTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("inventory request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, apiErrFrom(err))
}

func atoiDef(s string, d int) int {
	if s == "" {
		return d
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return n
}

// nextOffset is 0 once a short page shows there is nothing more.
func nextOffset(got int, p Page) int {
	if got < p.Limit || got == 0 {
		return 0
	}
	return p.Offset + got
}
