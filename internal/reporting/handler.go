package reporting

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct{ svc *Service }

// RegisterRoutes mounts the report downloads behind the given guards.
func RegisterRoutes(r gin.IRoutes, svc *Service, guards ...gin.HandlerFunc) {
	h := &Handler{svc: svc}
	handlers := append(append([]gin.HandlerFunc{}, guards...), h.ExportBorrowsCSV)
	r.GET("/reports/borrows.csv", handlers...)
}

// ExportBorrowsCSV godoc
// @Summary  Download the ledger of active borrows as CSV
// @Tags     reports
// @Produce  text/csv
// @Param    encoding query string false "utf-8 (default) or shift_jis"
// @Param    overdue  query bool   false "only overdue receipts"
// @Success  200 {file} file
// @Router   /reports/borrows.csv [get]
func (h *Handler) ExportBorrowsCSV(c *gin.Context) {
	enc, err := ParseEncoding(c.Query("encoding"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "INVALID_ARGUMENT", "message": err.Error()}})
		return
	}
	overdue, _ := strconv.ParseBool(c.Query("overdue"))

	rows, err := h.svc.Ledger(c.Request.Context(), overdue)
	if err != nil {
		h.svc.logger.Error("ledger export failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": "INTERNAL", "message": "export failed"}})
		return
	}

	// 途中で失敗したら 500 を返せるようにバッファしてから送る
	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows, enc); err != nil {
		h.svc.logger.Error("write csv", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": "INTERNAL", "message": "export failed"}})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="borrows.csv"`)
	c.Data(http.StatusOK, "text/csv; charset="+string(enc), buf.Bytes())
}
