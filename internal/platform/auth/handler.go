package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct{ svc AccountService }

// RegisterRoutes mounts login and registration publicly and the account
// management routes behind the given admin guards.
func RegisterRoutes(r gin.IRoutes, svc AccountService, admin ...gin.HandlerFunc) {
	h := &AuthHandler{svc: svc}
	r.POST("/login", h.Login)
	r.POST("/register", h.Register)
	r.PATCH("/accounts/:id/role", chain(admin, h.ChangeRole)...)
	r.DELETE("/accounts/:id", chain(admin, h.DeleteAccount)...)
}

func chain(guards []gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(guards)+1)
	out = append(out, guards...)
	return append(out, h)
}

type LoginRequest struct {
	ID       string `json:"id" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeErr(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{"error": errorBody{Code: code, Message: msg}})
}

// Login godoc
// @Summary  Issue a token for a local account
// @Tags     auth
// @Accept   json
// @Produce  json
// @Param    body body LoginRequest true "credentials"
// @Success  200 {object} map[string]string
// @Failure  401 {object} map[string]any
// @Router   /login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, http.StatusBadRequest, "INVALID_ARGUMENT", "Invalid request")
		return
	}

	token, err := h.svc.Login(c.Request.Context(), req.ID, req.Password)
	if err != nil {
		if errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrDisabled) {
			writeErr(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid id or password")
			return
		}
		writeErr(c, http.StatusInternalServerError, "INTERNAL", "login failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":   token,
		"message": "Login successful",
	})
}

type RegisterRequest struct {
	ID       string `json:"id" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, http.StatusBadRequest, "INVALID_ARGUMENT", "Invalid request")
		return
	}

	if err := h.svc.Register(c.Request.Context(), req.ID, req.Password); err != nil {
		switch {
		case errors.Is(err, ErrAlreadyExists):
			writeErr(c, http.StatusConflict, "CONFLICT", "ID already exists")
		case errors.Is(err, ErrInvalidAccount):
			writeErr(c, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		default:
			writeErr(c, http.StatusInternalServerError, "INTERNAL", "register failed")
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "registered"})
}

type ChangeRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

func (h *AuthHandler) ChangeRole(c *gin.Context) {
	var req ChangeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, http.StatusBadRequest, "INVALID_ARGUMENT", "Invalid request")
		return
	}
	role, err := ParseRole(req.Role)
	if err != nil {
		writeErr(c, http.StatusBadRequest, "INVALID_ARGUMENT", "role must be student, staff or admin")
		return
	}

	if err := h.svc.ChangeRole(c.Request.Context(), c.Param("id"), role); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeErr(c, http.StatusNotFound, "NOT_FOUND", "not found")
			return
		}
		writeErr(c, http.StatusInternalServerError, "INTERNAL", "change role failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "role changed", "role": role})
}

func (h *AuthHandler) DeleteAccount(c *gin.Context) {
	id := c.Param("id")

	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeErr(c, http.StatusNotFound, "NOT_FOUND", "not found")
			return
		}
		writeErr(c, http.StatusInternalServerError, "INTERNAL", "delete failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}
