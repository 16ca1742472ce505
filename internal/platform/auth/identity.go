package auth

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
)

type Role string

const (
	RoleStudent Role = "student"
	RoleStaff   Role = "staff"
	RoleAdmin   Role = "admin"
)

var ErrInvalidRole = errors.New("invalid role")

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleStudent, RoleStaff, RoleAdmin:
		return r, nil
	default:
		return "", ErrInvalidRole
	}
}

// Identity is the authenticated caller handed to the services.
type Identity struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// IsStaff reports whether the caller may act on other users' borrows.
func (i *Identity) IsStaff() bool {
	return i != nil && (i.Role == RoleStaff || i.Role == RoleAdmin)
}

const CtxIdentityKey = "identity"

// FromGin returns the identity attached by Authenticate, or nil.
func FromGin(c *gin.Context) *Identity {
	v, ok := c.Get(CtxIdentityKey)
	if !ok {
		return nil
	}
	id, _ := v.(*Identity)
	return id
}
