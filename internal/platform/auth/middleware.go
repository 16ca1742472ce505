package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Authenticate attaches the caller's identity when the request carries a
// valid bearer token. It never aborts; RequireAuth or the services decide
// what an anonymous caller may do.
func Authenticate(res Resolver, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.Next()
			return
		}

		id, err := res.Resolve(c.Request.Context(), token)
		switch {
		case err == nil:
			c.Set(CtxIdentityKey, id)
		case errors.Is(err, ErrInvalidToken):
			logger.Debug("rejected bearer token", zap.String("path", c.Request.URL.Path))
		default:
			logger.Warn("identity lookup failed", zap.Error(err))
		}
		c.Next()
	}
}

// RequireAuth aborts with 401 unless Authenticate attached an identity.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if FromGin(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"code": "UNAUTHORIZED", "message": "Unauthorized"},
			})
			return
		}
		c.Next()
	}
}

// RequireRole: 例) admin のみ許可したい時に追加
func RequireRole(roles ...Role) gin.HandlerFunc {
	roleSet := make(map[Role]struct{})
	for _, r := range roles {
		if r == "" {
			continue
		}
		roleSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		id := FromGin(c)
		if id == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"code": "UNAUTHORIZED", "message": "Unauthorized"},
			})
			return
		}

		if _, allowed := roleSet[id.Role]; !allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{"code": "FORBIDDEN", "message": "forbidden"},
			})
			return
		}

		c.Next()
	}
}

func bearerToken(h string) (string, bool) {
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	tok := strings.TrimSpace(parts[1])
	return tok, tok != ""
}
