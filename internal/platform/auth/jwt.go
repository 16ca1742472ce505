package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Resolver turns a bearer token into the caller's identity.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*Identity, error)
}

// JWTResolver verifies and issues HS256 tokens signed with a shared secret.
type JWTResolver struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewJWTResolver(secret []byte, ttl time.Duration) *JWTResolver {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTResolver{secret: secret, ttl: ttl, now: time.Now}
}

func (r *JWTResolver) Issue(userID string, role Role) (string, error) {
	now := r.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  userID,
		"role": string(role),
		"iat":  now.Unix(),
		"exp":  now.Add(r.ttl).Unix(),
	})
	s, err := token.SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

func (r *JWTResolver) Resolve(_ context.Context, tokenStr string) (*Identity, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		// alg 固定 (none 攻撃の回避)
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return r.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(r.now),
	)
	if err != nil || token == nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, ErrInvalidToken
	}

	role := RoleStudent
	if raw, ok := claims["role"].(string); ok && raw != "" {
		if role, err = ParseRole(raw); err != nil {
			return nil, ErrInvalidToken
		}
	}
	return &Identity{UserID: sub, Role: role}, nil
}
