package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"toollend-backend/internal/platform/config"
)

// RemoteResolver asks the hosted auth backend who owns a token.
type RemoteResolver struct {
	httpClient *resty.Client
}

func NewRemoteResolver(cfg config.AuthConfig) *RemoteResolver {
	base := strings.TrimSuffix(cfg.BaseURL, "/")

	restyClient := resty.New()
	restyClient.
		SetBaseURL(base).
		SetHeader("apikey", cfg.APIKey).
		SetHeader("Accept", "application/json").
		SetTimeout(10 * time.Second)

	return &RemoteResolver{httpClient: restyClient}
}

type remoteUser struct {
	ID          string `json:"id"`
	AppMetadata struct {
		Role string `json:"role"`
	} `json:"app_metadata"`
}

type remoteError struct {
	Message string `json:"msg"`
	Code    int    `json:"code"`
}

func (r *RemoteResolver) Resolve(ctx context.Context, token string) (*Identity, error) {
	user := new(remoteUser)
	apiErr := new(remoteError)

	resp, err := r.httpClient.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(user).
		SetError(apiErr).
		Get("/auth/v1/user")
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return nil, ErrInvalidToken
	case code >= http.StatusBadRequest:
		return nil, fmt.Errorf("auth api error: status=%d, message=%s", code, apiErr.Message)
	}

	if user.ID == "" {
		return nil, ErrInvalidToken
	}
	role := RoleStudent
	if user.AppMetadata.Role != "" {
		if role, err = ParseRole(user.AppMetadata.Role); err != nil {
			return nil, ErrInvalidToken
		}
	}
	return &Identity{UserID: user.ID, Role: role}, nil
}
