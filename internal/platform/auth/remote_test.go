package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toollend-backend/internal/platform/auth"
	"toollend-backend/internal/platform/config"
)

func Test_RemoteResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/user", r.URL.Path)
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))

		w.Header().Set("Content-Type", "application/json")
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			_, _ = w.Write([]byte(`{"id":"u-abcd","app_metadata":{"role":"staff"}}`))
		case "Bearer plain":
			_, _ = w.Write([]byte(`{"id":"u-wxyz","app_metadata":{}}`))
		case "Bearer broken":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"msg":"upstream down","code":502}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"msg":"invalid JWT","code":401}`))
		}
	}))
	defer srv.Close()

	r := auth.NewRemoteResolver(config.AuthConfig{BaseURL: srv.URL + "/", APIKey: "anon-key"})
	ctx := context.Background()

	id, err := r.Resolve(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, &auth.Identity{UserID: "u-abcd", Role: auth.RoleStaff}, id)

	id, err = r.Resolve(ctx, "plain")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleStudent, id.Role)

	_, err = r.Resolve(ctx, "bad")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = r.Resolve(ctx, "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, auth.ErrInvalidToken)
	assert.Contains(t, err.Error(), "upstream down")
}
