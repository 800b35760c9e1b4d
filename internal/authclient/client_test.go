package authclient

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzlabs/gatekeeper-mcp/internal/authserver"
	"github.com/quartzlabs/gatekeeper-mcp/internal/config"
	"github.com/quartzlabs/gatekeeper-mcp/internal/credentials"
	"github.com/quartzlabs/gatekeeper-mcp/internal/events"
	"github.com/quartzlabs/gatekeeper-mcp/internal/introspect"
	"github.com/quartzlabs/gatekeeper-mcp/internal/oauth"
	"github.com/quartzlabs/gatekeeper-mcp/internal/resource"
	"github.com/quartzlabs/gatekeeper-mcp/internal/tokens"
)

// testStack runs both servers over one shared token store and returns a
// client pointed at them.
func testStack(t *testing.T) (*Client, tokens.Store) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := tokens.NewMemoryStore()

	creds, err := credentials.LoadSeed("")
	require.NoError(t, err)

	authCfg := config.AuthServer{
		Issuer:          "http://localhost:9000",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 30 * 24 * time.Hour,
		AuthCodeTTL:     10 * time.Minute,
		SessionTTL:      30 * time.Minute,
		SessionSecret:   "test-session-secret",
		SupportedScopes: []string{"read", "write", "admin"},
	}
	authMux := http.NewServeMux()
	authserver.New(authCfg, creds, store, events.Noop{}, log).Register(authMux)
	authTS := httptest.NewServer(authMux)
	t.Cleanup(authTS.Close)

	resCfg := config.ResourceServer{AuthServerURL: authTS.URL}
	resMux := http.NewServeMux()
	resource.New(resCfg, introspect.NewLocal(store, authTS.URL), log).Register(resMux)
	resTS := httptest.NewServer(resMux)
	t.Cleanup(resTS.Close)

	client := New(Config{
		AuthServerURL:     authTS.URL,
		ResourceServerURL: resTS.URL,
		ClientID:          "test-client",
		ClientSecret:      "test-secret",
		RedirectURI:       "http://localhost:8082/callback",
		Scope:             "read write",
	}, log)
	return client, store
}

func TestAuthenticateAndCallTool(t *testing.T) {
	client, _ := testStack(t)
	ctx := context.Background()

	require.Equal(t, StateUnauthenticated, client.State())
	require.NoError(t, client.Authenticate(ctx, "alice", "password123"))
	assert.Equal(t, StateAuthorized, client.State())

	result, err := client.CallTool(ctx, "get_user_profile", nil)
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "alice")
}

func TestAuthenticateBadPassword(t *testing.T) {
	client, _ := testStack(t)

	err := client.Authenticate(context.Background(), "alice", "wrong")
	require.Error(t, err)
	assert.Equal(t, StateAwaitingCode, client.State())
}

func TestCallToolBeforeAuthorization(t *testing.T) {
	client, _ := testStack(t)

	_, err := client.CallTool(context.Background(), "get_user_profile", nil)
	assert.Error(t, err)
}

func TestCallbackStateMismatchFailsClosed(t *testing.T) {
	client, _ := testStack(t)
	ctx := context.Background()

	_, err := client.AuthorizationURL()
	require.NoError(t, err)

	err = client.HandleCallback(ctx, "some-code", "forged-state")
	require.Error(t, err)
	assert.Equal(t, StateUnauthenticated, client.State())

	// The nonce is spent; even the right state cannot resurrect the flow.
	client.mu.Lock()
	assert.Empty(t, client.pendingState)
	client.mu.Unlock()
}

func TestRefreshRotatesTokens(t *testing.T) {
	client, _ := testStack(t)
	ctx := context.Background()

	require.NoError(t, client.Authenticate(ctx, "alice", "password123"))

	client.mu.Lock()
	firstAccess := client.accessToken
	firstRefresh := client.refreshToken
	client.mu.Unlock()

	require.NoError(t, client.Refresh(ctx))
	assert.Equal(t, StateAuthorized, client.State())

	client.mu.Lock()
	assert.NotEqual(t, firstAccess, client.accessToken)
	assert.NotEqual(t, firstRefresh, client.refreshToken)
	client.mu.Unlock()
}

func TestCallToolRetriesOnceAfterRevocation(t *testing.T) {
	client, store := testStack(t)
	ctx := context.Background()

	require.NoError(t, client.Authenticate(ctx, "alice", "password123"))

	// Kill the access token server-side; the refresh token stays live.
	client.mu.Lock()
	access := client.accessToken
	client.mu.Unlock()
	require.NoError(t, store.RevokeAccessToken(ctx, oauth.HashToken(access)))

	result, err := client.CallTool(ctx, "get_user_profile", nil)
	require.NoError(t, err, "a single refresh retry should recover")
	assert.False(t, result.IsError)
}

func TestExpiredStateTriggersRefresh(t *testing.T) {
	client, _ := testStack(t)
	ctx := context.Background()

	require.NoError(t, client.Authenticate(ctx, "alice", "password123"))

	client.mu.Lock()
	client.expiresAt = time.Now().Add(-time.Minute)
	client.mu.Unlock()
	require.Equal(t, StateExpired, client.State())

	_, err := client.CallTool(ctx, "get_user_profile", nil)
	require.NoError(t, err)
	assert.Equal(t, StateAuthorized, client.State())
}
