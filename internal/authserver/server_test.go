package authserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzlabs/gatekeeper-mcp/internal/config"
	"github.com/quartzlabs/gatekeeper-mcp/internal/credentials"
	"github.com/quartzlabs/gatekeeper-mcp/internal/events"
	"github.com/quartzlabs/gatekeeper-mcp/internal/oauth"
	"github.com/quartzlabs/gatekeeper-mcp/internal/tokens"
)

const (
	testClientID     = "test-client"
	testClientSecret = "test-secret"
	testRedirectURI  = "http://localhost:8082/callback"
)

func testConfig() config.AuthServer {
	return config.AuthServer{
		ListenAddr:      ":0",
		Issuer:          "http://localhost:9000",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 30 * 24 * time.Hour,
		AuthCodeTTL:     10 * time.Minute,
		SessionTTL:      30 * time.Minute,
		SessionSecret:   "test-session-secret-for-tests",
		SupportedScopes: []string{"read", "write", "admin"},
	}
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	creds, err := credentials.LoadSeed("")
	require.NoError(t, err)

	srv := New(testConfig(), creds, tokens.NewMemoryStore(), events.Noop{}, testLogger())
	mux := http.NewServeMux()
	srv.Register(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, ts
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// noRedirectClient returns redirects to the caller instead of following them
// so tests can inspect the Location header.
func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// obtainCode runs the authorize/login leg and returns the code and echoed
// state from the redirect.
func obtainCode(t *testing.T, ts *httptest.Server, username, password, scope, state string) (string, string) {
	t.Helper()
	form := url.Values{
		"client_id":    {testClientID},
		"redirect_uri": {testRedirectURI},
		"scope":        {scope},
		"state":        {state},
		"username":     {username},
		"password":     {password},
	}
	resp, err := noRedirectClient().PostForm(ts.URL+"/login", form)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(loc.String(), testRedirectURI))
	return loc.Query().Get("code"), loc.Query().Get("state")
}

func redeemCode(t *testing.T, ts *httptest.Server, code string) (*http.Response, oauth.TokenResponse) {
	t.Helper()
	resp, err := http.PostForm(ts.URL+"/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	var tr oauth.TokenResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&tr))
	}
	return resp, tr
}

func introspect(t *testing.T, ts *httptest.Server, token string) oauth.Introspection {
	t.Helper()
	resp, err := http.PostForm(ts.URL+"/introspect", url.Values{"token": {token}})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var in oauth.Introspection
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&in))
	return in
}

func TestAuthorizationCodeFlow(t *testing.T) {
	_, ts := newTestServer(t)

	code, state := obtainCode(t, ts, "alice", "password123", "read write", "xyzzy-state")
	require.NotEmpty(t, code)
	assert.Equal(t, "xyzzy-state", state)

	resp, tr := redeemCode(t, ts, code)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, tr.AccessToken)
	assert.NotEmpty(t, tr.RefreshToken)
	assert.Equal(t, "Bearer", tr.TokenType)
	assert.Equal(t, "read write", tr.Scope)
	assert.Equal(t, int(time.Hour.Seconds()), tr.ExpiresIn)

	in := introspect(t, ts, tr.AccessToken)
	assert.True(t, in.Active)
	assert.Equal(t, "alice", in.Username)
	assert.Equal(t, testClientID, in.ClientID)
	assert.Equal(t, "read write", in.Scope)
}

func TestAuthorizeRejectsUnregisteredRedirect(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := noRedirectClient().Get(ts.URL + "/authorize?" + url.Values{
		"response_type": {"code"},
		"client_id":     {testClientID},
		"redirect_uri":  {"http://evil.example/steal"},
	}.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()

	// Must not redirect to the attacker-chosen URI.
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Location"))
}

func TestAuthorizeUnknownClient(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := noRedirectClient().Get(ts.URL + "/authorize?" + url.Values{
		"response_type": {"code"},
		"client_id":     {"no-such-client"},
		"redirect_uri":  {testRedirectURI},
	}.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoginBadPassword(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := noRedirectClient().PostForm(ts.URL+"/login", url.Values{
		"client_id":    {testClientID},
		"redirect_uri": {testRedirectURI},
		"scope":        {"read"},
		"username":     {"alice"},
		"password":     {"wrong"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var oerr oauth.Error
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&oerr))
	assert.Equal(t, oauth.ErrAccessDenied, oerr.Code)
}

func TestLoginScopeExceedsUserGrants(t *testing.T) {
	_, ts := newTestServer(t)

	// bob may only grant "read".
	resp, err := noRedirectClient().PostForm(ts.URL+"/login", url.Values{
		"client_id":    {testClientID},
		"redirect_uri": {testRedirectURI},
		"scope":        {"read write"},
		"username":     {"bob"},
		"password":     {"secret456"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	var oerr oauth.Error
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&oerr))
	assert.Equal(t, oauth.ErrInvalidScope, oerr.Code)
}

func TestSessionSkipsLogin(t *testing.T) {
	_, ts := newTestServer(t)

	form := url.Values{
		"client_id":    {testClientID},
		"redirect_uri": {testRedirectURI},
		"scope":        {"read"},
		"username":     {"alice"},
		"password":     {"password123"},
	}
	resp, err := noRedirectClient().PostForm(ts.URL+"/login", form)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	var session *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == SessionCookie {
			session = c
		}
	}
	require.NotNil(t, session, "login should set a session cookie")

	// Second authorization with the cookie goes straight to the redirect.
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/authorize?"+url.Values{
		"response_type": {"code"},
		"client_id":     {testClientID},
		"redirect_uri":  {testRedirectURI},
		"scope":         {"read"},
		"state":         {"second"},
	}.Encode(), nil)
	require.NoError(t, err)
	req.AddCookie(session)

	resp2, err := noRedirectClient().Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusFound, resp2.StatusCode)

	loc, err := url.Parse(resp2.Header.Get("Location"))
	require.NoError(t, err)
	assert.NotEmpty(t, loc.Query().Get("code"))
	assert.Equal(t, "second", loc.Query().Get("state"))
}

func TestCodeSingleUseAndReplayRevocation(t *testing.T) {
	_, ts := newTestServer(t)

	code, _ := obtainCode(t, ts, "alice", "password123", "read", "")
	resp, tr := redeemCode(t, ts, code)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Second redemption fails...
	resp2, _ := redeemCode(t, ts, code)
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)

	// ...and tears down the tokens issued for the pair.
	in := introspect(t, ts, tr.AccessToken)
	assert.False(t, in.Active, "replay must revoke previously issued tokens")
}

func TestCodeConcurrentRedemption(t *testing.T) {
	_, ts := newTestServer(t)

	code, _ := obtainCode(t, ts, "alice", "password123", "read", "")

	const workers = 8
	statuses := make([]int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, _ := redeemCode(t, ts, code)
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, st := range statuses {
		if st == http.StatusOK {
			successes++
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent redemption may succeed")
}

func TestCodeExpired(t *testing.T) {
	srv, ts := newTestServer(t)

	code, _ := obtainCode(t, ts, "alice", "password123", "read", "")

	srv.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	resp, _ := redeemCode(t, ts, code)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCodeWrongClient(t *testing.T) {
	_, ts := newTestServer(t)

	code, _ := obtainCode(t, ts, "alice", "password123", "read", "")

	resp, err := http.PostForm(ts.URL+"/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"client_id":     {"mcp-resource-server"},
		"client_secret": {"mcp-server-secret"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var oerr oauth.Error
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&oerr))
	assert.Equal(t, oauth.ErrInvalidGrant, oerr.Code)
}

func TestTokenInvalidClientIs401(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.PostForm(ts.URL+"/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {"whatever"},
		"client_id":     {testClientID},
		"client_secret": {"not-the-secret"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var oerr oauth.Error
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&oerr))
	assert.Equal(t, oauth.ErrInvalidClient, oerr.Code)
}

func TestRefreshRotation(t *testing.T) {
	_, ts := newTestServer(t)

	code, _ := obtainCode(t, ts, "alice", "password123", "read write", "")
	resp, tr := redeemCode(t, ts, code)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	refresh := func(token string) (*http.Response, oauth.TokenResponse) {
		resp, err := http.PostForm(ts.URL+"/token", url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {token},
			"client_id":     {testClientID},
			"client_secret": {testClientSecret},
		})
		require.NoError(t, err)
		defer resp.Body.Close()
		var tr oauth.TokenResponse
		if resp.StatusCode == http.StatusOK {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&tr))
		}
		return resp, tr
	}

	resp2, tr2 := refresh(tr.RefreshToken)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, "read write", tr2.Scope)
	assert.NotEqual(t, tr.RefreshToken, tr2.RefreshToken, "refresh token must rotate")
	assert.NotEqual(t, tr.AccessToken, tr2.AccessToken)

	// The spent refresh token is gone.
	resp3, _ := refresh(tr.RefreshToken)
	assert.Equal(t, http.StatusBadRequest, resp3.StatusCode)

	// Rotation cascades to the access token it had minted.
	assert.False(t, introspect(t, ts, tr.AccessToken).Active)
	assert.True(t, introspect(t, ts, tr2.AccessToken).Active)
}

func TestClientCredentialsGrant(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.PostForm(ts.URL+"/token", url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
		"scope":         {"read"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tr oauth.TokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tr))
	assert.NotEmpty(t, tr.AccessToken)
	assert.Empty(t, tr.RefreshToken, "client_credentials issues no refresh token")

	in := introspect(t, ts, tr.AccessToken)
	assert.True(t, in.Active)
	assert.Equal(t, testClientID, in.ClientID)
	assert.Empty(t, in.Username)
}

func TestClientCredentialsScopeExceedsRegistration(t *testing.T) {
	_, ts := newTestServer(t)

	// test-client is registered for read and write only.
	resp, err := http.PostForm(ts.URL+"/token", url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
		"scope":         {"admin"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var oerr oauth.Error
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&oerr))
	assert.Equal(t, oauth.ErrInvalidScope, oerr.Code)
}

func TestUnsupportedGrantType(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.PostForm(ts.URL+"/token", url.Values{
		"grant_type":    {"password"},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var oerr oauth.Error
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&oerr))
	assert.Equal(t, oauth.ErrUnsupportedGrantType, oerr.Code)
}

func TestIntrospectUnknownToken(t *testing.T) {
	_, ts := newTestServer(t)

	in := introspect(t, ts, "never-issued-token")
	assert.False(t, in.Active)
	assert.Empty(t, in.Scope)
	assert.Empty(t, in.Username)
}

func TestIntrospectExpiredAccessToken(t *testing.T) {
	srv, ts := newTestServer(t)

	code, _ := obtainCode(t, ts, "alice", "password123", "read", "")
	resp, tr := redeemCode(t, ts, code)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	srv.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.False(t, introspect(t, ts, tr.AccessToken).Active)
}

func TestRevokeAlwaysSucceeds(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.PostForm(ts.URL+"/revoke", url.Values{"token": {"no-such-token"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRevokeRefreshCascades(t *testing.T) {
	_, ts := newTestServer(t)

	code, _ := obtainCode(t, ts, "alice", "password123", "read", "")
	resp, tr := redeemCode(t, ts, code)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	rv, err := http.PostForm(ts.URL+"/revoke", url.Values{
		"token":           {tr.RefreshToken},
		"token_type_hint": {"refresh_token"},
	})
	require.NoError(t, err)
	rv.Body.Close()
	require.Equal(t, http.StatusOK, rv.StatusCode)

	assert.False(t, introspect(t, ts, tr.RefreshToken).Active)
	assert.False(t, introspect(t, ts, tr.AccessToken).Active, "refresh revocation revokes derived access tokens")
}

func TestRevokeAccessTokenOnly(t *testing.T) {
	_, ts := newTestServer(t)

	code, _ := obtainCode(t, ts, "alice", "password123", "read", "")
	resp, tr := redeemCode(t, ts, code)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	rv, err := http.PostForm(ts.URL+"/revoke", url.Values{"token": {tr.AccessToken}})
	require.NoError(t, err)
	rv.Body.Close()
	require.Equal(t, http.StatusOK, rv.StatusCode)

	assert.False(t, introspect(t, ts, tr.AccessToken).Active)
	assert.True(t, introspect(t, ts, tr.RefreshToken).Active, "access revocation leaves the refresh token alone")
}

func TestMetadata(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/.well-known/oauth-authorization-server")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var md oauth.Metadata
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&md))
	assert.Equal(t, "http://localhost:9000", md.Issuer)
	assert.Equal(t, "http://localhost:9000/token", md.TokenEndpoint)
	assert.Contains(t, md.GrantTypesSupported, "refresh_token")
	assert.Contains(t, md.ScopesSupported, "admin")
}
