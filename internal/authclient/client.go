// Package authclient drives the authorization-code flow from the client
// side: it obtains, refreshes, and spends tokens against the resource
// server, tracking where in the flow it stands.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/quartzlabs/gatekeeper-mcp/internal/oauth"
	"github.com/quartzlabs/gatekeeper-mcp/pkg/mcp"
)

// State is where the client stands in the authorization flow.
type State int

const (
	// StateUnauthenticated means no flow has started and no tokens are held.
	StateUnauthenticated State = iota
	// StateAwaitingCode means an authorization URL was handed out and the
	// callback has not fired yet.
	StateAwaitingCode
	// StateAuthorized means a live access token is held.
	StateAuthorized
	// StateExpired means the access token aged out; a refresh is due.
	StateExpired
	// StateRefreshing means a refresh exchange is in flight.
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAwaitingCode:
		return "awaiting_code"
	case StateAuthorized:
		return "authorized"
	case StateExpired:
		return "expired"
	case StateRefreshing:
		return "refreshing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config identifies this client to the authorization server.
type Config struct {
	AuthServerURL     string
	ResourceServerURL string
	ClientID          string
	ClientSecret      string
	RedirectURI       string
	Scope             string
}

// Client is a stateful OAuth2 client. All methods are safe for concurrent
// use; the mutex guards the state machine and the token pair.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger

	mu           sync.Mutex
	state        State
	pendingState string
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

// New builds a client in StateUnauthenticated.
func New(cfg Config, log *slog.Logger) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 10 * time.Second},
		log:  log,
	}
}

// State reports the current flow state, surfacing expiry lazily.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Client) stateLocked() State {
	if c.state == StateAuthorized && !c.expiresAt.IsZero() && time.Now().After(c.expiresAt) {
		c.state = StateExpired
	}
	return c.state
}

// AuthorizationURL starts a flow: it mints a fresh CSRF state nonce and
// returns the URL the user agent must visit. Any previously pending flow is
// abandoned.
func (c *Client) AuthorizationURL() (string, error) {
	nonce, err := oauth.RandomString(16)
	if err != nil {
		return "", fmt.Errorf("generating state nonce: %w", err)
	}

	c.mu.Lock()
	c.pendingState = nonce
	c.state = StateAwaitingCode
	c.mu.Unlock()

	q := url.Values{
		"response_type": {"code"},
		"client_id":     {c.cfg.ClientID},
		"redirect_uri":  {c.cfg.RedirectURI},
		"scope":         {c.cfg.Scope},
		"state":         {nonce},
	}
	return c.cfg.AuthServerURL + "/authorize?" + q.Encode(), nil
}

// HandleCallback consumes the redirect back from the authorization server.
// The echoed state must match the pending nonce exactly; on any mismatch the
// flow is torn down rather than left open for a second try with the same
// nonce.
func (c *Client) HandleCallback(ctx context.Context, code, state string) error {
	c.mu.Lock()
	pending := c.pendingState
	c.pendingState = ""
	if c.state != StateAwaitingCode {
		c.state = StateUnauthenticated
		c.mu.Unlock()
		return fmt.Errorf("no authorization flow in progress")
	}
	if pending == "" || !oauth.ConstantTimeEquals(pending, state) {
		c.state = StateUnauthenticated
		c.mu.Unlock()
		c.log.Warn("state parameter mismatch on callback; possible CSRF")
		return fmt.Errorf("state parameter mismatch")
	}
	c.mu.Unlock()

	tr, err := c.exchange(ctx, url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {c.cfg.RedirectURI},
	})
	if err != nil {
		c.mu.Lock()
		c.state = StateUnauthenticated
		c.mu.Unlock()
		return err
	}

	c.adopt(tr)
	return nil
}

// Refresh exchanges the refresh token for a new pair. The server rotates the
// refresh token, so the stored one is replaced too.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	refresh := c.refreshToken
	if refresh == "" {
		c.mu.Unlock()
		return fmt.Errorf("no refresh token held")
	}
	c.state = StateRefreshing
	c.mu.Unlock()

	tr, err := c.exchange(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refresh},
	})
	if err != nil {
		c.mu.Lock()
		// The server may have revoked everything; start over.
		c.state = StateUnauthenticated
		c.accessToken = ""
		c.refreshToken = ""
		c.mu.Unlock()
		return err
	}

	c.adopt(tr)
	return nil
}

func (c *Client) adopt(tr *oauth.TokenResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = tr.AccessToken
	if tr.RefreshToken != "" {
		c.refreshToken = tr.RefreshToken
	}
	c.expiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	c.state = StateAuthorized
}

// exchange posts to the token endpoint with client credentials attached.
func (c *Client) exchange(ctx context.Context, form url.Values) (*oauth.TokenResponse, error) {
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthServerURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var oerr oauth.Error
		if decodeErr := json.NewDecoder(resp.Body).Decode(&oerr); decodeErr == nil && oerr.Code != "" {
			return nil, &oerr
		}
		return nil, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var tr oauth.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	return &tr, nil
}

// Authenticate drives the full authorization-code flow headlessly by
// submitting the login form the way a browser would. It exists for demos and
// tests; interactive clients use AuthorizationURL and HandleCallback.
func (c *Client) Authenticate(ctx context.Context, username, password string) error {
	if _, err := c.AuthorizationURL(); err != nil {
		return err
	}
	c.mu.Lock()
	nonce := c.pendingState
	c.mu.Unlock()

	form := url.Values{
		"client_id":    {c.cfg.ClientID},
		"redirect_uri": {c.cfg.RedirectURI},
		"scope":        {c.cfg.Scope},
		"state":        {nonce},
		"username":     {username},
		"password":     {password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthServerURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	noRedirect := &http.Client{
		Timeout: c.http.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := noRedirect.Do(req)
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		var oerr oauth.Error
		if decodeErr := json.NewDecoder(resp.Body).Decode(&oerr); decodeErr == nil && oerr.Code != "" {
			return &oerr
		}
		return fmt.Errorf("login returned %d", resp.StatusCode)
	}

	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		return fmt.Errorf("parsing redirect location: %w", err)
	}
	return c.HandleCallback(ctx, loc.Query().Get("code"), loc.Query().Get("state"))
}

// CallTool invokes a resource-server tool with the held access token. On a
// 401 the client refreshes once and retries; a second 401 is returned to the
// caller, never looped on.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.ToolResult, error) {
	c.mu.Lock()
	if s := c.stateLocked(); s != StateAuthorized && s != StateExpired {
		c.mu.Unlock()
		return nil, fmt.Errorf("not authorized (state %s)", s)
	}
	expired := c.stateLocked() == StateExpired
	c.mu.Unlock()

	if expired {
		if err := c.Refresh(ctx); err != nil {
			return nil, fmt.Errorf("refreshing expired token: %w", err)
		}
	}

	result, status, err := c.callToolOnce(ctx, name, args)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		c.log.Info("access token rejected; refreshing once", slog.String("tool", name))
		if err := c.Refresh(ctx); err != nil {
			return nil, fmt.Errorf("refreshing rejected token: %w", err)
		}
		result, status, err = c.callToolOnce(ctx, name, args)
		if err != nil {
			return nil, err
		}
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("tool call returned %d", status)
	}
	return result, nil
}

func (c *Client) callToolOnce(ctx context.Context, name string, args map[string]any) (*mcp.ToolResult, int, error) {
	c.mu.Lock()
	token := c.accessToken
	c.mu.Unlock()

	body, err := json.Marshal(mcp.ToolCall{Name: name, Arguments: args})
	if err != nil {
		return nil, 0, fmt.Errorf("encoding tool call: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ResourceServerURL+"/tools/call", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("building tool request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("tool request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}
	var result mcp.ToolResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decoding tool result: %w", err)
	}
	return &result, resp.StatusCode, nil
}
