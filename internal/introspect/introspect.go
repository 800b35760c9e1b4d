// Package introspect resolves opaque bearer tokens to the identity and scope
// behind them, either over the wire via the authorization server's RFC 7662
// endpoint or in process against a shared token store.
package introspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quartzlabs/gatekeeper-mcp/internal/oauth"
	"github.com/quartzlabs/gatekeeper-mcp/internal/tokens"
)

// ErrUnavailable reports that the authorization server could not be reached
// or answered with garbage. Callers must fail closed: an unverifiable token
// grants nothing, but the condition maps to 503, not 401.
var ErrUnavailable = errors.New("introspection unavailable")

// Introspector answers whether a bearer token is active and for whom.
type Introspector interface {
	Introspect(ctx context.Context, token string) (*oauth.Introspection, error)
}

// Remote introspects against the authorization server over HTTP.
type Remote struct {
	endpoint string
	client   *http.Client
}

// NewRemote builds a Remote pointed at the authorization server's base URL.
// The timeout bounds the whole introspection round trip.
func NewRemote(authServerURL string, timeout time.Duration) *Remote {
	return &Remote{
		endpoint: strings.TrimRight(authServerURL, "/") + "/introspect",
		client:   &http.Client{Timeout: timeout},
	}
}

func (r *Remote) Introspect(ctx context.Context, token string) (*oauth.Introspection, error) {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: introspection endpoint returned %d", ErrUnavailable, resp.StatusCode)
	}

	var in oauth.Introspection
	if err := json.NewDecoder(resp.Body).Decode(&in); err != nil {
		return nil, fmt.Errorf("%w: decoding introspection response: %v", ErrUnavailable, err)
	}
	return &in, nil
}

// Local introspects directly against a token store. It exists for
// deployments where both servers share a backend, and for tests.
type Local struct {
	store  tokens.Store
	issuer string
	now    func() time.Time
}

func NewLocal(store tokens.Store, issuer string) *Local {
	return &Local{store: store, issuer: issuer, now: time.Now}
}

func (l *Local) Introspect(ctx context.Context, token string) (*oauth.Introspection, error) {
	record, err := l.store.GetAccessToken(ctx, oauth.HashToken(token))
	if err != nil {
		if errors.Is(err, tokens.ErrNotFound) {
			return &oauth.Introspection{Active: false}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !record.Active(l.now()) {
		return &oauth.Introspection{Active: false}, nil
	}
	return &oauth.Introspection{
		Active:    true,
		Scope:     record.Scope,
		ClientID:  record.ClientID,
		Username:  record.Username,
		TokenType: "Bearer",
		Exp:       record.ExpiresAt.Unix(),
		Iat:       record.CreatedAt.Unix(),
		Sub:       record.Username,
		Iss:       l.issuer,
		JTI:       record.JTI,
	}, nil
}
