// Package tokens persists live authorization codes, access tokens and
// refresh tokens, keyed by the SHA-256 hash of the opaque credential. The
// authorization server is the only writer.
package tokens

import (
	"context"
	"errors"
	"fmt"

	"github.com/quartzlabs/gatekeeper-mcp/internal/oauth"
)

// ErrNotFound is returned when no live record exists for a hash.
var ErrNotFound = errors.New("tokens: not found")

// ReplayError reports redemption of an authorization code that was already
// consumed. The pair identifies whose tokens to revoke defensively.
type ReplayError struct {
	ClientID string
	Username string
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("tokens: code already consumed (client=%s user=%s)", e.ClientID, e.Username)
}

// Store is the token persistence contract. Implementations must be safe for
// concurrent use, and ConsumeAuthCode must be a single atomic
// check-and-delete: of N concurrent redeemers for one code, exactly one
// receives the record.
type Store interface {
	// SaveAuthCode stores a pending authorization code.
	SaveAuthCode(ctx context.Context, code *oauth.AuthCode) error

	// ConsumeAuthCode atomically fetches and deletes a code. A consumed-code
	// tombstone is kept for the code's original lifetime; redeeming through a
	// tombstone returns a *ReplayError so the caller can treat it as a
	// security event rather than a plain miss.
	ConsumeAuthCode(ctx context.Context, codeHash string) (*oauth.AuthCode, error)

	SaveAccessToken(ctx context.Context, token *oauth.AccessToken) error
	GetAccessToken(ctx context.Context, tokenHash string) (*oauth.AccessToken, error)

	SaveRefreshToken(ctx context.Context, token *oauth.RefreshToken) error
	GetRefreshToken(ctx context.Context, tokenHash string) (*oauth.RefreshToken, error)

	// RevokeAccessToken marks one access token revoked. Unknown hashes are a
	// no-op; revocation never discloses token existence.
	RevokeAccessToken(ctx context.Context, tokenHash string) error

	// RevokeRefreshToken marks a refresh token revoked and cascades to the
	// access tokens issued from it.
	RevokeRefreshToken(ctx context.Context, tokenHash string) error

	// RevokeAllForPair revokes every live token bound to a client/user pair.
	// Used as the defensive response to authorization-code replay.
	RevokeAllForPair(ctx context.Context, clientID, username string) error

	Close() error
}
