package oauth

import "time"

// Client represents a registered client application.
type Client struct {
	ClientID         string
	ClientSecretHash string
	RedirectURIs     []string
	AllowedScopes    []string
	ClientName       string
	CreatedAt        time.Time
}

// RedirectAllowed reports whether uri exactly matches a registered redirect URI.
func (c *Client) RedirectAllowed(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// User represents a provisioned user account.
type User struct {
	Username      string
	PasswordHash  string
	Email         string
	GrantedScopes []string
}

// AuthCode is a single-use authorization code record, keyed by the SHA-256
// hash of the opaque code.
type AuthCode struct {
	CodeHash    string
	ClientID    string
	RedirectURI string
	Username    string
	Scope       string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// AccessToken is an opaque access token record, keyed by token hash.
type AccessToken struct {
	TokenHash   string
	JTI         string
	ClientID    string
	Username    string
	Scope       string
	RefreshHash string // hash of the refresh token this was issued from, if any
	CreatedAt   time.Time
	ExpiresAt   time.Time
	RevokedAt   *time.Time
}

// Active reports whether the token is neither revoked nor expired at now.
func (t *AccessToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// RefreshToken is an opaque refresh token record, keyed by token hash.
type RefreshToken struct {
	TokenHash string
	ClientID  string
	Username  string
	Scope     string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Active reports whether the token is neither revoked nor expired at now.
func (t *RefreshToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// TokenResponse is the RFC 6749 token endpoint success body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
}

// Introspection is the RFC 7662 introspection response body. Inactive tokens
// carry Active=false and nothing else.
type Introspection struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	Sub       string `json:"sub,omitempty"`
	Iss       string `json:"iss,omitempty"`
	JTI       string `json:"jti,omitempty"`
}

// Metadata is the RFC 8414 authorization server metadata document.
type Metadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
}
