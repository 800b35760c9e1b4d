package authserver

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/quartzlabs/gatekeeper-mcp/internal/config"
	"github.com/quartzlabs/gatekeeper-mcp/internal/credentials"
	"github.com/quartzlabs/gatekeeper-mcp/internal/events"
	"github.com/quartzlabs/gatekeeper-mcp/internal/httputil"
	"github.com/quartzlabs/gatekeeper-mcp/internal/logging"
	"github.com/quartzlabs/gatekeeper-mcp/internal/oauth"
	"github.com/quartzlabs/gatekeeper-mcp/internal/tokens"
)

// Server is the OAuth2 authorization server. It owns the authorization-code
// flow, the token grants, introspection, and revocation. Access and refresh
// tokens are opaque random strings; only their SHA-256 hashes are stored.
type Server struct {
	cfg      config.AuthServer
	creds    *credentials.Store
	store    tokens.Store
	sessions *SessionManager
	events   events.Publisher
	log      *slog.Logger

	now func() time.Time
}

// New builds an authorization server over the given credential and token
// stores.
func New(cfg config.AuthServer, creds *credentials.Store, store tokens.Store, pub events.Publisher, log *slog.Logger) *Server {
	if pub == nil {
		pub = events.Noop{}
	}
	return &Server{
		cfg:      cfg,
		creds:    creds,
		store:    store,
		sessions: NewSessionManager(cfg.SessionSecret, cfg.Issuer, cfg.SessionTTL),
		events:   pub,
		log:      log,
		now:      time.Now,
	}
}

// Register attaches all endpoints to the mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/authorize", s.handleAuthorize)
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/token", s.handleToken)
	mux.HandleFunc("/introspect", s.handleIntrospect)
	mux.HandleFunc("/revoke", s.handleRevoke)
	mux.HandleFunc("/.well-known/oauth-authorization-server", s.handleMetadata)
	mux.HandleFunc("/health", s.handleHealth)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "auth-server"})
}

// handleMetadata serves RFC 8414 authorization server metadata.
func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteOAuthError(w, http.StatusMethodNotAllowed, oauth.NewError(oauth.ErrInvalidRequest, "method not allowed"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, oauth.Metadata{
		Issuer:                            s.cfg.Issuer,
		AuthorizationEndpoint:             s.cfg.Issuer + "/authorize",
		TokenEndpoint:                     s.cfg.Issuer + "/token",
		IntrospectionEndpoint:             s.cfg.Issuer + "/introspect",
		RevocationEndpoint:                s.cfg.Issuer + "/revoke",
		ScopesSupported:                   s.cfg.SupportedScopes,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token", "client_credentials"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_post"},
	})
}

// authorizeRequest carries the validated query parameters of an /authorize
// call through the login round trip.
type authorizeRequest struct {
	ClientID    string
	RedirectURI string
	Scope       string
	State       string
}

// validateAuthorize checks the parts of an authorization request that must
// never be resolved by redirecting: an unknown client or an unregistered
// redirect URI gets a direct error, not a redirect to an attacker-chosen
// location.
func (s *Server) validateAuthorize(q url.Values) (*authorizeRequest, *oauth.Error) {
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	if clientID == "" || redirectURI == "" {
		return nil, oauth.NewError(oauth.ErrInvalidRequest, "client_id and redirect_uri are required")
	}
	client, err := s.creds.GetClient(clientID)
	if err != nil {
		return nil, oauth.NewError(oauth.ErrInvalidClient, "unknown client")
	}
	if !client.RedirectAllowed(redirectURI) {
		return nil, oauth.NewError(oauth.ErrInvalidRequest, "redirect_uri is not registered for this client")
	}
	return &authorizeRequest{
		ClientID:    clientID,
		RedirectURI: redirectURI,
		Scope:       oauth.NormalizeScope(q.Get("scope")),
		State:       q.Get("state"),
	}, nil
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteOAuthError(w, http.StatusMethodNotAllowed, oauth.NewError(oauth.ErrInvalidRequest, "method not allowed"))
		return
	}
	log := logging.From(r.Context())

	req, oerr := s.validateAuthorize(r.URL.Query())
	if oerr != nil {
		httputil.WriteOAuthError(w, http.StatusBadRequest, oerr)
		return
	}
	if rt := r.URL.Query().Get("response_type"); rt != "code" {
		httputil.WriteOAuthError(w, http.StatusBadRequest,
			oauth.NewError(oauth.ErrInvalidRequest, "unsupported response_type %q", rt))
		return
	}

	// A valid login session skips the form entirely.
	if username, ok := s.sessions.UserFromRequest(r); ok {
		user, err := s.creds.GetUser(username)
		if err == nil && oauth.ScopesSubset(oauth.ParseScopes(req.Scope), user.GrantedScopes) {
			s.issueCodeAndRedirect(w, r, req, username)
			return
		}
		log.Warn("session user cannot satisfy authorization request",
			slog.String("username", username),
			slog.String("scope", req.Scope))
	}

	s.renderLogin(w, req, "")
}

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head>
  <title>Sign in</title>
  <style>
    body { font-family: sans-serif; max-width: 24em; margin: 4em auto; }
    label { display: block; margin-top: 1em; }
    input { width: 100%; padding: 0.4em; }
    button { margin-top: 1.5em; padding: 0.5em 2em; }
    .error { color: #b00020; }
  </style>
</head>
<body>
  <h1>Sign in</h1>
  <p>Application <strong>{{.ClientID}}</strong> is requesting access{{if .Scope}} to: <code>{{.Scope}}</code>{{end}}.</p>
  {{if .Error}}<p class="error">{{.Error}}</p>{{end}}
  <form method="POST" action="/login">
    <input type="hidden" name="client_id" value="{{.ClientID}}">
    <input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
    <input type="hidden" name="scope" value="{{.Scope}}">
    <input type="hidden" name="state" value="{{.State}}">
    <label>Username <input type="text" name="username" autofocus></label>
    <label>Password <input type="password" name="password"></label>
    <button type="submit">Authorize</button>
  </form>
</body>
</html>
`))

func (s *Server) renderLogin(w http.ResponseWriter, req *authorizeRequest, errMsg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := struct {
		*authorizeRequest
		Error string
	}{req, errMsg}
	if err := loginTemplate.Execute(w, data); err != nil {
		s.log.Error("failed to render login page", slog.String("error", err.Error()))
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		req, oerr := s.validateAuthorize(r.URL.Query())
		if oerr != nil {
			httputil.WriteOAuthError(w, http.StatusBadRequest, oerr)
			return
		}
		s.renderLogin(w, req, "")
	case http.MethodPost:
		s.handleLoginSubmit(w, r)
	default:
		httputil.WriteOAuthError(w, http.StatusMethodNotAllowed, oauth.NewError(oauth.ErrInvalidRequest, "method not allowed"))
	}
}

func (s *Server) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	log := logging.From(r.Context())
	if err := r.ParseForm(); err != nil {
		httputil.WriteOAuthError(w, http.StatusBadRequest, oauth.NewError(oauth.ErrInvalidRequest, "malformed form body"))
		return
	}

	// Re-validate the client parameters: the form round trip is untrusted.
	req, oerr := s.validateAuthorize(r.PostForm)
	if oerr != nil {
		httputil.WriteOAuthError(w, http.StatusBadRequest, oerr)
		return
	}

	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	user, ok := s.creds.VerifyUser(username, password)
	if !ok {
		log.Warn("login failed", slog.String("username", username), slog.String("client_id", req.ClientID))
		httputil.WriteOAuthError(w, http.StatusUnauthorized, oauth.NewError(oauth.ErrAccessDenied, "invalid username or password"))
		return
	}

	if !oauth.ScopesSubset(oauth.ParseScopes(req.Scope), user.GrantedScopes) {
		log.Warn("scope exceeds user grants",
			slog.String("username", username),
			slog.String("requested", req.Scope))
		httputil.WriteOAuthError(w, http.StatusForbidden, oauth.NewError(oauth.ErrInvalidScope, "requested scope exceeds what the user may grant"))
		return
	}

	session, err := s.sessions.Issue(user.Username)
	if err != nil {
		log.Error("failed to issue session", slog.String("error", err.Error()))
		httputil.WriteOAuthError(w, http.StatusInternalServerError, oauth.NewError(oauth.ErrInvalidRequest, "internal error"))
		return
	}
	http.SetCookie(w, s.sessions.CookieFor(session))

	s.issueCodeAndRedirect(w, r, req, user.Username)
}

// issueCodeAndRedirect mints a single-use authorization code bound to the
// client/redirect/scope tuple and sends the user agent back to the client.
// The state parameter is echoed byte for byte.
func (s *Server) issueCodeAndRedirect(w http.ResponseWriter, r *http.Request, req *authorizeRequest, username string) {
	log := logging.From(r.Context())

	code, err := oauth.RandomString(32)
	if err != nil {
		log.Error("failed to generate authorization code", slog.String("error", err.Error()))
		httputil.WriteOAuthError(w, http.StatusInternalServerError, oauth.NewError(oauth.ErrInvalidRequest, "internal error"))
		return
	}

	now := s.now()
	record := &oauth.AuthCode{
		CodeHash:    oauth.HashToken(code),
		ClientID:    req.ClientID,
		Username:    username,
		RedirectURI: req.RedirectURI,
		Scope:       req.Scope,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.AuthCodeTTL),
	}
	if err := s.store.SaveAuthCode(r.Context(), record); err != nil {
		log.Error("failed to store authorization code", slog.String("error", err.Error()))
		httputil.WriteOAuthError(w, http.StatusInternalServerError, oauth.NewError(oauth.ErrInvalidRequest, "internal error"))
		return
	}

	redirect, err := url.Parse(req.RedirectURI)
	if err != nil {
		httputil.WriteOAuthError(w, http.StatusBadRequest, oauth.NewError(oauth.ErrInvalidRequest, "redirect_uri is not a valid URL"))
		return
	}
	q := redirect.Query()
	q.Set("code", code)
	if req.State != "" {
		q.Set("state", req.State)
	}
	redirect.RawQuery = q.Encode()

	log.Info("authorization code issued",
		slog.String("client_id", req.ClientID),
		slog.String("username", username),
		slog.String("scope", req.Scope))
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

// authenticateClient resolves and verifies the caller's client credentials
// from the form body. invalid_client is the one token-endpoint error that
// maps to 401 rather than 400.
func (s *Server) authenticateClient(r *http.Request) (*oauth.Client, *oauth.Error) {
	clientID := r.PostFormValue("client_id")
	clientSecret := r.PostFormValue("client_secret")
	if clientID == "" {
		return nil, oauth.NewError(oauth.ErrInvalidClient, "client_id is required")
	}
	client, ok := s.creds.VerifyClientSecret(clientID, clientSecret)
	if !ok {
		return nil, oauth.NewError(oauth.ErrInvalidClient, "client authentication failed")
	}
	return client, nil
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteOAuthError(w, http.StatusMethodNotAllowed, oauth.NewError(oauth.ErrInvalidRequest, "method not allowed"))
		return
	}
	log := logging.From(r.Context())
	if err := r.ParseForm(); err != nil {
		httputil.WriteOAuthError(w, http.StatusBadRequest, oauth.NewError(oauth.ErrInvalidRequest, "malformed form body"))
		return
	}

	client, oerr := s.authenticateClient(r)
	if oerr != nil {
		log.Warn("client authentication failed at token endpoint",
			slog.String("client_id", r.PostFormValue("client_id")))
		w.Header().Set("WWW-Authenticate", `Basic realm="token"`)
		httputil.WriteOAuthError(w, http.StatusUnauthorized, oerr)
		return
	}

	var (
		resp *oauth.TokenResponse
		err  *oauth.Error
	)
	switch grantType := r.PostFormValue("grant_type"); grantType {
	case "authorization_code":
		resp, err = s.grantAuthorizationCode(r.Context(), client, r)
	case "refresh_token":
		resp, err = s.grantRefreshToken(r.Context(), client, r)
	case "client_credentials":
		resp, err = s.grantClientCredentials(r.Context(), client, r)
	default:
		err = oauth.NewError(oauth.ErrUnsupportedGrantType, "unsupported grant_type %q", grantType)
	}
	if err != nil {
		log.Warn("token request rejected",
			slog.String("client_id", client.ClientID),
			slog.String("grant_type", r.PostFormValue("grant_type")),
			slog.String("error", err.Code))
		httputil.WriteOAuthError(w, http.StatusBadRequest, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// grantAuthorizationCode redeems a single-use authorization code. A replayed
// code is treated as an attack signal: every token ever issued to the same
// client/user pair is revoked before the request is refused.
func (s *Server) grantAuthorizationCode(ctx context.Context, client *oauth.Client, r *http.Request) (*oauth.TokenResponse, *oauth.Error) {
	log := logging.From(ctx)
	code := r.PostFormValue("code")
	if code == "" {
		return nil, oauth.NewError(oauth.ErrInvalidRequest, "code is required")
	}

	record, err := s.store.ConsumeAuthCode(ctx, oauth.HashToken(code))
	if err != nil {
		var replay *tokens.ReplayError
		if errors.As(err, &replay) {
			log.Warn("authorization code replay detected",
				slog.String("client_id", replay.ClientID),
				slog.String("username", replay.Username))
			if revokeErr := s.store.RevokeAllForPair(ctx, replay.ClientID, replay.Username); revokeErr != nil {
				log.Error("failed to revoke tokens after code replay", slog.String("error", revokeErr.Error()))
			}
			s.events.Publish(ctx, events.KindCodeReplayed, replay.ClientID, replay.Username, "")
			return nil, oauth.NewError(oauth.ErrInvalidGrant, "authorization code already redeemed")
		}
		if errors.Is(err, tokens.ErrNotFound) {
			return nil, oauth.NewError(oauth.ErrInvalidGrant, "unknown authorization code")
		}
		log.Error("failed to consume authorization code", slog.String("error", err.Error()))
		return nil, oauth.NewError(oauth.ErrInvalidGrant, "authorization code could not be redeemed")
	}

	now := s.now()
	if now.After(record.ExpiresAt) {
		return nil, oauth.NewError(oauth.ErrInvalidGrant, "authorization code expired")
	}
	if record.ClientID != client.ClientID {
		// Cross-client redemption means the code leaked.
		log.Warn("authorization code presented by wrong client",
			slog.String("issued_to", record.ClientID),
			slog.String("presented_by", client.ClientID))
		return nil, oauth.NewError(oauth.ErrInvalidGrant, "authorization code was issued to another client")
	}
	if record.RedirectURI != r.PostFormValue("redirect_uri") {
		return nil, oauth.NewError(oauth.ErrInvalidGrant, "redirect_uri does not match the authorization request")
	}

	return s.issueTokenPair(ctx, client.ClientID, record.Username, record.Scope)
}

// grantRefreshToken rotates the presented refresh token: the old token and
// the access tokens minted from it are revoked, and a fresh pair with the
// same scope comes back.
func (s *Server) grantRefreshToken(ctx context.Context, client *oauth.Client, r *http.Request) (*oauth.TokenResponse, *oauth.Error) {
	log := logging.From(ctx)
	presented := r.PostFormValue("refresh_token")
	if presented == "" {
		return nil, oauth.NewError(oauth.ErrInvalidRequest, "refresh_token is required")
	}

	hash := oauth.HashToken(presented)
	record, err := s.store.GetRefreshToken(ctx, hash)
	if err != nil {
		if errors.Is(err, tokens.ErrNotFound) {
			return nil, oauth.NewError(oauth.ErrInvalidGrant, "unknown refresh token")
		}
		log.Error("failed to load refresh token", slog.String("error", err.Error()))
		return nil, oauth.NewError(oauth.ErrInvalidGrant, "refresh token could not be verified")
	}
	if !record.Active(s.now()) {
		return nil, oauth.NewError(oauth.ErrInvalidGrant, "refresh token expired or revoked")
	}
	if record.ClientID != client.ClientID {
		return nil, oauth.NewError(oauth.ErrInvalidGrant, "refresh token was issued to another client")
	}

	if err := s.store.RevokeRefreshToken(ctx, hash); err != nil {
		log.Error("failed to rotate refresh token", slog.String("error", err.Error()))
		return nil, oauth.NewError(oauth.ErrInvalidGrant, "refresh token could not be rotated")
	}

	return s.issueTokenPair(ctx, client.ClientID, record.Username, record.Scope)
}

// grantClientCredentials issues an access token to the client itself. No
// refresh token comes with it; the client can always re-authenticate.
func (s *Server) grantClientCredentials(ctx context.Context, client *oauth.Client, r *http.Request) (*oauth.TokenResponse, *oauth.Error) {
	log := logging.From(ctx)
	scope := oauth.NormalizeScope(r.PostFormValue("scope"))
	if !oauth.ScopesSubset(oauth.ParseScopes(scope), client.AllowedScopes) {
		return nil, oauth.NewError(oauth.ErrInvalidScope, "requested scope exceeds the client's registration")
	}
	if scope == "" {
		scope = oauth.JoinScopes(client.AllowedScopes)
	}

	access, accessRecord, err := s.mintAccessToken(client.ClientID, "", scope, "")
	if err != nil {
		log.Error("failed to mint access token", slog.String("error", err.Error()))
		return nil, oauth.NewError(oauth.ErrInvalidRequest, "internal error")
	}
	if err := s.store.SaveAccessToken(ctx, accessRecord); err != nil {
		log.Error("failed to store access token", slog.String("error", err.Error()))
		return nil, oauth.NewError(oauth.ErrInvalidRequest, "internal error")
	}

	s.events.Publish(ctx, events.KindTokenIssued, client.ClientID, "", scope)
	return &oauth.TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.cfg.AccessTokenTTL.Seconds()),
		Scope:       scope,
	}, nil
}

// issueTokenPair mints an access/refresh pair for a user-delegated grant and
// links the access token to the refresh token so refresh revocation can
// cascade.
func (s *Server) issueTokenPair(ctx context.Context, clientID, username, scope string) (*oauth.TokenResponse, *oauth.Error) {
	log := logging.From(ctx)

	refresh, err := oauth.RandomString(32)
	if err != nil {
		log.Error("failed to generate refresh token", slog.String("error", err.Error()))
		return nil, oauth.NewError(oauth.ErrInvalidRequest, "internal error")
	}
	now := s.now()
	refreshRecord := &oauth.RefreshToken{
		TokenHash: oauth.HashToken(refresh),
		ClientID:  clientID,
		Username:  username,
		Scope:     scope,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
	}

	access, accessRecord, err := s.mintAccessToken(clientID, username, scope, refreshRecord.TokenHash)
	if err != nil {
		log.Error("failed to mint access token", slog.String("error", err.Error()))
		return nil, oauth.NewError(oauth.ErrInvalidRequest, "internal error")
	}

	if err := s.store.SaveRefreshToken(ctx, refreshRecord); err != nil {
		log.Error("failed to store refresh token", slog.String("error", err.Error()))
		return nil, oauth.NewError(oauth.ErrInvalidRequest, "internal error")
	}
	if err := s.store.SaveAccessToken(ctx, accessRecord); err != nil {
		log.Error("failed to store access token", slog.String("error", err.Error()))
		return nil, oauth.NewError(oauth.ErrInvalidRequest, "internal error")
	}

	s.events.Publish(ctx, events.KindTokenIssued, clientID, username, scope)
	log.Info("tokens issued",
		slog.String("client_id", clientID),
		slog.String("username", username),
		slog.String("scope", scope))

	return &oauth.TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.cfg.AccessTokenTTL.Seconds()),
		RefreshToken: refresh,
		Scope:        scope,
	}, nil
}

func (s *Server) mintAccessToken(clientID, username, scope, refreshHash string) (string, *oauth.AccessToken, error) {
	access, err := oauth.RandomString(32)
	if err != nil {
		return "", nil, fmt.Errorf("generating access token: %w", err)
	}
	now := s.now()
	return access, &oauth.AccessToken{
		TokenHash:   oauth.HashToken(access),
		JTI:         uuid.New().String(),
		ClientID:    clientID,
		Username:    username,
		Scope:       scope,
		RefreshHash: refreshHash,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.AccessTokenTTL),
	}, nil
}

// handleIntrospect implements RFC 7662. The endpoint always answers 200; a
// token that is unknown, expired, or revoked is simply {"active": false},
// so callers cannot probe which of those it was.
func (s *Server) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteOAuthError(w, http.StatusMethodNotAllowed, oauth.NewError(oauth.ErrInvalidRequest, "method not allowed"))
		return
	}
	if err := r.ParseForm(); err != nil {
		httputil.WriteOAuthError(w, http.StatusBadRequest, oauth.NewError(oauth.ErrInvalidRequest, "malformed form body"))
		return
	}

	token := r.PostFormValue("token")
	if token == "" {
		httputil.WriteOAuthError(w, http.StatusBadRequest, oauth.NewError(oauth.ErrInvalidRequest, "token is required"))
		return
	}

	hash := oauth.HashToken(token)
	now := s.now()

	if record, err := s.store.GetAccessToken(r.Context(), hash); err == nil {
		if !record.Active(now) {
			httputil.WriteJSON(w, http.StatusOK, oauth.Introspection{Active: false})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, oauth.Introspection{
			Active:    true,
			Scope:     record.Scope,
			ClientID:  record.ClientID,
			Username:  record.Username,
			TokenType: "Bearer",
			Exp:       record.ExpiresAt.Unix(),
			Iat:       record.CreatedAt.Unix(),
			Sub:       record.Username,
			Iss:       s.cfg.Issuer,
			JTI:       record.JTI,
		})
		return
	}

	if record, err := s.store.GetRefreshToken(r.Context(), hash); err == nil {
		if !record.Active(now) {
			httputil.WriteJSON(w, http.StatusOK, oauth.Introspection{Active: false})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, oauth.Introspection{
			Active:    true,
			Scope:     record.Scope,
			ClientID:  record.ClientID,
			Username:  record.Username,
			TokenType: "refresh_token",
			Exp:       record.ExpiresAt.Unix(),
			Iat:       record.CreatedAt.Unix(),
			Sub:       record.Username,
			Iss:       s.cfg.Issuer,
		})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, oauth.Introspection{Active: false})
}

// handleRevoke implements RFC 7009. Revocation always reports success, even
// for tokens that never existed; existence must not leak. Revoking a refresh
// token also revokes every access token minted from it.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteOAuthError(w, http.StatusMethodNotAllowed, oauth.NewError(oauth.ErrInvalidRequest, "method not allowed"))
		return
	}
	log := logging.From(r.Context())
	if err := r.ParseForm(); err != nil {
		httputil.WriteOAuthError(w, http.StatusBadRequest, oauth.NewError(oauth.ErrInvalidRequest, "malformed form body"))
		return
	}

	token := r.PostFormValue("token")
	if token == "" {
		httputil.WriteOAuthError(w, http.StatusBadRequest, oauth.NewError(oauth.ErrInvalidRequest, "token is required"))
		return
	}
	hash := oauth.HashToken(token)
	hint := r.PostFormValue("token_type_hint")

	revokeAccess := func() bool {
		record, err := s.store.GetAccessToken(r.Context(), hash)
		if err != nil {
			return false
		}
		if err := s.store.RevokeAccessToken(r.Context(), hash); err != nil {
			log.Error("failed to revoke access token", slog.String("error", err.Error()))
			return false
		}
		s.events.Publish(r.Context(), events.KindTokenRevoked, record.ClientID, record.Username, record.Scope)
		return true
	}
	revokeRefresh := func() bool {
		record, err := s.store.GetRefreshToken(r.Context(), hash)
		if err != nil {
			return false
		}
		if err := s.store.RevokeRefreshToken(r.Context(), hash); err != nil {
			log.Error("failed to revoke refresh token", slog.String("error", err.Error()))
			return false
		}
		s.events.Publish(r.Context(), events.KindTokenRevoked, record.ClientID, record.Username, record.Scope)
		return true
	}

	// The hint only orders the lookups; a wrong hint still revokes.
	if hint == "refresh_token" {
		_ = revokeRefresh() || revokeAccess()
	} else {
		_ = revokeAccess() || revokeRefresh()
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
