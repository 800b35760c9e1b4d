// Package credentials holds the registered client applications and user
// accounts the authorization server authenticates against. The store is
// read-mostly: seeded once at startup, then only read by the authorize and
// token endpoints.
package credentials

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/quartzlabs/gatekeeper-mcp/internal/oauth"
)

// ErrNotFound is returned for unknown client ids and usernames.
var ErrNotFound = fmt.Errorf("credentials: not found")

// Store is an in-memory registry of clients and users.
type Store struct {
	mu      sync.RWMutex
	clients map[string]*oauth.Client
	users   map[string]*oauth.User
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		clients: make(map[string]*oauth.Client),
		users:   make(map[string]*oauth.User),
	}
}

// AddClient registers a client application. The plaintext secret is bcrypt
// hashed before storage.
func (s *Store) AddClient(clientID, secret string, redirectURIs, allowedScopes []string, name string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing client secret: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[clientID] = &oauth.Client{
		ClientID:         clientID,
		ClientSecretHash: string(hash),
		RedirectURIs:     redirectURIs,
		AllowedScopes:    allowedScopes,
		ClientName:       name,
	}
	return nil
}

// AddUser provisions a user account with its granted scope ceiling.
func (s *Store) AddUser(username, password, email string, grantedScopes []string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = &oauth.User{
		Username:      username,
		PasswordHash:  string(hash),
		Email:         email,
		GrantedScopes: grantedScopes,
	}
	return nil
}

// GetClient fetches a client by id.
func (s *Store) GetClient(clientID string) (*oauth.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	client, ok := s.clients[clientID]
	if !ok {
		return nil, ErrNotFound
	}
	return client, nil
}

// GetUser fetches a user by username.
func (s *Store) GetUser(username string) (*oauth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	return user, nil
}

// VerifyClientSecret authenticates a client credential pair. Unknown clients
// and bad secrets both return false; the caller maps either to invalid_client.
func (s *Store) VerifyClientSecret(clientID, secret string) (*oauth.Client, bool) {
	client, err := s.GetClient(clientID)
	if err != nil {
		// Burn a comparison anyway so unknown ids cost the same as bad secrets.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(secret))
		return nil, false
	}
	if bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(secret)) != nil {
		return nil, false
	}
	return client, true
}

// VerifyUser authenticates a username/password pair.
func (s *Store) VerifyUser(username, password string) (*oauth.User, bool) {
	user, err := s.GetUser(username)
	if err != nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, false
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, false
	}
	return user, true
}

// dummyHash is a valid bcrypt hash of an unguessable value, used to keep
// verification timing uniform for unknown principals.
var dummyHash = func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("gatekeeper-dummy"), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return h
}()
