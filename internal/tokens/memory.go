package tokens

import (
	"context"
	"sync"
	"time"

	"github.com/quartzlabs/gatekeeper-mcp/internal/oauth"
)

// consumedCode is the tombstone left behind by a successful redemption.
type consumedCode struct {
	clientID  string
	username  string
	expiresAt time.Time
}

// MemoryStore is the default in-process Store. All maps are guarded by one
// RWMutex; records are reaped lazily on access.
type MemoryStore struct {
	mu            sync.RWMutex
	authCodes     map[string]*oauth.AuthCode
	consumedCodes map[string]consumedCode
	accessTokens  map[string]*oauth.AccessToken
	refreshTokens map[string]*oauth.RefreshToken

	now func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		authCodes:     make(map[string]*oauth.AuthCode),
		consumedCodes: make(map[string]consumedCode),
		accessTokens:  make(map[string]*oauth.AccessToken),
		refreshTokens: make(map[string]*oauth.RefreshToken),
		now:           time.Now,
	}
}

func (s *MemoryStore) SaveAuthCode(_ context.Context, code *oauth.AuthCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *code
	s.authCodes[code.CodeHash] = &cp
	return nil
}

// ConsumeAuthCode is the single atomic check-and-delete the code grant
// depends on: lookup, delete and tombstone insert all happen under one
// critical section.
func (s *MemoryStore) ConsumeAuthCode(_ context.Context, codeHash string) (*oauth.AuthCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tomb, ok := s.consumedCodes[codeHash]; ok {
		if s.now().Before(tomb.expiresAt) {
			return nil, &ReplayError{ClientID: tomb.clientID, Username: tomb.username}
		}
		delete(s.consumedCodes, codeHash)
	}

	code, ok := s.authCodes[codeHash]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.authCodes, codeHash)
	s.consumedCodes[codeHash] = consumedCode{
		clientID:  code.ClientID,
		username:  code.Username,
		expiresAt: code.ExpiresAt,
	}

	cp := *code
	return &cp, nil
}

func (s *MemoryStore) SaveAccessToken(_ context.Context, token *oauth.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *token
	s.accessTokens[token.TokenHash] = &cp
	return nil
}

func (s *MemoryStore) GetAccessToken(_ context.Context, tokenHash string) (*oauth.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.accessTokens[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *token
	return &cp, nil
}

func (s *MemoryStore) SaveRefreshToken(_ context.Context, token *oauth.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *token
	s.refreshTokens[token.TokenHash] = &cp
	return nil
}

func (s *MemoryStore) GetRefreshToken(_ context.Context, tokenHash string) (*oauth.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.refreshTokens[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *token
	return &cp, nil
}

func (s *MemoryStore) RevokeAccessToken(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeAccessLocked(tokenHash)
	return nil
}

func (s *MemoryStore) RevokeRefreshToken(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token, ok := s.refreshTokens[tokenHash]; ok && token.RevokedAt == nil {
		now := s.now()
		token.RevokedAt = &now
	}
	// Cascade: access tokens minted from this refresh token die with it.
	for hash, token := range s.accessTokens {
		if token.RefreshHash == tokenHash {
			s.revokeAccessLocked(hash)
		}
	}
	return nil
}

func (s *MemoryStore) RevokeAllForPair(_ context.Context, clientID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for hash, token := range s.accessTokens {
		if token.ClientID == clientID && token.Username == username {
			s.revokeAccessLocked(hash)
		}
	}
	for _, token := range s.refreshTokens {
		if token.ClientID == clientID && token.Username == username && token.RevokedAt == nil {
			token.RevokedAt = &now
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) revokeAccessLocked(tokenHash string) {
	if token, ok := s.accessTokens[tokenHash]; ok && token.RevokedAt == nil {
		now := s.now()
		token.RevokedAt = &now
	}
}
