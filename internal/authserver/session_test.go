package authserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRoundTrip(t *testing.T) {
	m := NewSessionManager("session-secret", "http://localhost:9000", 30*time.Minute)

	token, err := m.Issue("alice")
	require.NoError(t, err)

	username, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)
}

func TestSessionWrongSecret(t *testing.T) {
	issuer := NewSessionManager("secret-one", "http://localhost:9000", 30*time.Minute)
	verifier := NewSessionManager("secret-two", "http://localhost:9000", 30*time.Minute)

	token, err := issuer.Issue("alice")
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.Error(t, err)
}

func TestSessionExpired(t *testing.T) {
	m := NewSessionManager("session-secret", "http://localhost:9000", -time.Minute)

	token, err := m.Issue("alice")
	require.NoError(t, err)

	_, err = m.Verify(token)
	assert.Error(t, err)
}

func TestSessionGarbage(t *testing.T) {
	m := NewSessionManager("session-secret", "http://localhost:9000", 30*time.Minute)
	_, err := m.Verify("not-a-jwt")
	assert.Error(t, err)
}
