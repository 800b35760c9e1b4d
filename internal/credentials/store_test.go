package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyClientSecret(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.AddClient("app", "hunter2", []string{"http://localhost/cb"}, []string{"read"}, "Test App"))

	client, ok := s.VerifyClientSecret("app", "hunter2")
	require.True(t, ok)
	assert.Equal(t, "app", client.ClientID)

	_, ok = s.VerifyClientSecret("app", "wrong")
	assert.False(t, ok)

	_, ok = s.VerifyClientSecret("no-such-client", "hunter2")
	assert.False(t, ok)
}

func TestVerifyUser(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.AddUser("alice", "password123", "alice@example.com", []string{"read", "write"}))

	user, ok := s.VerifyUser("alice", "password123")
	require.True(t, ok)
	assert.Equal(t, []string{"read", "write"}, user.GrantedScopes)

	_, ok = s.VerifyUser("alice", "wrong")
	assert.False(t, ok)

	_, ok = s.VerifyUser("nobody", "password123")
	assert.False(t, ok)
}

func TestSecretsAreNotStoredInPlain(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.AddClient("app", "hunter2", nil, nil, ""))

	client, err := s.GetClient("app")
	require.NoError(t, err)
	assert.NotContains(t, client.ClientSecretHash, "hunter2")
	assert.NotEqual(t, "hunter2", client.ClientSecretHash)
}

func TestRedirectAllowedExactMatch(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.AddClient("app", "hunter2", []string{"http://localhost:8082/callback"}, nil, ""))

	client, err := s.GetClient("app")
	require.NoError(t, err)
	assert.True(t, client.RedirectAllowed("http://localhost:8082/callback"))
	assert.False(t, client.RedirectAllowed("http://localhost:8082/callback/../steal"))
	assert.False(t, client.RedirectAllowed("http://localhost:8082/other"))
}

func TestDemoSeed(t *testing.T) {
	s, err := LoadSeed("")
	require.NoError(t, err)

	_, ok := s.VerifyUser("alice", "password123")
	assert.True(t, ok)
	_, ok = s.VerifyClientSecret("test-client", "test-secret")
	assert.True(t, ok)
	_, ok = s.VerifyClientSecret("mcp-resource-server", "mcp-server-secret")
	assert.True(t, ok)
}
