package credentials

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML provisioning format for clients and users.
type SeedFile struct {
	Clients []SeedClient `yaml:"clients"`
	Users   []SeedUser   `yaml:"users"`
}

// SeedClient provisions one client application.
type SeedClient struct {
	ClientID      string   `yaml:"client_id"`
	ClientSecret  string   `yaml:"client_secret"`
	RedirectURIs  []string `yaml:"redirect_uris"`
	AllowedScopes []string `yaml:"allowed_scopes"`
	Name          string   `yaml:"name"`
}

// SeedUser provisions one user account.
type SeedUser struct {
	Username      string   `yaml:"username"`
	Password      string   `yaml:"password"`
	Email         string   `yaml:"email"`
	GrantedScopes []string `yaml:"granted_scopes"`
}

// LoadSeed builds a store from a YAML seed file, or from the built-in demo
// seed when path is empty.
func LoadSeed(path string) (*Store, error) {
	if path == "" {
		return demoSeed()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parsing seed file %s: %w", path, err)
	}

	store := NewStore()
	for _, c := range seed.Clients {
		if c.ClientID == "" || c.ClientSecret == "" || len(c.RedirectURIs) == 0 {
			return nil, fmt.Errorf("seed client %q: client_id, client_secret and redirect_uris are required", c.ClientID)
		}
		if err := store.AddClient(c.ClientID, c.ClientSecret, c.RedirectURIs, c.AllowedScopes, c.Name); err != nil {
			return nil, err
		}
	}
	for _, u := range seed.Users {
		if u.Username == "" || u.Password == "" {
			return nil, fmt.Errorf("seed user %q: username and password are required", u.Username)
		}
		if err := store.AddUser(u.Username, u.Password, u.Email, u.GrantedScopes); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// demoSeed provisions the stock demo accounts and clients, for local runs
// without a seed file.
func demoSeed() (*Store, error) {
	store := NewStore()

	clients := []SeedClient{
		{
			ClientID:      "mcp-resource-server",
			ClientSecret:  "mcp-server-secret",
			RedirectURIs:  []string{"http://localhost:8081/callback"},
			AllowedScopes: []string{"read", "write", "admin"},
			Name:          "MCP Resource Server",
		},
		{
			ClientID:      "test-client",
			ClientSecret:  "test-secret",
			RedirectURIs:  []string{"http://localhost:8082/callback"},
			AllowedScopes: []string{"read", "write"},
			Name:          "Test Client Application",
		},
	}
	users := []SeedUser{
		{Username: "alice", Password: "password123", Email: "alice@example.com", GrantedScopes: []string{"read", "write"}},
		{Username: "bob", Password: "secret456", Email: "bob@example.com", GrantedScopes: []string{"read"}},
		{Username: "admin", Password: "admin789", Email: "admin@example.com", GrantedScopes: []string{"read", "write", "admin"}},
	}

	for _, c := range clients {
		if err := store.AddClient(c.ClientID, c.ClientSecret, c.RedirectURIs, c.AllowedScopes, c.Name); err != nil {
			return nil, err
		}
	}
	for _, u := range users {
		if err := store.AddUser(u.Username, u.Password, u.Email, u.GrantedScopes); err != nil {
			return nil, err
		}
	}
	return store, nil
}
