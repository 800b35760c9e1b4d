// Package config loads service configuration from the environment, with an
// optional AWS Secrets Manager bootstrap and .env files for local runs.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// AuthServer holds authorization server settings.
type AuthServer struct {
	ListenAddr      string
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	AuthCodeTTL     time.Duration
	SessionTTL      time.Duration
	SessionSecret   string
	SeedFile        string
	SupportedScopes []string

	// Optional store backends; memory is used when both are empty.
	DatabaseURL string
	RedisURL    string

	// Optional audit event publishing.
	AMQPURL string
}

// ResourceServer holds resource server settings.
type ResourceServer struct {
	ListenAddr        string
	AuthServerURL     string
	IntrospectTimeout time.Duration
	CacheFreshFor     time.Duration
}

// LoadAuthServer reads the authorization server config from the environment.
func LoadAuthServer() (AuthServer, error) {
	issuer := strings.TrimSpace(os.Getenv("AUTH_ISSUER"))
	if issuer == "" {
		issuer = "http://localhost:9000"
	}

	sessionSecret := strings.TrimSpace(os.Getenv("AUTH_SESSION_SECRET"))
	if sessionSecret == "" {
		return AuthServer{}, fmt.Errorf("AUTH_SESSION_SECRET is required")
	}

	scopes := parseListEnv("AUTH_SUPPORTED_SCOPES", []string{"read", "write", "admin"})

	return AuthServer{
		ListenAddr:      envDefault("AUTH_LISTEN_ADDR", ":9000"),
		Issuer:          strings.TrimRight(issuer, "/"),
		AccessTokenTTL:  parseDurationEnv("AUTH_ACCESS_TOKEN_TTL", time.Hour),
		RefreshTokenTTL: parseDurationEnv("AUTH_REFRESH_TOKEN_TTL", 30*24*time.Hour),
		AuthCodeTTL:     parseDurationEnv("AUTH_CODE_TTL", 10*time.Minute),
		SessionTTL:      parseDurationEnv("AUTH_SESSION_TTL", 30*time.Minute),
		SessionSecret:   sessionSecret,
		SeedFile:        os.Getenv("AUTH_SEED_FILE"),
		SupportedScopes: scopes,
		DatabaseURL:     os.Getenv("AUTH_DATABASE_URL"),
		RedisURL:        os.Getenv("AUTH_REDIS_URL"),
		AMQPURL:         os.Getenv("AUTH_AMQP_URL"),
	}, nil
}

// LoadResourceServer reads the resource server config from the environment.
func LoadResourceServer() (ResourceServer, error) {
	authURL := strings.TrimSpace(os.Getenv("RESOURCE_AUTH_SERVER_URL"))
	if authURL == "" {
		authURL = "http://localhost:9000"
	}

	return ResourceServer{
		ListenAddr:        envDefault("RESOURCE_LISTEN_ADDR", ":8080"),
		AuthServerURL:     strings.TrimRight(authURL, "/"),
		IntrospectTimeout: parseDurationEnv("RESOURCE_INTROSPECT_TIMEOUT", 5*time.Second),
		CacheFreshFor:     parseDurationEnv("RESOURCE_CACHE_FRESH_FOR", 5*time.Minute),
	}, nil
}

func envDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func parseDurationEnv(key string, fallback time.Duration) time.Duration {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if dur, err := time.ParseDuration(val); err == nil {
			return dur
		}
	}
	return fallback
}

func parseListEnv(key string, fallback []string) []string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	var items []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return fallback
	}
	return items
}
