package tokens

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/quartzlabs/gatekeeper-mcp/internal/oauth"
)

// PostgresStore keeps token state in Postgres. Single-use code consumption
// is a SELECT ... FOR UPDATE plus DELETE in one transaction, so concurrent
// redeemers serialize on the row and only the first one finds it.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the database, verifies connectivity and creates
// the schema if missing.
func NewPostgresStore(connString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) SaveAuthCode(ctx context.Context, code *oauth.AuthCode) error {
	query := `
		INSERT INTO oauth_auth_codes
			(code_hash, client_id, redirect_uri, username, scope, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`
	_, err := s.db.ExecContext(ctx, query,
		code.CodeHash, code.ClientID, code.RedirectURI, code.Username, code.Scope,
		code.CreatedAt, code.ExpiresAt)
	return err
}

func (s *PostgresStore) ConsumeAuthCode(ctx context.Context, codeHash string) (*oauth.AuthCode, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var code oauth.AuthCode
	query := `
		SELECT code_hash, client_id, redirect_uri, username, scope, created_at, expires_at
		FROM oauth_auth_codes
		WHERE code_hash = $1
		FOR UPDATE
	`
	err = tx.QueryRowContext(ctx, query, codeHash).Scan(
		&code.CodeHash, &code.ClientID, &code.RedirectURI, &code.Username, &code.Scope,
		&code.CreatedAt, &code.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, s.classifyMissingCode(ctx, codeHash)
	}
	if err != nil {
		return nil, err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM oauth_auth_codes WHERE code_hash = $1`, codeHash); err != nil {
		return nil, err
	}
	tombstone := `
		INSERT INTO oauth_consumed_codes (code_hash, client_id, username, expires_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (code_hash) DO NOTHING
	`
	if _, err = tx.ExecContext(ctx, tombstone, codeHash, code.ClientID, code.Username, code.ExpiresAt); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return &code, nil
}

func (s *PostgresStore) classifyMissingCode(ctx context.Context, codeHash string) error {
	var replay ReplayError
	query := `
		SELECT client_id, username
		FROM oauth_consumed_codes
		WHERE code_hash = $1 AND expires_at > NOW()
	`
	err := s.db.QueryRowContext(ctx, query, codeHash).Scan(&replay.ClientID, &replay.Username)
	if err != nil {
		return ErrNotFound
	}
	return &replay
}

func (s *PostgresStore) SaveAccessToken(ctx context.Context, token *oauth.AccessToken) error {
	query := `
		INSERT INTO oauth_access_tokens
			(token_hash, jti, client_id, username, scope, refresh_hash, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`
	_, err := s.db.ExecContext(ctx, query,
		token.TokenHash, token.JTI, token.ClientID, token.Username, token.Scope,
		nullableString(token.RefreshHash), token.CreatedAt, token.ExpiresAt)
	return err
}

func (s *PostgresStore) GetAccessToken(ctx context.Context, tokenHash string) (*oauth.AccessToken, error) {
	query := `
		SELECT token_hash, jti, client_id, username, scope, refresh_hash, created_at, expires_at, revoked_at
		FROM oauth_access_tokens
		WHERE token_hash = $1
	`
	var token oauth.AccessToken
	var refreshHash sql.NullString
	var revokedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&token.TokenHash, &token.JTI, &token.ClientID, &token.Username, &token.Scope,
		&refreshHash, &token.CreatedAt, &token.ExpiresAt, &revokedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	token.RefreshHash = refreshHash.String
	if revokedAt.Valid {
		token.RevokedAt = &revokedAt.Time
	}
	return &token, nil
}

func (s *PostgresStore) SaveRefreshToken(ctx context.Context, token *oauth.RefreshToken) error {
	query := `
		INSERT INTO oauth_refresh_tokens
			(token_hash, client_id, username, scope, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`
	_, err := s.db.ExecContext(ctx, query,
		token.TokenHash, token.ClientID, token.Username, token.Scope,
		token.CreatedAt, token.ExpiresAt)
	return err
}

func (s *PostgresStore) GetRefreshToken(ctx context.Context, tokenHash string) (*oauth.RefreshToken, error) {
	query := `
		SELECT token_hash, client_id, username, scope, created_at, expires_at, revoked_at
		FROM oauth_refresh_tokens
		WHERE token_hash = $1
	`
	var token oauth.RefreshToken
	var revokedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&token.TokenHash, &token.ClientID, &token.Username, &token.Scope,
		&token.CreatedAt, &token.ExpiresAt, &revokedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		token.RevokedAt = &revokedAt.Time
	}
	return &token, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE oauth_access_tokens SET revoked_at = NOW() WHERE token_hash = $1 AND revoked_at IS NULL`,
		tokenHash)
	return err
}

func (s *PostgresStore) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.ExecContext(ctx,
		`UPDATE oauth_refresh_tokens SET revoked_at = NOW() WHERE token_hash = $1 AND revoked_at IS NULL`,
		tokenHash); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE oauth_access_tokens SET revoked_at = NOW() WHERE refresh_hash = $1 AND revoked_at IS NULL`,
		tokenHash); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) RevokeAllForPair(ctx context.Context, clientID, username string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.ExecContext(ctx,
		`UPDATE oauth_access_tokens SET revoked_at = NOW() WHERE client_id = $1 AND username = $2 AND revoked_at IS NULL`,
		clientID, username); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE oauth_refresh_tokens SET revoked_at = NOW() WHERE client_id = $1 AND username = $2 AND revoked_at IS NULL`,
		clientID, username); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS oauth_auth_codes (
		code_hash TEXT PRIMARY KEY,
		client_id VARCHAR(255) NOT NULL,
		redirect_uri TEXT NOT NULL,
		username VARCHAR(255) NOT NULL,
		scope TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS oauth_consumed_codes (
		code_hash TEXT PRIMARY KEY,
		client_id VARCHAR(255) NOT NULL,
		username VARCHAR(255) NOT NULL,
		expires_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS oauth_access_tokens (
		token_hash TEXT PRIMARY KEY,
		jti TEXT NOT NULL,
		client_id VARCHAR(255) NOT NULL,
		username VARCHAR(255) NOT NULL,
		scope TEXT,
		refresh_hash TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMP NOT NULL,
		revoked_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS oauth_refresh_tokens (
		token_hash TEXT PRIMARY KEY,
		client_id VARCHAR(255) NOT NULL,
		username VARCHAR(255) NOT NULL,
		scope TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMP NOT NULL,
		revoked_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_oauth_auth_codes_expires ON oauth_auth_codes(expires_at);
	CREATE INDEX IF NOT EXISTS idx_oauth_access_tokens_refresh ON oauth_access_tokens(refresh_hash);
	CREATE INDEX IF NOT EXISTS idx_oauth_access_tokens_pair ON oauth_access_tokens(client_id, username);
	CREATE INDEX IF NOT EXISTS idx_oauth_refresh_tokens_pair ON oauth_refresh_tokens(client_id, username);
	`
	_, err := s.db.Exec(query)
	return err
}

func nullableString(val string) sql.NullString {
	if val == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: val, Valid: true}
}
