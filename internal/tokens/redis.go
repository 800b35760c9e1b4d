package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quartzlabs/gatekeeper-mcp/internal/oauth"
)

const (
	codeKeyPrefix    = "gk:code:"
	usedKeyPrefix    = "gk:used:"
	accessKeyPrefix  = "gk:at:"
	refreshKeyPrefix = "gk:rt:"
	cascadeKeyPrefix = "gk:atby:rt:"
	pairKeyPrefix    = "gk:atby:pair:"
)

// RedisStore keeps token state in Redis with native TTL expiry. Single-use
// code consumption rides on GETDEL, which is atomic server-side.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to Redis from a URL (redis://:pass@host:6379/0)
// and fails fast if the server is unreachable.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) SaveAuthCode(ctx context.Context, code *oauth.AuthCode) error {
	payload, err := json.Marshal(code)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, codeKeyPrefix+code.CodeHash, payload, time.Until(code.ExpiresAt)).Err()
}

func (s *RedisStore) ConsumeAuthCode(ctx context.Context, codeHash string) (*oauth.AuthCode, error) {
	val, err := s.rdb.GetDel(ctx, codeKeyPrefix+codeHash).Result()
	if err == redis.Nil {
		return nil, s.classifyMissingCode(ctx, codeHash)
	}
	if err != nil {
		return nil, err
	}

	var code oauth.AuthCode
	if err := json.Unmarshal([]byte(val), &code); err != nil {
		return nil, err
	}

	// Tombstone so a second redemption reads as replay, not a plain miss.
	tomb, err := json.Marshal(&ReplayError{ClientID: code.ClientID, Username: code.Username})
	if err == nil {
		if ttl := time.Until(code.ExpiresAt); ttl > 0 {
			_ = s.rdb.Set(ctx, usedKeyPrefix+codeHash, tomb, ttl).Err()
		}
	}
	return &code, nil
}

func (s *RedisStore) classifyMissingCode(ctx context.Context, codeHash string) error {
	val, err := s.rdb.Get(ctx, usedKeyPrefix+codeHash).Result()
	if err != nil {
		return ErrNotFound
	}
	var replay ReplayError
	if err := json.Unmarshal([]byte(val), &replay); err != nil {
		return ErrNotFound
	}
	return &replay
}

func (s *RedisStore) SaveAccessToken(ctx context.Context, token *oauth.AccessToken) error {
	payload, err := json.Marshal(token)
	if err != nil {
		return err
	}
	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, accessKeyPrefix+token.TokenHash, payload, ttl)
	if token.RefreshHash != "" {
		cascadeKey := cascadeKeyPrefix + token.RefreshHash
		pipe.SAdd(ctx, cascadeKey, token.TokenHash)
		pipe.Expire(ctx, cascadeKey, ttl)
	}
	pkey := pairKey(token.ClientID, token.Username)
	pipe.SAdd(ctx, pkey, accessKeyPrefix+token.TokenHash)
	pipe.Expire(ctx, pkey, ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetAccessToken(ctx context.Context, tokenHash string) (*oauth.AccessToken, error) {
	val, err := s.rdb.Get(ctx, accessKeyPrefix+tokenHash).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var token oauth.AccessToken
	if err := json.Unmarshal([]byte(val), &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (s *RedisStore) SaveRefreshToken(ctx context.Context, token *oauth.RefreshToken) error {
	payload, err := json.Marshal(token)
	if err != nil {
		return err
	}
	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, refreshKeyPrefix+token.TokenHash, payload, ttl)
	pkey := pairKey(token.ClientID, token.Username)
	pipe.SAdd(ctx, pkey, refreshKeyPrefix+token.TokenHash)
	pipe.Expire(ctx, pkey, ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetRefreshToken(ctx context.Context, tokenHash string) (*oauth.RefreshToken, error) {
	val, err := s.rdb.Get(ctx, refreshKeyPrefix+tokenHash).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var token oauth.RefreshToken
	if err := json.Unmarshal([]byte(val), &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// RevokeAccessToken deletes the record; a missing record already
// introspects as inactive.
func (s *RedisStore) RevokeAccessToken(ctx context.Context, tokenHash string) error {
	return s.rdb.Del(ctx, accessKeyPrefix+tokenHash).Err()
}

func (s *RedisStore) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	if err := s.rdb.Del(ctx, refreshKeyPrefix+tokenHash).Err(); err != nil {
		return err
	}

	cascadeKey := cascadeKeyPrefix + tokenHash
	hashes, err := s.rdb.SMembers(ctx, cascadeKey).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	for _, hash := range hashes {
		if err := s.rdb.Del(ctx, accessKeyPrefix+hash).Err(); err != nil {
			return err
		}
	}
	return s.rdb.Del(ctx, cascadeKey).Err()
}

func (s *RedisStore) RevokeAllForPair(ctx context.Context, clientID, username string) error {
	key := pairKey(clientID, username)
	keys, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	if len(keys) > 0 {
		if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
			return err
		}
	}
	return s.rdb.Del(ctx, key).Err()
}

func (s *RedisStore) Close() error { return s.rdb.Close() }

func pairKey(clientID, username string) string {
	return pairKeyPrefix + clientID + ":" + username
}
