package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/domain"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/repository"
)

const tokenKey = "wawp:access_token"

// RedisTokenCache implements AccessTokenCache backed by Redis. The entry TTL
// matches the remote-declared token lifetime, so an expired token simply
// disappears from the cache.
type RedisTokenCache struct {
	client redis.UniversalClient
}

var _ repository.AccessTokenCache = (*RedisTokenCache)(nil)

// NewRedisTokenCache constructs a Redis-backed token cache.
func NewRedisTokenCache(client redis.UniversalClient) *RedisTokenCache {
	return &RedisTokenCache{client: client}
}

type cachedToken struct {
	AccessToken string    `json:"access_token"`
	AccountID   int64     `json:"account_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Get loads the cached token, or nil when absent or expired.
func (c *RedisTokenCache) Get(ctx context.Context) (*domain.Credential, error) {
	raw, err := c.client.Get(ctx, tokenKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("load access token: %w", err)
	}
	var stored cachedToken
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode access token: %w", err)
	}
	return &domain.Credential{
		AccessToken: stored.AccessToken,
		AccountID:   stored.AccountID,
		ExpiresAt:   stored.ExpiresAt,
	}, nil
}

// Set stores the token with the remote-declared TTL.
func (c *RedisTokenCache) Set(ctx context.Context, cred domain.Credential, ttl time.Duration) error {
	payload, err := json.Marshal(cachedToken{
		AccessToken: cred.AccessToken,
		AccountID:   cred.AccountID,
		ExpiresAt:   cred.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("encode access token: %w", err)
	}
	if err := c.client.Set(ctx, tokenKey, payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist access token: %w", err)
	}
	return nil
}

// Delete drops the cached token.
func (c *RedisTokenCache) Delete(ctx context.Context) error {
	if err := c.client.Del(ctx, tokenKey).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("delete access token: %w", err)
	}
	return nil
}
