// Package credential owns the delegated admin tokens: a single-entry TTL
// cache over the access token with synchronous refresh-on-miss, and the
// encrypted durable refresh token underneath it.
package credential

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/domain"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/repository"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/wildapricot"
)

// Exchanger is the slice of the Wild Apricot client the cache needs.
type Exchanger interface {
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (*wildapricot.TokenResponse, error)
	ExchangeClientCredentials(ctx context.Context) (*wildapricot.TokenResponse, error)
}

// Cache hands out a currently-valid access token, refreshing transparently
// when the cached one is absent or expired. Exactly one refresh exchange per
// call; callers decide whether a failure disables the system.
type Cache struct {
	exchanger Exchanger
	tokens    repository.AccessTokenCache
	store     *repository.CredentialStore
	cipher    *Cipher
	logger    *zap.Logger
	now       func() time.Time

	mu sync.Mutex
}

// NewCache wires the credential cache.
func NewCache(exchanger Exchanger, tokens repository.AccessTokenCache, store *repository.CredentialStore, cipher *Cipher, logger *zap.Logger) *Cache {
	return &Cache{
		exchanger: exchanger,
		tokens:    tokens,
		store:     store,
		cipher:    cipher,
		logger:    logger,
		now:       time.Now,
	}
}

// ValidAccessToken returns a token usable right now. It hits the network only
// on cache miss or expiry; a cached token is returned as long as now is
// strictly before its expiry.
func (c *Cache) ValidAccessToken(ctx context.Context) (domain.Credential, error) {
	if cred := c.cachedToken(ctx); cred != nil {
		return *cred, nil
	}

	// Single-flight across this process: the first caller refreshes, the
	// rest reuse its result.
	c.mu.Lock()
	defer c.mu.Unlock()

	if cred := c.cachedToken(ctx); cred != nil {
		return *cred, nil
	}
	return c.refresh(ctx)
}

func (c *Cache) cachedToken(ctx context.Context) *domain.Credential {
	cred, err := c.tokens.Get(ctx)
	if err != nil {
		c.logger.Warn("token cache read failed", zap.Error(err))
		return nil
	}
	if cred == nil || !c.now().Before(cred.ExpiresAt) {
		return nil
	}
	return cred
}

// refresh performs exactly one refresh-token exchange and stores the result.
func (c *Cache) refresh(ctx context.Context) (domain.Credential, error) {
	ciphertext, _, err := c.store.Load(ctx)
	if err != nil {
		return domain.Credential{}, err
	}
	refreshToken, err := c.cipher.Open(ciphertext)
	if err != nil {
		return domain.Credential{}, err
	}

	token, err := c.exchanger.ExchangeRefreshToken(ctx, refreshToken)
	if err != nil {
		return domain.Credential{}, err
	}
	return c.storeToken(ctx, token)
}

// Authorize performs the initial client-credentials exchange, creating the
// credential record. Called when the operator first connects the account or
// re-enters API keys.
func (c *Cache) Authorize(ctx context.Context) (domain.Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	token, err := c.exchanger.ExchangeClientCredentials(ctx)
	if err != nil {
		return domain.Credential{}, err
	}
	return c.storeToken(ctx, token)
}

func (c *Cache) storeToken(ctx context.Context, token *wildapricot.TokenResponse) (domain.Credential, error) {
	accountID := token.AccountID()
	if accountID == 0 {
		// Refresh responses may omit Permissions; never overwrite the stored
		// account id with zero.
		if _, stored, err := c.store.Load(ctx); err == nil {
			accountID = stored
		}
	}

	ttl := time.Duration(token.ExpiresIn) * time.Second
	cred := domain.Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		AccountID:    accountID,
		ExpiresAt:    c.now().Add(ttl),
	}

	if token.RefreshToken != "" {
		sealed, err := c.cipher.Seal(token.RefreshToken)
		if err != nil {
			return domain.Credential{}, err
		}
		if err := c.store.Save(ctx, sealed, cred.AccountID); err != nil {
			return domain.Credential{}, err
		}
	}

	if err := c.tokens.Set(ctx, cred, ttl); err != nil {
		// The token itself is good; a cache write failure only costs the
		// next caller a refresh.
		c.logger.Warn("token cache write failed", zap.Error(err))
	}
	return cred, nil
}

// AccountID reports the stored account without touching the network.
func (c *Cache) AccountID(ctx context.Context) (int64, error) {
	_, accountID, err := c.store.Load(ctx)
	return accountID, err
}

// Authorized reports whether a durable refresh token exists.
func (c *Cache) Authorized(ctx context.Context) bool {
	_, _, err := c.store.Load(ctx)
	return err == nil
}

// Clear deletes both the cached access token and the durable refresh token,
// for when the remote judges the credentials invalid.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.tokens.Delete(ctx); err != nil {
		c.logger.Warn("token cache delete failed", zap.Error(err))
	}
	return c.store.Clear(ctx)
}
