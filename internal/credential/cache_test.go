package credential

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/domain"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/repository"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/wildapricot"
)

type memorySettings struct {
	values map[string][]byte
}

func newMemorySettings() *memorySettings {
	return &memorySettings{values: map[string][]byte{}}
}

func (m *memorySettings) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := m.values[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v, nil
}

func (m *memorySettings) Set(ctx context.Context, key string, value []byte) error {
	m.values[key] = value
	return nil
}

func (m *memorySettings) Delete(ctx context.Context, key string) error {
	delete(m.values, key)
	return nil
}

type memoryTokenCache struct {
	cred *domain.Credential
	sets int
}

func (m *memoryTokenCache) Get(ctx context.Context) (*domain.Credential, error) {
	return m.cred, nil
}

func (m *memoryTokenCache) Set(ctx context.Context, cred domain.Credential, ttl time.Duration) error {
	c := cred
	m.cred = &c
	m.sets++
	return nil
}

func (m *memoryTokenCache) Delete(ctx context.Context) error {
	m.cred = nil
	return nil
}

type fakeExchanger struct {
	refreshCalls int
	authCalls    int
	respond      func() (*wildapricot.TokenResponse, error)
	lastRefresh  string
}

func (f *fakeExchanger) ExchangeRefreshToken(ctx context.Context, refreshToken string) (*wildapricot.TokenResponse, error) {
	f.refreshCalls++
	f.lastRefresh = refreshToken
	return f.respond()
}

func (f *fakeExchanger) ExchangeClientCredentials(ctx context.Context) (*wildapricot.TokenResponse, error) {
	f.authCalls++
	return f.respond()
}

func newTestCache(t *testing.T, exchanger *fakeExchanger) (*Cache, *memoryTokenCache, *memorySettings) {
	t.Helper()
	cipher, err := NewCipher(bytes.Repeat([]byte{0x07}, 32))
	require.NoError(t, err)

	settings := newMemorySettings()
	tokens := &memoryTokenCache{}
	cache := NewCache(exchanger, tokens, repository.NewCredentialStore(settings), cipher, zap.NewNop())
	return cache, tokens, settings
}

func seedRefreshToken(t *testing.T, cache *Cache, settings *memorySettings, refreshToken string, accountID int64) {
	t.Helper()
	sealed, err := cache.cipher.Seal(refreshToken)
	require.NoError(t, err)
	require.NoError(t, repository.NewCredentialStore(settings).Save(context.Background(), sealed, accountID))
}

func TestValidAccessTokenRefreshesOnMiss(t *testing.T) {
	exchanger := &fakeExchanger{respond: func() (*wildapricot.TokenResponse, error) {
		return &wildapricot.TokenResponse{
			AccessToken:  "at-1",
			RefreshToken: "rt-2",
			ExpiresIn:    3600,
			Permissions:  []wildapricot.Permission{{AccountID: 42}},
		}, nil
	}}
	cache, tokens, settings := newTestCache(t, exchanger)
	seedRefreshToken(t, cache, settings, "rt-1", 42)

	cred, err := cache.ValidAccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "at-1", cred.AccessToken)
	require.EqualValues(t, 42, cred.AccountID)
	require.Equal(t, 1, exchanger.refreshCalls)
	require.Equal(t, "rt-1", exchanger.lastRefresh)
	require.Equal(t, 1, tokens.sets)

	// The rotated refresh token replaced the old one in place.
	ciphertext, accountID, err := repository.NewCredentialStore(settings).Load(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 42, accountID)
	plaintext, err := cache.cipher.Open(ciphertext)
	require.NoError(t, err)
	require.Equal(t, "rt-2", plaintext)
}

func TestValidAccessTokenServesCachedWithoutNetwork(t *testing.T) {
	exchanger := &fakeExchanger{respond: func() (*wildapricot.TokenResponse, error) {
		t.Fatal("unexpected network call")
		return nil, nil
	}}
	cache, tokens, _ := newTestCache(t, exchanger)

	base := time.Now()
	cache.now = func() time.Time { return base }
	tokens.cred = &domain.Credential{AccessToken: "at-cached", AccountID: 42, ExpiresAt: base.Add(3600 * time.Second)}

	// One second before expiry: still served from cache.
	cache.now = func() time.Time { return base.Add(3599 * time.Second) }
	cred, err := cache.ValidAccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "at-cached", cred.AccessToken)
	require.Equal(t, 0, exchanger.refreshCalls)
}

func TestValidAccessTokenRefreshesPastExpiry(t *testing.T) {
	exchanger := &fakeExchanger{respond: func() (*wildapricot.TokenResponse, error) {
		return &wildapricot.TokenResponse{AccessToken: "at-fresh", RefreshToken: "rt-next", ExpiresIn: 1800}, nil
	}}
	cache, tokens, settings := newTestCache(t, exchanger)
	seedRefreshToken(t, cache, settings, "rt-1", 42)

	base := time.Now()
	tokens.cred = &domain.Credential{AccessToken: "at-stale", ExpiresAt: base.Add(3600 * time.Second)}

	cache.now = func() time.Time { return base.Add(3601 * time.Second) }
	cred, err := cache.ValidAccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "at-fresh", cred.AccessToken)
	require.Equal(t, 1, exchanger.refreshCalls)
}

func TestRefreshWithoutPermissionsKeepsStoredAccountID(t *testing.T) {
	exchanger := &fakeExchanger{respond: func() (*wildapricot.TokenResponse, error) {
		// Refresh responses may omit Permissions entirely.
		return &wildapricot.TokenResponse{AccessToken: "at-1", RefreshToken: "rt-2", ExpiresIn: 3600}, nil
	}}
	cache, _, settings := newTestCache(t, exchanger)
	seedRefreshToken(t, cache, settings, "rt-1", 42)

	cred, err := cache.ValidAccessToken(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 42, cred.AccountID)

	_, accountID, err := repository.NewCredentialStore(settings).Load(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 42, accountID, "stored account id survives a permissionless refresh")
}

func TestValidAccessTokenSingleRefreshAttempt(t *testing.T) {
	exchanger := &fakeExchanger{respond: func() (*wildapricot.TokenResponse, error) {
		return nil, domain.Ef(domain.KindConnection, "wildapricot.ExchangeRefreshToken", "remote unreachable")
	}}
	cache, _, settings := newTestCache(t, exchanger)
	seedRefreshToken(t, cache, settings, "rt-1", 42)

	_, err := cache.ValidAccessToken(context.Background())
	require.Error(t, err)
	require.Equal(t, domain.KindConnection, domain.KindOf(err))
	require.Equal(t, 1, exchanger.refreshCalls)
}

func TestValidAccessTokenWithoutCredential(t *testing.T) {
	exchanger := &fakeExchanger{respond: func() (*wildapricot.TokenResponse, error) {
		t.Fatal("unexpected network call")
		return nil, nil
	}}
	cache, _, _ := newTestCache(t, exchanger)

	_, err := cache.ValidAccessToken(context.Background())
	require.ErrorIs(t, err, domain.ErrNoCredential)
}

func TestValidAccessTokenCorruptedCiphertext(t *testing.T) {
	exchanger := &fakeExchanger{respond: func() (*wildapricot.TokenResponse, error) {
		t.Fatal("unexpected network call")
		return nil, nil
	}}
	cache, _, settings := newTestCache(t, exchanger)
	require.NoError(t, repository.NewCredentialStore(settings).Save(context.Background(), "garbage!!", 42))

	_, err := cache.ValidAccessToken(context.Background())
	require.Error(t, err)
	require.Equal(t, domain.KindCrypto, domain.KindOf(err))
}

func TestAuthorizeStoresCredential(t *testing.T) {
	exchanger := &fakeExchanger{respond: func() (*wildapricot.TokenResponse, error) {
		return &wildapricot.TokenResponse{
			AccessToken:  "at-0",
			RefreshToken: "rt-0",
			ExpiresIn:    1800,
			Permissions:  []wildapricot.Permission{{AccountID: 7}},
		}, nil
	}}
	cache, _, _ := newTestCache(t, exchanger)

	cred, err := cache.Authorize(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 7, cred.AccountID)
	require.True(t, cache.Authorized(context.Background()))
	require.Equal(t, 1, exchanger.authCalls)

	require.NoError(t, cache.Clear(context.Background()))
	require.False(t, cache.Authorized(context.Background()))
}
