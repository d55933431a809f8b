package license

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/domain"
)

type memoryLicenses struct {
	records map[string]domain.LicenseRecord
}

func newMemoryLicenses() *memoryLicenses {
	return &memoryLicenses{records: map[string]domain.LicenseRecord{}}
}

func (m *memoryLicenses) Get(ctx context.Context, slug string) (domain.LicenseRecord, error) {
	record, ok := m.records[slug]
	if !ok {
		return domain.LicenseRecord{Slug: slug, Status: domain.LicenseNotEntered}, nil
	}
	return record, nil
}

func (m *memoryLicenses) Put(ctx context.Context, record domain.LicenseRecord) error {
	m.records[record.Slug] = record
	return nil
}

func (m *memoryLicenses) List(ctx context.Context) ([]domain.LicenseRecord, error) {
	out := make([]domain.LicenseRecord, 0, len(m.records))
	for _, record := range m.records {
		out = append(out, record)
	}
	return out, nil
}

type fakeChecker struct {
	calls int
	info  *Info
	err   error
}

func (f *fakeChecker) Check(ctx context.Context, key string) (*Info, error) {
	f.calls++
	return f.info, f.err
}

type staticIdentity struct {
	identity Identity
	err      error
}

func (s *staticIdentity) CurrentIdentity(ctx context.Context) (Identity, error) {
	return s.identity, s.err
}

func validInfo() *Info {
	return &Info{
		Products:                []string{"WildApricot Press"},
		SupportLevel:            "standard",
		ExpirationDate:          time.Now().Add(365 * 24 * time.Hour).Format("2006-01-02 15:04:05"),
		LicensedURLs:            []string{"https://example.org"},
		LicensedWildApricotURLs: []string{"https://example.wildapricot.org"},
		LicensedAccountIDs:      []int64{42},
	}
}

func newTestValidator(checker *fakeChecker) (*Validator, *memoryLicenses) {
	licenses := newMemoryLicenses()
	identity := &staticIdentity{identity: Identity{
		AccountID: 42,
		SiteURL:   "https://example.org",
		WAURL:     "https://example.wildapricot.org",
	}}
	return NewValidator(licenses, checker, identity, zap.NewNop()), licenses
}

func TestValidateEmptyKey(t *testing.T) {
	checker := &fakeChecker{info: validInfo()}
	validator, _ := newTestValidator(checker)

	record, err := validator.Validate(context.Background(), CoreSlug, "   ", false)
	require.NoError(t, err)
	require.Equal(t, domain.LicenseEnteredEmpty, record.Status)
	require.Empty(t, record.Key)
	require.Equal(t, 0, checker.calls)
}

func TestValidateCanonicalizationMismatch(t *testing.T) {
	checker := &fakeChecker{info: validInfo()}
	validator, licenses := newTestValidator(checker)

	record, err := validator.Validate(context.Background(), CoreSlug, "ABC-123!x", false)
	require.Error(t, err)
	require.Equal(t, domain.KindValidation, domain.KindOf(err))
	require.Equal(t, domain.LicenseInvalid, record.Status)
	require.Equal(t, 0, checker.calls)

	stored, err := licenses.Get(context.Background(), CoreSlug)
	require.NoError(t, err)
	require.Equal(t, domain.LicenseInvalid, stored.Status)
}

func TestValidateHappyPath(t *testing.T) {
	checker := &fakeChecker{info: validInfo()}
	validator, _ := newTestValidator(checker)

	record, err := validator.Validate(context.Background(), CoreSlug, "AAAA-BBBB-1234", false)
	require.NoError(t, err)
	require.Equal(t, domain.LicenseValid, record.Status)
	require.Equal(t, "AAAA-BBBB-1234", record.Key)
	require.Equal(t, 1, checker.calls)
}

func TestValidateShortCircuitsUnchangedValidKey(t *testing.T) {
	checker := &fakeChecker{info: validInfo()}
	validator, _ := newTestValidator(checker)

	_, err := validator.Validate(context.Background(), CoreSlug, "AAAA-BBBB-1234", false)
	require.NoError(t, err)
	require.Equal(t, 1, checker.calls)

	// Same key again: no second round trip.
	record, err := validator.Validate(context.Background(), CoreSlug, "AAAA-BBBB-1234", false)
	require.NoError(t, err)
	require.Equal(t, domain.LicenseValid, record.Status)
	require.Equal(t, 1, checker.calls)

	// Force goes remote regardless.
	_, err = validator.Validate(context.Background(), CoreSlug, "AAAA-BBBB-1234", true)
	require.NoError(t, err)
	require.Equal(t, 2, checker.calls)
}

func TestValidateRejectsErrorPayload(t *testing.T) {
	checker := &fakeChecker{info: &Info{Error: "key not found"}}
	validator, _ := newTestValidator(checker)

	record, err := validator.Validate(context.Background(), CoreSlug, "AAAA-BBBB", false)
	require.NoError(t, err)
	require.Equal(t, domain.LicenseInvalid, record.Status)
}

func TestValidateRejectsExpiredLicense(t *testing.T) {
	info := validInfo()
	info.ExpirationDate = "2020-01-01"
	checker := &fakeChecker{info: info}
	validator, _ := newTestValidator(checker)

	record, err := validator.Validate(context.Background(), CoreSlug, "AAAA-BBBB", false)
	require.NoError(t, err)
	require.Equal(t, domain.LicenseInvalid, record.Status)
}

func TestValidateRejectsMissingUmbrellaProduct(t *testing.T) {
	info := validInfo()
	info.Products = []string{"Some Other Product"}
	checker := &fakeChecker{info: info}
	validator, _ := newTestValidator(checker)

	record, err := validator.Validate(context.Background(), CoreSlug, "AAAA-BBBB", false)
	require.NoError(t, err)
	require.Equal(t, domain.LicenseInvalid, record.Status)
}

// The reuse guard: a key licensed for account A must not validate for
// account B even when product and expiry check out.
func TestValidateReuseGuard(t *testing.T) {
	checker := &fakeChecker{info: validInfo()}
	licenses := newMemoryLicenses()
	otherSite := &staticIdentity{identity: Identity{
		AccountID: 99,
		SiteURL:   "https://other-site.org",
		WAURL:     "https://other.wildapricot.org",
	}}
	validator := NewValidator(licenses, checker, otherSite, zap.NewNop())

	record, err := validator.Validate(context.Background(), CoreSlug, "AAAA-BBBB", false)
	require.NoError(t, err)
	require.Equal(t, domain.LicenseInvalid, record.Status)
}

func TestValidateURLNormalization(t *testing.T) {
	info := validInfo()
	info.LicensedURLs = []string{"http://WWW.Example.org/"}
	checker := &fakeChecker{info: info}
	licenses := newMemoryLicenses()
	identity := &staticIdentity{identity: Identity{AccountID: 42, SiteURL: "https://example.org"}}
	validator := NewValidator(licenses, checker, identity, zap.NewNop())

	record, err := validator.Validate(context.Background(), CoreSlug, "AAAA-BBBB", false)
	require.NoError(t, err)
	require.Equal(t, domain.LicenseValid, record.Status)
}

func TestValidateConnectionErrorLeavesStateUntouched(t *testing.T) {
	checker := &fakeChecker{err: domain.Ef(domain.KindConnection, "license.Check", "unreachable")}
	validator, licenses := newTestValidator(checker)

	_, err := validator.Validate(context.Background(), CoreSlug, "AAAA-BBBB", false)
	require.Error(t, err)
	require.Equal(t, domain.KindConnection, domain.KindOf(err))

	stored, err := licenses.Get(context.Background(), CoreSlug)
	require.NoError(t, err)
	require.Equal(t, domain.LicenseNotEntered, stored.Status)
}

func TestRecheckAllDowngradesWithoutDeletingKey(t *testing.T) {
	checker := &fakeChecker{info: validInfo()}
	validator, licenses := newTestValidator(checker)

	_, err := validator.Validate(context.Background(), CoreSlug, "AAAA-BBBB", false)
	require.NoError(t, err)

	// The key lapses remotely.
	checker.info = &Info{Error: "expired"}
	require.NoError(t, validator.RecheckAll(context.Background()))

	stored, err := licenses.Get(context.Background(), CoreSlug)
	require.NoError(t, err)
	require.Equal(t, domain.LicenseInvalid, stored.Status)
	require.Equal(t, "AAAA-BBBB", stored.Key, "downgrade keeps the stored key")
}

func TestMarkAuthChanged(t *testing.T) {
	checker := &fakeChecker{info: validInfo()}
	validator, licenses := newTestValidator(checker)

	_, err := validator.Validate(context.Background(), CoreSlug, "AAAA-BBBB", false)
	require.NoError(t, err)
	_, err = validator.Validate(context.Background(), "wawp-addon-groups", "CCCC-DDDD", false)
	require.NoError(t, err)

	require.NoError(t, validator.MarkAuthChanged(context.Background()))

	core, err := licenses.Get(context.Background(), CoreSlug)
	require.NoError(t, err)
	require.Equal(t, domain.LicenseAuthChanged, core.Status)
	require.Equal(t, "AAAA-BBBB", core.Key, "umbrella keeps its key for display")

	addon, err := licenses.Get(context.Background(), "wawp-addon-groups")
	require.NoError(t, err)
	require.Equal(t, domain.LicenseNotEntered, addon.Status)
	require.Empty(t, addon.Key)

	valid, err := validator.CoreValid(context.Background())
	require.NoError(t, err)
	require.False(t, valid)

	// A new key that passes the identity check clears auth_changed.
	record, err := validator.Validate(context.Background(), CoreSlug, "EEEE-FFFF", false)
	require.NoError(t, err)
	require.Equal(t, domain.LicenseValid, record.Status)
}
