package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/domain"
)

// Settings keys. Everything that the host would keep in its options table
// lives under these names.
const (
	keyRefreshToken = "wa_refresh_token"
	keySnapshot     = "wa_taxonomy_snapshot"
	keyLicenses     = "wawp_licenses"
	keyDisabled     = "wawp_disabled"
)

// CredentialStore persists the encrypted refresh token and account id in the
// settings store. The plaintext never touches disk; the credential cache
// encrypts before Save and decrypts after Load.
type CredentialStore struct {
	settings SettingsStore
}

func NewCredentialStore(settings SettingsStore) *CredentialStore {
	return &CredentialStore{settings: settings}
}

type storedCredential struct {
	EncryptedRefreshToken string `json:"encrypted_refresh_token"`
	AccountID             int64  `json:"account_id"`
}

// Load returns the stored ciphertext and account id, or domain.ErrNoCredential.
func (s *CredentialStore) Load(ctx context.Context) (ciphertext string, accountID int64, err error) {
	raw, err := s.settings.Get(ctx, keyRefreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", 0, domain.ErrNoCredential
		}
		return "", 0, fmt.Errorf("load credential: %w", err)
	}
	var stored storedCredential
	if err := json.Unmarshal(raw, &stored); err != nil {
		return "", 0, fmt.Errorf("decode credential: %w", err)
	}
	return stored.EncryptedRefreshToken, stored.AccountID, nil
}

// Save stores the encrypted refresh token, mutating the record in place.
func (s *CredentialStore) Save(ctx context.Context, ciphertext string, accountID int64) error {
	raw, err := json.Marshal(storedCredential{EncryptedRefreshToken: ciphertext, AccountID: accountID})
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	if err := s.settings.Set(ctx, keyRefreshToken, raw); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}
	return nil
}

// Clear deletes the credential wholesale, for when the remote judges it invalid.
func (s *CredentialStore) Clear(ctx context.Context) error {
	if err := s.settings.Delete(ctx, keyRefreshToken); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	return nil
}

// SettingsSnapshotStore keeps the taxonomy snapshot as a single settings entry.
type SettingsSnapshotStore struct {
	settings SettingsStore
}

var _ SnapshotStore = (*SettingsSnapshotStore)(nil)

func NewSettingsSnapshotStore(settings SettingsStore) *SettingsSnapshotStore {
	return &SettingsSnapshotStore{settings: settings}
}

func (s *SettingsSnapshotStore) Get(ctx context.Context) (domain.TaxonomySnapshot, error) {
	empty := domain.TaxonomySnapshot{Levels: map[int64]string{}, Groups: map[int64]string{}}
	raw, err := s.settings.Get(ctx, keySnapshot)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return empty, nil
		}
		return empty, fmt.Errorf("load snapshot: %w", err)
	}
	var snapshot domain.TaxonomySnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return empty, fmt.Errorf("decode snapshot: %w", err)
	}
	if snapshot.Levels == nil {
		snapshot.Levels = map[int64]string{}
	}
	if snapshot.Groups == nil {
		snapshot.Groups = map[int64]string{}
	}
	return snapshot, nil
}

func (s *SettingsSnapshotStore) Replace(ctx context.Context, snapshot domain.TaxonomySnapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.settings.Set(ctx, keySnapshot, raw); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return nil
}

// SettingsLicenseStore keeps every license record in one settings entry,
// keyed by add-on slug.
type SettingsLicenseStore struct {
	settings SettingsStore
}

var _ LicenseStore = (*SettingsLicenseStore)(nil)

func NewSettingsLicenseStore(settings SettingsStore) *SettingsLicenseStore {
	return &SettingsLicenseStore{settings: settings}
}

func (s *SettingsLicenseStore) load(ctx context.Context) (map[string]domain.LicenseRecord, error) {
	raw, err := s.settings.Get(ctx, keyLicenses)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return map[string]domain.LicenseRecord{}, nil
		}
		return nil, fmt.Errorf("load licenses: %w", err)
	}
	records := map[string]domain.LicenseRecord{}
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode licenses: %w", err)
	}
	return records, nil
}

func (s *SettingsLicenseStore) store(ctx context.Context, records map[string]domain.LicenseRecord) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode licenses: %w", err)
	}
	if err := s.settings.Set(ctx, keyLicenses, raw); err != nil {
		return fmt.Errorf("persist licenses: %w", err)
	}
	return nil
}

func (s *SettingsLicenseStore) Get(ctx context.Context, slug string) (domain.LicenseRecord, error) {
	records, err := s.load(ctx)
	if err != nil {
		return domain.LicenseRecord{}, err
	}
	record, ok := records[slug]
	if !ok {
		return domain.LicenseRecord{Slug: slug, Status: domain.LicenseNotEntered}, nil
	}
	return record, nil
}

func (s *SettingsLicenseStore) Put(ctx context.Context, record domain.LicenseRecord) error {
	records, err := s.load(ctx)
	if err != nil {
		return err
	}
	records[record.Slug] = record
	return s.store(ctx, records)
}

func (s *SettingsLicenseStore) List(ctx context.Context) ([]domain.LicenseRecord, error) {
	records, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.LicenseRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record)
	}
	return out, nil
}

// SystemFlag is the single process-wide disabled marker. While set, the
// access handler forces every protected item to a service-unavailable
// response instead of failing open or closed per item.
type SystemFlag struct {
	settings SettingsStore
}

func NewSystemFlag(settings SettingsStore) *SystemFlag {
	return &SystemFlag{settings: settings}
}

type disabledMarker struct {
	Reason string    `json:"reason"`
	Since  time.Time `json:"since"`
}

func (f *SystemFlag) Disable(ctx context.Context, reason string) error {
	raw, err := json.Marshal(disabledMarker{Reason: reason, Since: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode disabled marker: %w", err)
	}
	if err := f.settings.Set(ctx, keyDisabled, raw); err != nil {
		return fmt.Errorf("set disabled marker: %w", err)
	}
	return nil
}

func (f *SystemFlag) Enable(ctx context.Context) error {
	if err := f.settings.Delete(ctx, keyDisabled); err != nil {
		return fmt.Errorf("clear disabled marker: %w", err)
	}
	return nil
}

// Disabled returns whether the marker is set and why.
func (f *SystemFlag) Disabled(ctx context.Context) (bool, string, error) {
	raw, err := f.settings.Get(ctx, keyDisabled)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, "", nil
		}
		return false, "", fmt.Errorf("load disabled marker: %w", err)
	}
	var marker disabledMarker
	if err := json.Unmarshal(raw, &marker); err != nil {
		return true, "", nil
	}
	return true, marker.Reason, nil
}
