// Package license validates entitlement keys for the core plugin and its
// add-ons and tracks each one through a small state machine.
package license

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/domain"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/repository"
)

const (
	// CoreSlug is the umbrella add-on whose license gates synchronization.
	CoreSlug = "wawp"
	// umbrellaProduct must appear among the licensed products of every key.
	umbrellaProduct = "WildApricot Press"
)

var keyCharset = regexp.MustCompile(`[^A-Z0-9-]`)

// expirationLayouts covers the date formats the licensing service emits.
var expirationLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC3339,
}

// Identity reports the delegated Wild Apricot identity the gateway currently
// operates as, used for the license reuse guard.
type Identity struct {
	AccountID int64
	SiteURL   string
	WAURL     string
}

// IdentityProvider resolves the current identity. The production provider
// reads the credential store and the account resource.
type IdentityProvider interface {
	CurrentIdentity(ctx context.Context) (Identity, error)
}

// Validator owns license records and runs validation against the remote
// licensing service.
type Validator struct {
	licenses repository.LicenseStore
	checker  Checker
	identity IdentityProvider
	logger   *zap.Logger
	now      func() time.Time
}

// NewValidator wires the validator.
func NewValidator(licenses repository.LicenseStore, checker Checker, identity IdentityProvider, logger *zap.Logger) *Validator {
	return &Validator{
		licenses: licenses,
		checker:  checker,
		identity: identity,
		logger:   logger,
		now:      time.Now,
	}
}

// Status returns the stored record for the slug without any remote call.
func (v *Validator) Status(ctx context.Context, slug string) (domain.LicenseRecord, error) {
	return v.licenses.Get(ctx, slug)
}

// CoreValid reports whether the umbrella license currently permits
// synchronization.
func (v *Validator) CoreValid(ctx context.Context) (bool, error) {
	record, err := v.licenses.Get(ctx, CoreSlug)
	if err != nil {
		return false, err
	}
	return record.Status == domain.LicenseValid, nil
}

// Validate runs a submitted key through the state machine and persists the
// outcome. With force false an unchanged already-valid key short-circuits
// without a network round trip; the daily re-check passes force true so every
// stored key is confirmed remotely. Connection errors are returned without a
// state transition.
func (v *Validator) Validate(ctx context.Context, slug, key string, force bool) (domain.LicenseRecord, error) {
	record, err := v.licenses.Get(ctx, slug)
	if err != nil {
		return domain.LicenseRecord{}, err
	}

	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		record.Key = ""
		record.Status = domain.LicenseEnteredEmpty
		record.CheckedAt = v.now()
		if err := v.licenses.Put(ctx, record); err != nil {
			return domain.LicenseRecord{}, err
		}
		return record, nil
	}

	canonical := keyCharset.ReplaceAllString(trimmed, "")
	if canonical != trimmed {
		record.Key = canonical
		record.Status = domain.LicenseInvalid
		record.CheckedAt = v.now()
		if err := v.licenses.Put(ctx, record); err != nil {
			return domain.LicenseRecord{}, err
		}
		return record, domain.Ef(domain.KindValidation, "license.Validate",
			"key contains characters outside [A-Z0-9-]")
	}

	// Cost control on the submit path: an unchanged valid key is trusted
	// until the daily re-check confirms it remotely.
	if !force && record.Status == domain.LicenseValid && record.Key == canonical {
		return record, nil
	}

	status, err := v.checkRemote(ctx, canonical)
	if err != nil {
		return domain.LicenseRecord{}, err
	}

	record.Key = canonical
	record.Status = status
	record.CheckedAt = v.now()
	if err := v.licenses.Put(ctx, record); err != nil {
		return domain.LicenseRecord{}, err
	}

	v.logger.Info("license validated",
		zap.String("slug", slug),
		zap.String("status", string(status)),
	)
	return record, nil
}

// checkRemote classifies a key as valid or invalid. Only transport failures
// return an error.
func (v *Validator) checkRemote(ctx context.Context, key string) (domain.LicenseStatus, error) {
	info, err := v.checker.Check(ctx, key)
	if err != nil {
		return "", err
	}
	if info.Error != "" {
		return domain.LicenseInvalid, nil
	}
	if !containsFold(info.Products, umbrellaProduct) {
		return domain.LicenseInvalid, nil
	}
	expiry, ok := parseExpiration(info.ExpirationDate)
	if !ok || !expiry.After(v.now()) {
		return domain.LicenseInvalid, nil
	}

	// Reuse guard: the key must be licensed for the identity this gateway
	// operates as, so a key purchased for site A cannot unlock site B.
	identity, err := v.identity.CurrentIdentity(ctx)
	if err != nil {
		return "", err
	}
	if !containsID(info.LicensedAccountIDs, identity.AccountID) {
		return domain.LicenseInvalid, nil
	}
	licensedURLs := append(append([]string{}, info.LicensedURLs...), info.LicensedWildApricotURLs...)
	if !urlLicensed(licensedURLs, identity.SiteURL) && !urlLicensed(licensedURLs, identity.WAURL) {
		return domain.LicenseInvalid, nil
	}
	return domain.LicenseValid, nil
}

// RecheckAll is the daily job: every stored key goes back to the remote
// service, and lapsed keys are downgraded without being deleted.
func (v *Validator) RecheckAll(ctx context.Context) error {
	records, err := v.licenses.List(ctx)
	if err != nil {
		return err
	}
	for _, record := range records {
		if record.Key == "" || record.Status == domain.LicenseAuthChanged {
			continue
		}
		if _, err := v.Validate(ctx, record.Slug, record.Key, true); err != nil {
			if domain.IsKind(err, domain.KindValidation) {
				continue
			}
			return fmt.Errorf("recheck %s: %w", record.Slug, err)
		}
	}
	return nil
}

// MarkAuthChanged records that the delegated Wild Apricot identity changed:
// the umbrella add-on enters auth_changed and every dependent add-on drops to
// not_entered until new keys pass the identity check.
func (v *Validator) MarkAuthChanged(ctx context.Context) error {
	records, err := v.licenses.List(ctx)
	if err != nil {
		return err
	}
	core := false
	for _, record := range records {
		if record.Slug == CoreSlug {
			core = true
			record.Status = domain.LicenseAuthChanged
		} else {
			record.Status = domain.LicenseNotEntered
			record.Key = ""
		}
		record.CheckedAt = v.now()
		if err := v.licenses.Put(ctx, record); err != nil {
			return err
		}
	}
	if !core {
		record := domain.LicenseRecord{Slug: CoreSlug, Status: domain.LicenseAuthChanged, CheckedAt: v.now()}
		if err := v.licenses.Put(ctx, record); err != nil {
			return err
		}
	}
	v.logger.Warn("delegated identity changed, licenses demoted")
	return nil
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}

func containsID(ids []int64, target int64) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

func parseExpiration(value string) (time.Time, bool) {
	trimmed := strings.TrimSpace(value)
	for _, layout := range expirationLayouts {
		if ts, err := time.Parse(layout, trimmed); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// urlLicensed compares host names, ignoring scheme, a www prefix, and
// trailing slashes.
func urlLicensed(licensed []string, target string) bool {
	normalized := normalizeURL(target)
	if normalized == "" {
		return false
	}
	for _, u := range licensed {
		if normalizeURL(u) == normalized {
			return true
		}
	}
	return false
}

func normalizeURL(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	return strings.TrimRight(s, "/")
}
