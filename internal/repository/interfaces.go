package repository

import (
	"context"
	"time"

	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/domain"
)

// SettingsStore is the durable key-value store backing credential, license,
// snapshot, and system-flag state. Get returns domain.ErrNotFound for a
// missing key.
type SettingsStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// AccessTokenCache holds the short-lived delegated access token with a TTL
// equal to the remote-declared lifetime. Get returns nil when absent or
// expired.
type AccessTokenCache interface {
	Get(ctx context.Context) (*domain.Credential, error)
	Set(ctx context.Context, cred domain.Credential, ttl time.Duration) error
	Delete(ctx context.Context) error
}

// SyncLock is the system-wide mutual-exclusion marker around reconciliation.
// Acquire is non-blocking; the TTL bounds how long a crashed run can hold it.
type SyncLock interface {
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// SnapshotStore persists the last known taxonomy, replaced wholesale.
type SnapshotStore interface {
	Get(ctx context.Context) (domain.TaxonomySnapshot, error)
	Replace(ctx context.Context, snapshot domain.TaxonomySnapshot) error
}

// LicenseStore persists per-add-on license records.
type LicenseStore interface {
	Get(ctx context.Context, slug string) (domain.LicenseRecord, error)
	Put(ctx context.Context, record domain.LicenseRecord) error
	List(ctx context.Context) ([]domain.LicenseRecord, error)
}

// RestrictionRepository owns per-content restriction metadata plus the
// registry of currently restricted content ids used by the reconcile sweep.
type RestrictionRepository interface {
	Get(ctx context.Context, contentID int64) (domain.ContentRestriction, error)
	Save(ctx context.Context, restriction domain.ContentRestriction) error
	Delete(ctx context.Context, contentID int64) error
	// RestrictedIDs lists the registry of content ids with a non-empty
	// restriction set.
	RestrictedIDs(ctx context.Context) ([]int64, error)
}

// VisitorRepository exposes the per-visitor membership mirror and derived
// role assignment.
type VisitorRepository interface {
	Get(ctx context.Context, visitorID int64) (domain.VisitorSnapshot, error)
	Save(ctx context.Context, visitor domain.VisitorSnapshot) error
	// DowngradeLevel strips the role derived from levelID from every
	// non-admin visitor holding it, leaving them on the baseline role.
	DowngradeLevel(ctx context.Context, levelID int64) error
}
