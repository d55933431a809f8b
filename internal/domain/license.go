package domain

import "time"

// LicenseStatus tracks where a submitted license key sits in its lifecycle.
type LicenseStatus string

const (
	// LicenseNotEntered means no key has ever been submitted for the slug.
	LicenseNotEntered LicenseStatus = "not_entered"
	// LicenseEnteredEmpty means the last submission was an empty string.
	LicenseEnteredEmpty LicenseStatus = "entered_empty"
	// LicenseInvalid means the last submitted or rechecked key failed validation.
	LicenseInvalid LicenseStatus = "invalid"
	// LicenseValid means the key was confirmed remotely within the last cycle.
	LicenseValid LicenseStatus = "valid"
	// LicenseAuthChanged means the delegated Wild Apricot identity changed
	// after the key was issued; cleared only by submitting a key that passes
	// the account/URL check again.
	LicenseAuthChanged LicenseStatus = "auth_changed"
)

// LicenseRecord is the per-add-on license state. A downgrade to invalid keeps
// Key populated so operators can see that a previously working key lapsed.
type LicenseRecord struct {
	Slug      string        `json:"slug"`
	Key       string        `json:"key,omitempty"`
	Status    LicenseStatus `json:"status"`
	CheckedAt time.Time     `json:"checked_at,omitempty"`
}
