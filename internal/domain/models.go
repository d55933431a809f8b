package domain

import (
	"fmt"
	"sort"
	"time"
)

// BaselineRole is the host role a downgraded visitor falls back to.
const BaselineRole = "subscriber"

// LevelRole derives the host role name granting access to a membership level.
func LevelRole(levelID int64) string {
	return fmt.Sprintf("wawp_level_%d", levelID)
}

// IDSet is a set of Wild Apricot level/group identifiers.
type IDSet map[int64]struct{}

// NewIDSet builds a set from the provided ids.
func NewIDSet(ids ...int64) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s IDSet) Contains(id int64) bool {
	_, ok := s[id]
	return ok
}

func (s IDSet) Add(id int64) {
	s[id] = struct{}{}
}

func (s IDSet) Remove(id int64) {
	delete(s, id)
}

// Intersects reports whether the two sets share at least one id.
func (s IDSet) Intersects(other IDSet) bool {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	for id := range small {
		if _, ok := large[id]; ok {
			return true
		}
	}
	return false
}

func (s IDSet) Clone() IDSet {
	out := make(IDSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Slice returns the ids in ascending order, for stable persistence and logs.
func (s IDSet) Slice() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Credential holds the delegated admin tokens for the Wild Apricot account.
// The refresh token is stored encrypted at rest; the access token lives in
// the short-lived token cache and is never used past ExpiresAt.
type Credential struct {
	AccessToken  string
	RefreshToken string
	AccountID    int64
	ExpiresAt    time.Time
}

// TaxonomySnapshot is the last known set of membership levels and groups,
// replaced wholesale on each successful reconciliation.
type TaxonomySnapshot struct {
	Levels map[int64]string `json:"levels"`
	Groups map[int64]string `json:"groups"`
}

// ContentRestriction describes which levels/groups may view a content item.
type ContentRestriction struct {
	ContentID    int64
	LevelIDs     IDSet
	GroupIDs     IDSet
	IsRestricted bool
}

// Recalculate re-derives IsRestricted: an item with no remaining restriction
// criteria is unrestricted, never "restricted to nobody".
func (r *ContentRestriction) Recalculate() {
	r.IsRestricted = len(r.LevelIDs) > 0 || len(r.GroupIDs) > 0
}

// VisitorSnapshot is the locally mirrored membership identity of a host user.
// Synced is false when the visitor has a host account but no linked Wild
// Apricot contact.
type VisitorSnapshot struct {
	ID       int64
	LevelID  *int64
	GroupIDs IDSet
	Status   string
	Synced   bool
	IsAdmin  bool
	Roles    []string
}

// HasRole reports whether the visitor currently holds the named role.
func (v *VisitorSnapshot) HasRole(role string) bool {
	for _, r := range v.Roles {
		if r == role {
			return true
		}
	}
	return false
}
