// Package access implements the pure allow/deny decision for a content item
// and a visitor. It performs no I/O and consults no caches; callers resolve
// every input beforehand so the function stays exhaustively table-testable.
package access

import "github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/domain"

// DenyReason explains a negative decision. The HTTP layer maps each reason to
// a different visitor-facing message.
type DenyReason string

const (
	// ReasonAnonymous: the visitor is not logged in to the host at all.
	ReasonAnonymous DenyReason = "anonymous"
	// ReasonUnsynced: logged in to the host but no linked membership identity.
	ReasonUnsynced DenyReason = "unsynced"
	// ReasonStatus: the visitor's membership status is not in the allowed set.
	ReasonStatus DenyReason = "status"
	// ReasonNoOverlap: no restricted group or level matches the visitor.
	ReasonNoOverlap DenyReason = "no_overlap"
)

// Decision is the outcome of Decide. Reason is empty iff Allowed.
type Decision struct {
	Allowed bool       `json:"allowed"`
	Reason  DenyReason `json:"reason,omitempty"`
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason DenyReason) Decision {
	return Decision{Reason: reason}
}

// Decide returns whether the visitor may view the item. A nil visitor is an
// anonymous request. allowedStatuses empty means every status is acceptable.
func Decide(item domain.ContentRestriction, visitor *domain.VisitorSnapshot, allowedStatuses map[string]struct{}) Decision {
	if !item.IsRestricted {
		return allow()
	}
	if visitor == nil {
		return deny(ReasonAnonymous)
	}
	if !visitor.Synced {
		return deny(ReasonUnsynced)
	}
	if len(allowedStatuses) > 0 {
		if _, ok := allowedStatuses[visitor.Status]; !ok {
			return deny(ReasonStatus)
		}
	}
	if item.GroupIDs.Intersects(visitor.GroupIDs) {
		return allow()
	}
	if visitor.LevelID != nil && item.LevelIDs.Contains(*visitor.LevelID) {
		return allow()
	}
	return deny(ReasonNoOverlap)
}
