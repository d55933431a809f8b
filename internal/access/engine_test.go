package access_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/access"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/domain"
)

// TestDecideTotality walks every combination of the five decision inputs and
// checks the outcome against the first-match rule order.
func TestDecideTotality(t *testing.T) {
	bools := []bool{false, true}
	for _, restricted := range bools {
		for _, synced := range bools {
			for _, statusOK := range bools {
				for _, groupOverlap := range bools {
					for _, levelMatch := range bools {
						name := fmt.Sprintf("restricted=%v synced=%v statusOK=%v groups=%v level=%v",
							restricted, synced, statusOK, groupOverlap, levelMatch)
						t.Run(name, func(t *testing.T) {
							item := domain.ContentRestriction{
								ContentID: 1,
								LevelIDs:  domain.NewIDSet(10),
								GroupIDs:  domain.NewIDSet(20),
							}
							if restricted {
								item.Recalculate()
							} else {
								item = domain.ContentRestriction{ContentID: 1, LevelIDs: domain.NewIDSet(), GroupIDs: domain.NewIDSet()}
							}

							visitor := &domain.VisitorSnapshot{
								ID:       7,
								Synced:   synced,
								Status:   "Lapsed",
								GroupIDs: domain.NewIDSet(99),
							}
							if statusOK {
								visitor.Status = "Active"
							}
							if groupOverlap {
								visitor.GroupIDs.Add(20)
							}
							if levelMatch {
								level := int64(10)
								visitor.LevelID = &level
							}

							allowed := map[string]struct{}{"Active": {}}
							got := access.Decide(item, visitor, allowed)

							switch {
							case !restricted:
								require.True(t, got.Allowed)
							case !synced:
								require.Equal(t, access.ReasonUnsynced, got.Reason)
							case !statusOK:
								require.Equal(t, access.ReasonStatus, got.Reason)
							case groupOverlap || levelMatch:
								require.True(t, got.Allowed)
							default:
								require.Equal(t, access.ReasonNoOverlap, got.Reason)
							}
							if got.Allowed {
								require.Empty(t, got.Reason)
							} else {
								require.NotEmpty(t, got.Reason)
							}
						})
					}
				}
			}
		}
	}
}

func TestDecideAnonymous(t *testing.T) {
	item := domain.ContentRestriction{ContentID: 1, LevelIDs: domain.NewIDSet(10), GroupIDs: domain.NewIDSet()}
	item.Recalculate()

	got := access.Decide(item, nil, nil)
	require.False(t, got.Allowed)
	require.Equal(t, access.ReasonAnonymous, got.Reason)

	// Anonymous visitors still see unrestricted content.
	open := domain.ContentRestriction{ContentID: 2}
	require.True(t, access.Decide(open, nil, nil).Allowed)
}

func TestDecideEmptyStatusSetAcceptsAnyStatus(t *testing.T) {
	item := domain.ContentRestriction{ContentID: 1, GroupIDs: domain.NewIDSet(5), LevelIDs: domain.NewIDSet()}
	item.Recalculate()
	visitor := &domain.VisitorSnapshot{ID: 1, Synced: true, Status: "Lapsed", GroupIDs: domain.NewIDSet(5)}

	require.True(t, access.Decide(item, visitor, nil).Allowed)
}

func TestDecideLevelOnlyRestriction(t *testing.T) {
	item := domain.ContentRestriction{ContentID: 1, LevelIDs: domain.NewIDSet(3), GroupIDs: domain.NewIDSet()}
	item.Recalculate()

	level := int64(3)
	member := &domain.VisitorSnapshot{ID: 1, Synced: true, Status: "Active", LevelID: &level, GroupIDs: domain.NewIDSet()}
	require.True(t, access.Decide(item, member, nil).Allowed)

	other := int64(4)
	outsider := &domain.VisitorSnapshot{ID: 2, Synced: true, Status: "Active", LevelID: &other, GroupIDs: domain.NewIDSet()}
	require.Equal(t, access.ReasonNoOverlap, access.Decide(item, outsider, nil).Reason)

	nobody := &domain.VisitorSnapshot{ID: 3, Synced: true, Status: "Active", GroupIDs: domain.NewIDSet()}
	require.Equal(t, access.ReasonNoOverlap, access.Decide(item, nobody, nil).Reason)
}
