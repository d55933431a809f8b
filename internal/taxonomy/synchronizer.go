// Package taxonomy keeps the local mirror of membership levels and groups
// consistent with Wild Apricot and repairs every piece of local state that
// referenced entries the remote deleted.
package taxonomy

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/domain"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/repository"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/wildapricot"
)

// FetchError wraps a levels/groups pull failure. The pull shares the
// connection error kind with credential exchanges, but the disabled-flag
// policy covers only credential and license paths: a taxonomy outage aborts
// the cycle while the last good snapshot keeps serving decisions.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return "taxonomy pull: " + e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsFetchError reports whether err originated in the taxonomy pull stage.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// Fetcher is the slice of the Wild Apricot client reconciliation needs.
type Fetcher interface {
	ListMembershipLevels(ctx context.Context, accessToken string, accountID int64) ([]wildapricot.MembershipLevel, error)
	ListMemberGroups(ctx context.Context, accessToken string, accountID int64) ([]wildapricot.MemberGroup, error)
}

// TokenSource yields a currently-valid delegated access token.
type TokenSource interface {
	ValidAccessToken(ctx context.Context) (domain.Credential, error)
}

// LicenseGate reports whether reconciliation is currently permitted.
type LicenseGate interface {
	CoreValid(ctx context.Context) (bool, error)
}

// Synchronizer runs the scheduled reconcile cycle.
type Synchronizer struct {
	tokens       TokenSource
	fetcher      Fetcher
	gate         LicenseGate
	snapshots    repository.SnapshotStore
	restrictions repository.RestrictionRepository
	visitors     repository.VisitorRepository
	lock         repository.SyncLock
	node         *snowflake.Node
	logger       *zap.Logger
	tracer       trace.Tracer

	// LockTTL bounds how long a crashed cycle can block its successors.
	LockTTL time.Duration
}

// NewSynchronizer wires the synchronizer.
func NewSynchronizer(
	tokens TokenSource,
	fetcher Fetcher,
	gate LicenseGate,
	snapshots repository.SnapshotStore,
	restrictions repository.RestrictionRepository,
	visitors repository.VisitorRepository,
	lock repository.SyncLock,
	node *snowflake.Node,
	logger *zap.Logger,
) *Synchronizer {
	return &Synchronizer{
		tokens:       tokens,
		fetcher:      fetcher,
		gate:         gate,
		snapshots:    snapshots,
		restrictions: restrictions,
		visitors:     visitors,
		lock:         lock,
		node:         node,
		logger:       logger,
		tracer:       otel.Tracer("github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/taxonomy"),
		LockTTL:      10 * time.Minute,
	}
}

// Reconcile pulls the current taxonomy, removes stale ids from every
// restriction set and visitor role, then replaces the snapshot. Idempotent;
// any remote failure aborts the cycle with all local state untouched. At most
// one cycle runs system-wide at a time.
func (s *Synchronizer) Reconcile(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "Synchronizer.Reconcile")
	defer span.End()

	licensed, err := s.gate.CoreValid(ctx)
	if err != nil {
		return err
	}
	if !licensed {
		s.logger.Info("reconcile skipped, core license not valid")
		return nil
	}

	acquired, err := s.lock.Acquire(ctx, s.LockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		return domain.ErrSyncRunning
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("reconcile lock release failed", zap.Error(err))
		}
	}()

	runID := s.node.Generate().String()
	logger := s.logger.With(zap.String("run_id", runID))

	// Transient credential failure leaves the snapshot alone; wiping it here
	// would make every restricted item unresolvable.
	cred, err := s.tokens.ValidAccessToken(ctx)
	if err != nil {
		span.RecordError(err)
		logger.Error("reconcile aborted, no valid credential", zap.Error(err))
		return err
	}

	levels, err := s.fetcher.ListMembershipLevels(ctx, cred.AccessToken, cred.AccountID)
	if err != nil {
		span.RecordError(err)
		return &FetchError{Err: err}
	}
	groups, err := s.fetcher.ListMemberGroups(ctx, cred.AccessToken, cred.AccountID)
	if err != nil {
		span.RecordError(err)
		return &FetchError{Err: err}
	}

	updated := domain.TaxonomySnapshot{
		Levels: make(map[int64]string, len(levels)),
		Groups: make(map[int64]string, len(groups)),
	}
	for _, level := range levels {
		updated.Levels[level.ID] = level.Name
	}
	for _, group := range groups {
		updated.Groups[group.ID] = group.Name
	}

	previous, err := s.snapshots.Get(ctx)
	if err != nil {
		return err
	}

	deletedLevels := deletedIDs(previous.Levels, updated.Levels)
	deletedGroups := deletedIDs(previous.Groups, updated.Groups)

	if len(deletedLevels) > 0 || len(deletedGroups) > 0 {
		if err := s.sweepRestrictions(ctx, logger, deletedLevels, deletedGroups); err != nil {
			return err
		}
		for _, levelID := range deletedLevels.Slice() {
			if err := s.visitors.DowngradeLevel(ctx, levelID); err != nil {
				span.RecordError(err)
				return err
			}
			logger.Info("level role revoked",
				zap.Int64("level_id", levelID),
				zap.String("level_name", previous.Levels[levelID]),
			)
		}
	}

	// Replace only after the sweep so stale ids never outlive the names that
	// resolve them.
	if err := s.snapshots.Replace(ctx, updated); err != nil {
		return err
	}

	logger.Info("reconcile complete",
		zap.Int("levels", len(updated.Levels)),
		zap.Int("groups", len(updated.Groups)),
		zap.Int("deleted_levels", len(deletedLevels)),
		zap.Int("deleted_groups", len(deletedGroups)),
	)
	return nil
}

// deletedIDs returns previous keys missing from updated. An empty previous or
// updated set yields nothing: there is nothing to diff, and growth or
// no-change cannot produce deletions.
func deletedIDs(previous, updated map[int64]string) domain.IDSet {
	deleted := domain.NewIDSet()
	if len(previous) == 0 || len(updated) == 0 {
		return deleted
	}
	if len(updated) >= len(previous) {
		return deleted
	}
	for id := range previous {
		if _, ok := updated[id]; !ok {
			deleted.Add(id)
		}
	}
	return deleted
}

// sweepRestrictions removes deleted ids from every restricted item. A failure
// on one item is logged and skipped so a single bad record cannot block the
// cycle.
func (s *Synchronizer) sweepRestrictions(ctx context.Context, logger *zap.Logger, deletedLevels, deletedGroups domain.IDSet) error {
	contentIDs, err := s.restrictions.RestrictedIDs(ctx)
	if err != nil {
		return err
	}

	for _, contentID := range contentIDs {
		if err := s.sweepItem(ctx, contentID, deletedLevels, deletedGroups); err != nil {
			logger.Warn("restriction sweep skipped item",
				zap.Int64("content_id", contentID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *Synchronizer) sweepItem(ctx context.Context, contentID int64, deletedLevels, deletedGroups domain.IDSet) error {
	restriction, err := s.restrictions.Get(ctx, contentID)
	if err != nil {
		return err
	}

	changed := false
	for _, id := range deletedLevels.Slice() {
		if restriction.LevelIDs.Contains(id) {
			restriction.LevelIDs.Remove(id)
			changed = true
		}
	}
	for _, id := range deletedGroups.Slice() {
		if restriction.GroupIDs.Contains(id) {
			restriction.GroupIDs.Remove(id)
			changed = true
		}
	}
	if !changed {
		return nil
	}

	restriction.Recalculate()
	return s.restrictions.Save(ctx, restriction)
}
