package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/access"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/config"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/domain"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/repository"
)

// AccessService resolves every input the pure decision function needs and
// owns content restriction editing.
type AccessService struct {
	restrictions    repository.RestrictionRepository
	visitors        repository.VisitorRepository
	system          *SystemService
	allowedStatuses map[string]struct{}
	logger          *zap.Logger
}

// NewAccessService wires the service. Allowed statuses come from config.
func NewAccessService(restrictions repository.RestrictionRepository, visitors repository.VisitorRepository, system *SystemService, cfg config.Config, logger *zap.Logger) *AccessService {
	allowed := make(map[string]struct{}, len(cfg.AllowedStatuses))
	for _, status := range cfg.AllowedStatuses {
		allowed[status] = struct{}{}
	}
	return &AccessService{
		restrictions:    restrictions,
		visitors:        visitors,
		system:          system,
		allowedStatuses: allowed,
		logger:          logger,
	}
}

// Decide checks the disabled marker, resolves the restriction set and the
// visitor snapshot, and runs the pure decision. visitorID nil means an
// anonymous request. While the gateway is disabled every protected item gets
// ErrSystemDisabled rather than failing open or closed per item.
func (s *AccessService) Decide(ctx context.Context, contentID int64, visitorID *int64) (access.Decision, error) {
	if disabled, reason := s.system.Disabled(ctx); disabled {
		s.logger.Warn("decision refused, gateway disabled", zap.String("reason", reason))
		return access.Decision{}, domain.ErrSystemDisabled
	}

	restriction, err := s.restrictions.Get(ctx, contentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Unknown items carry no restriction.
			restriction = domain.ContentRestriction{ContentID: contentID}
		} else {
			return access.Decision{}, err
		}
	}

	var visitor *domain.VisitorSnapshot
	if visitorID != nil {
		snapshot, err := s.visitors.Get(ctx, *visitorID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				return access.Decision{}, err
			}
			// A host account we have never mirrored is logged in but
			// unlinked.
			snapshot = domain.VisitorSnapshot{ID: *visitorID, Synced: false}
		}
		visitor = &snapshot
	}

	return access.Decide(restriction, visitor, s.allowedStatuses), nil
}

// GetRestriction loads the restriction record for a content item.
func (s *AccessService) GetRestriction(ctx context.Context, contentID int64) (domain.ContentRestriction, error) {
	restriction, err := s.restrictions.Get(ctx, contentID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ContentRestriction{
			ContentID: contentID,
			LevelIDs:  domain.NewIDSet(),
			GroupIDs:  domain.NewIDSet(),
		}, nil
	}
	return restriction, err
}

// SaveRestriction stores a content owner's restriction edit, rederiving
// is_restricted and with it the item's registry membership.
func (s *AccessService) SaveRestriction(ctx context.Context, contentID int64, levelIDs, groupIDs []int64) (domain.ContentRestriction, error) {
	restriction := domain.ContentRestriction{
		ContentID: contentID,
		LevelIDs:  domain.NewIDSet(levelIDs...),
		GroupIDs:  domain.NewIDSet(groupIDs...),
	}
	restriction.Recalculate()
	if err := s.restrictions.Save(ctx, restriction); err != nil {
		return domain.ContentRestriction{}, err
	}
	return restriction, nil
}

// DeleteRestriction removes restriction metadata when the content item
// itself is deleted.
func (s *AccessService) DeleteRestriction(ctx context.Context, contentID int64) error {
	return s.restrictions.Delete(ctx, contentID)
}
