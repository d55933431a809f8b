package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/domain"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/repository"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/wildapricot"
)

// ContactSource is the slice of the Wild Apricot client visitor refresh
// needs.
type ContactSource interface {
	GetContact(ctx context.Context, accessToken string, accountID, contactID int64) (*wildapricot.Contact, error)
	ListContacts(ctx context.Context, accessToken string, accountID int64) ([]wildapricot.Contact, error)
}

// VisitorService maps remote contact records onto local visitor snapshots.
// A refreshed visitor carries the roles the decision engine matches on.
type VisitorService struct {
	tokens   TokenSource
	contacts ContactSource
	visitors repository.VisitorRepository
	logger   *zap.Logger
}

// TokenSource yields a currently-valid delegated access token.
type TokenSource interface {
	ValidAccessToken(ctx context.Context) (domain.Credential, error)
}

// NewVisitorService wires the visitor refresh flow.
func NewVisitorService(tokens TokenSource, contacts ContactSource, visitors repository.VisitorRepository, logger *zap.Logger) *VisitorService {
	return &VisitorService{tokens: tokens, contacts: contacts, visitors: visitors, logger: logger}
}

// Refresh pulls a single contact and replaces the local snapshot. Typically
// called when the visitor signs in on the content host.
func (s *VisitorService) Refresh(ctx context.Context, visitorID int64) (domain.VisitorSnapshot, error) {
	cred, err := s.tokens.ValidAccessToken(ctx)
	if err != nil {
		return domain.VisitorSnapshot{}, err
	}

	contact, err := s.contacts.GetContact(ctx, cred.AccessToken, cred.AccountID, visitorID)
	if err != nil {
		return domain.VisitorSnapshot{}, err
	}

	snapshot := s.toSnapshot(ctx, *contact)
	if err := s.visitors.Save(ctx, snapshot); err != nil {
		return domain.VisitorSnapshot{}, err
	}
	return snapshot, nil
}

// RefreshAll walks the full contact list and replaces every snapshot. A
// per-contact save failure is logged and skipped so one bad row cannot
// block the rest of the roster.
func (s *VisitorService) RefreshAll(ctx context.Context) (int, error) {
	cred, err := s.tokens.ValidAccessToken(ctx)
	if err != nil {
		return 0, err
	}

	contacts, err := s.contacts.ListContacts(ctx, cred.AccessToken, cred.AccountID)
	if err != nil {
		return 0, err
	}

	saved := 0
	for _, contact := range contacts {
		snapshot := s.toSnapshot(ctx, contact)
		if err := s.visitors.Save(ctx, snapshot); err != nil {
			s.logger.Warn("visitor refresh skipped",
				zap.Int64("visitor_id", contact.ID),
				zap.Error(err),
			)
			continue
		}
		saved++
	}
	return saved, nil
}

// toSnapshot derives the role set from the contact's level and preserves
// the local admin marker so a roster refresh never demotes an admin.
func (s *VisitorService) toSnapshot(ctx context.Context, contact wildapricot.Contact) domain.VisitorSnapshot {
	snapshot := domain.VisitorSnapshot{
		ID:       contact.ID,
		GroupIDs: domain.NewIDSet(contact.GroupIDs...),
		Status:   contact.Status,
		Synced:   true,
		Roles:    []string{domain.BaselineRole},
	}
	if contact.MembershipLevel != nil {
		levelID := contact.MembershipLevel.ID
		snapshot.LevelID = &levelID
		snapshot.Roles = append(snapshot.Roles, domain.LevelRole(levelID))
	}

	existing, err := s.visitors.Get(ctx, contact.ID)
	if err == nil {
		snapshot.IsAdmin = existing.IsAdmin
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("visitor lookup before refresh failed",
			zap.Int64("visitor_id", contact.ID),
			zap.Error(err),
		)
	}
	return snapshot
}
