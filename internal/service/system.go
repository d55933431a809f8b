package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/domain"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/repository"
)

// SystemService owns the process-wide disabled marker. Components return
// typed errors; deciding that a failure disables the gateway happens here,
// at the call sites of credential and license checks, never inside the
// components themselves.
type SystemService struct {
	flags  *repository.SystemFlag
	logger *zap.Logger
}

// NewSystemService wires the service.
func NewSystemService(flags *repository.SystemFlag, logger *zap.Logger) *SystemService {
	return &SystemService{flags: flags, logger: logger}
}

// Observe inspects an error from a credential or license path. Fatal kinds
// (connection, crypto) set the disabled marker: continuing with stale or
// absent credentials would produce wrong access decisions.
func (s *SystemService) Observe(ctx context.Context, err error) {
	if err == nil {
		return
	}
	kind := domain.KindOf(err)
	if !kind.Fatal() {
		return
	}
	s.logger.Error("fatal error, disabling gateway",
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
	if derr := s.flags.Disable(ctx, err.Error()); derr != nil {
		s.logger.Error("failed to set disabled marker", zap.Error(derr))
	}
}

// ObserveSuccess clears the disabled marker after a credential or license
// path call succeeds again.
func (s *SystemService) ObserveSuccess(ctx context.Context) {
	disabled, _, err := s.flags.Disabled(ctx)
	if err != nil || !disabled {
		return
	}
	if err := s.flags.Enable(ctx); err != nil {
		s.logger.Error("failed to clear disabled marker", zap.Error(err))
		return
	}
	s.logger.Info("gateway re-enabled")
}

// Disabled reports the marker state.
func (s *SystemService) Disabled(ctx context.Context) (bool, string) {
	disabled, reason, err := s.flags.Disabled(ctx)
	if err != nil {
		// An unreadable flag store is itself reason to fail safe.
		s.logger.Error("disabled marker unreadable", zap.Error(err))
		return true, "flag store unreachable"
	}
	return disabled, reason
}
