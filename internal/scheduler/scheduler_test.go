package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegisterRejectsBadSchedule(t *testing.T) {
	s := New(zap.NewNop())
	err := s.Register(Job{Name: "sync", Schedule: "not a schedule", Run: func(context.Context) error { return nil }})
	require.Error(t, err)
	require.Empty(t, s.cron.Entries())
}

func TestRegisterReplacesSameName(t *testing.T) {
	s := New(zap.NewNop())
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Register(Job{Name: "sync", Schedule: "@every 1h", Run: noop}))
	require.NoError(t, s.Register(Job{Name: "sync", Schedule: "@every 2h", Run: noop}))
	require.Len(t, s.cron.Entries(), 1)

	require.NoError(t, s.Register(Job{Name: "recheck", Schedule: "@daily", Run: noop}))
	require.Len(t, s.cron.Entries(), 2)
}
