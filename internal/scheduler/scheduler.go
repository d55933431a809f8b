package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a named unit of scheduled work.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Scheduler drives the background reconcile and license-recheck cycles.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
	names  map[string]cron.EntryID
}

// New creates an idle scheduler. Jobs run sequentially per entry; cron
// itself starts a goroutine per firing, so jobs guard their own reentry
// (the reconcile lock does this for sync).
func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		logger: logger,
		names:  map[string]cron.EntryID{},
	}
}

// Register adds a job under a unique name. Registering the same name
// twice replaces the previous entry.
func (s *Scheduler) Register(job Job) error {
	if id, ok := s.names[job.Name]; ok {
		s.cron.Remove(id)
	}

	id, err := s.cron.AddFunc(job.Schedule, func() {
		log := s.logger.With(zap.String("job", job.Name))
		log.Info("scheduled job started")
		if err := job.Run(context.Background()); err != nil {
			log.Error("scheduled job failed", zap.Error(err))
			return
		}
		log.Info("scheduled job completed")
	})
	if err != nil {
		return err
	}
	s.names[job.Name] = id
	return nil
}

// Start begins firing registered jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for in-flight jobs to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
