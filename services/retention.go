package services

import (
	"context"
	"fmt"
	"time"

	"github.com/itish2003/legaldoc/logger"
	"github.com/itish2003/legaldoc/store"

	"github.com/robfig/cron/v3"
)

// RetentionService deletes documents older than maxAge on a cron schedule.
type RetentionService struct {
	documents store.DocumentStore
	maxAge    time.Duration
	now       func() time.Time
	cron      *cron.Cron
	log       logger.Logger
}

func NewRetentionService(documents store.DocumentStore, maxAge time.Duration, log logger.Logger) *RetentionService {
	if log == nil {
		log = logger.GetDefault()
	}
	return &RetentionService{
		documents: documents,
		maxAge:    maxAge,
		now:       time.Now,
		cron:      cron.New(),
		log:       log.With("component", "RETENTION"),
	}
}

// Start schedules Sweep with a standard cron spec or descriptor such as "@daily".
func (s *RetentionService) Start(ctx context.Context, schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Error("retention sweep failed", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.log.Info("retention scheduled", "schedule", schedule, "max_age", s.maxAge)
	return nil
}

// Stop halts the scheduler and waits for a running sweep.
func (s *RetentionService) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep deletes every document created before now-maxAge and returns how many went.
func (s *RetentionService) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.maxAge)
	infos, err := s.documents.ListDocuments(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to list documents: %w", err)
	}

	deleted := 0
	for _, info := range infos {
		if !info.CreatedAt.Before(cutoff) {
			continue
		}
		if err := s.documents.DeleteDocument(ctx, info.ID); err != nil {
			return deleted, fmt.Errorf("failed to delete document %s: %w", info.ID, err)
		}
		deleted++
	}
	if deleted > 0 {
		s.log.Info("expired documents deleted", "count", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
	return deleted, nil
}
