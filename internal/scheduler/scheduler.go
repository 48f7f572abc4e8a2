// Package scheduler runs periodic maintenance jobs.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"vita/internal/config"
	"vita/internal/metrics"
)

// Pruner deletes stored history older than maxAge and reports rows removed per table.
type Pruner interface {
	Prune(ctx context.Context, maxAge time.Duration) (map[string]int64, error)
}

// Scheduler manages cron jobs for retention.
type Scheduler struct {
	cron   *cron.Cron
	pruner Pruner
	maxAge time.Duration
	log    zerolog.Logger
}

// New builds a scheduler from the retention config. An empty schedule yields a scheduler with
// no jobs.
func New(cfg config.RetentionConfig, pruner Pruner, log zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(),
		pruner: pruner,
		maxAge: time.Duration(cfg.MaxAgeDays) * 24 * time.Hour,
		log:    log.With().Str("component", "scheduler").Logger(),
	}
	if cfg.Schedule == "" {
		return s, nil
	}
	if _, err := s.cron.AddFunc(cfg.Schedule, func() { s.RunRetention(context.Background()) }); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunRetention prunes once.
func (s *Scheduler) RunRetention(ctx context.Context) {
	if s.maxAge <= 0 {
		return
	}
	counts, err := s.pruner.Prune(ctx, s.maxAge)
	if err != nil {
		s.log.Error().Err(err).Msg("retention prune failed")
		return
	}
	ev := s.log.Info().Dur("max_age", s.maxAge)
	for table, n := range counts {
		metrics.RetentionPruned.WithLabelValues(table).Add(float64(n))
		ev = ev.Int64(table, n)
	}
	ev.Msg("retention prune")
}
