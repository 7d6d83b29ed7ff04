package maintenance

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	"github.com/stashdav/stashdav/internal/config"
	"github.com/stashdav/stashdav/internal/logger"
	"github.com/stashdav/stashdav/internal/utils"
	"github.com/stashdav/stashdav/pkg/session"
	"github.com/stashdav/stashdav/pkg/trash"
)

// Service runs the background jobs: draining expired trash, reaping orphaned
// blobs and sweeping stale sessions.
type Service struct {
	trash     *trash.Engine
	reaper    *Reaper
	sessions  *session.Manager
	scheduler gocron.Scheduler
	cfg       *config.Config
	logger    zerolog.Logger
}

func New(t *trash.Engine, r *Reaper, sm *session.Manager, cfg *config.Config) *Service {
	return &Service{
		trash:    t,
		reaper:   r,
		sessions: sm,
		cfg:      cfg,
		logger:   logger.New("maintenance"),
	}
}

// PurgeOnce drains one batch of expired trash. The CLI calls this directly.
func (s *Service) PurgeOnce(ctx context.Context) (int, error) {
	return s.trash.PurgeExpired(ctx, time.Now(), s.cfg.Maintenance.PurgeBatchSize)
}

func (s *Service) schedule(interval, name string, run func()) {
	jd, err := utils.ParseSchedule(interval)
	if err != nil {
		s.logger.Error().Err(err).Str("interval", interval).Msgf("Error parsing %s schedule", name)
		return
	}
	if _, err := s.scheduler.NewJob(jd, gocron.NewTask(run)); err != nil {
		s.logger.Error().Err(err).Msgf("Error creating %s job", name)
		return
	}
	s.logger.Info().Msgf("%s job scheduled every %s", name, interval)
}

// Start registers the jobs and blocks until the context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	var err error
	s.scheduler, err = gocron.NewScheduler(gocron.WithLocation(time.Local))
	if err != nil {
		return err
	}

	s.schedule(s.cfg.Maintenance.PurgeInterval, "trash purge", func() {
		n, err := s.PurgeOnce(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("Error purging expired trash")
			return
		}
		if n > 0 {
			s.logger.Info().Int("count", n).Msg("Purged expired trash")
		}
	})

	s.schedule(s.cfg.Maintenance.ReaperInterval, "orphan reaper", func() {
		n, err := s.reaper.Run(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("Error reaping orphaned blobs")
			return
		}
		if n > 0 {
			s.logger.Info().Int("count", n).Msg("Deleted orphaned blobs")
		}
	})

	sessionSweep := (time.Duration(s.cfg.WebdavSessionTimeout) * time.Second).String()
	s.schedule(sessionSweep, "session sweep", func() {
		if _, err := s.sessions.ReapStale(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Error reaping stale sessions")
		}
	})

	s.scheduler.Start()
	<-ctx.Done()

	s.logger.Info().Msg("Stopping maintenance scheduler")
	return s.scheduler.Shutdown()
}
