// Package scheduler runs the service's periodic maintenance jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotInitialized = errors.New("scheduler not initialized")
	ErrEmptyJobName   = errors.New("job name is required")
	ErrEmptyCronExpr  = errors.New("cron expression is required")
	ErrNoRunFunc      = errors.New("job has no run function")
)

// Job is a cron-scheduled task. Run gets a context bounded by Timeout (when
// set) that carries a logger tagged with the job name.
type Job struct {
	Name    string
	Cron    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

func (j Job) validate() error {
	switch {
	case strings.TrimSpace(j.Name) == "":
		return ErrEmptyJobName
	case strings.TrimSpace(j.Cron) == "":
		return ErrEmptyCronExpr
	case j.Run == nil:
		return ErrNoRunFunc
	}
	return nil
}

type Service struct {
	scheduler gocron.Scheduler
	stopOnce  sync.Once
	stopErr   error
}

// New builds a stopped scheduler. A panicking job is logged and the
// scheduler keeps running.
func New() (*Service, error) {
	sched, err := gocron.NewScheduler(
		gocron.WithGlobalJobOptions(
			gocron.WithEventListeners(
				gocron.AfterJobRunsWithPanic(func(jobID uuid.UUID, jobName string, recoverData any) {
					log.Error().
						Str("job_id", jobID.String()).
						Str("job", jobName).
						Interface("panic", recoverData).
						Msg("Scheduled job panicked")
				}),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Service{scheduler: sched}, nil
}

// Register adds job. A run still in progress when the next tick fires
// delays that tick rather than overlapping it.
func (s *Service) Register(job Job) error {
	if s == nil {
		return ErrNotInitialized
	}
	if err := job.validate(); err != nil {
		return err
	}

	logger := log.With().Str("job", job.Name).Logger()
	if _, err := s.scheduler.NewJob(
		gocron.CronJob(job.Cron, false),
		gocron.NewTask(runJob, job, logger),
		gocron.WithName(job.Name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("register job %s: %w", job.Name, err)
	}
	logger.Info().Str("cron", job.Cron).Dur("timeout", job.Timeout).Msg("Scheduled job")
	return nil
}

func runJob(job Job, logger zerolog.Logger) {
	ctx := context.Background()
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}
	ctx = logger.WithContext(ctx)

	started := time.Now()
	if err := job.Run(ctx); err != nil {
		logger.Error().Err(err).Dur("elapsed", time.Since(started)).Msg("Scheduled job failed")
		return
	}
	logger.Debug().Dur("elapsed", time.Since(started)).Msg("Scheduled job finished")
}

// JobNames lists registered jobs.
func (s *Service) JobNames() []string {
	if s == nil {
		return nil
	}
	jobs := s.scheduler.Jobs()
	names := make([]string, 0, len(jobs))
	for _, job := range jobs {
		names = append(names, job.Name())
	}
	return names
}

func (s *Service) Start() {
	if s == nil {
		return
	}
	log.Info().Strs("jobs", s.JobNames()).Msg("Scheduler starting")
	s.scheduler.Start()
}

// Stop waits for running jobs and stops the scheduler. Later calls return
// the first result.
func (s *Service) Stop() error {
	if s == nil {
		return ErrNotInitialized
	}
	s.stopOnce.Do(func() {
		log.Info().Msg("Scheduler stopping")
		s.stopErr = s.scheduler.Shutdown()
	})
	return s.stopErr
}
