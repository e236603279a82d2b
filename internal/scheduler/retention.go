package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	PatchLogRetentionJob = "patch_log_retention"
	retentionJobTimeout  = 2 * time.Minute
)

// PatchLogPruner deletes patch log entries older than a cutoff.
// db.ThemeStore implements it.
type PatchLogPruner interface {
	PrunePatchLog(ctx context.Context, cutoff time.Time) (int64, error)
}

// PatchLogRetention builds the job that drops patch log entries older than
// maxAge. Theme documents are never pruned.
func PatchLogRetention(pruner PatchLogPruner, maxAge time.Duration, cronExpr string) (Job, error) {
	if pruner == nil {
		return Job{}, errors.New("patch log retention requires a store")
	}
	if maxAge <= 0 {
		return Job{}, fmt.Errorf("patch log max age must be positive, got %s", maxAge)
	}
	return Job{
		Name:    PatchLogRetentionJob,
		Cron:    cronExpr,
		Timeout: retentionJobTimeout,
		Run: func(ctx context.Context) error {
			_, err := prunePatchLog(ctx, pruner, maxAge, time.Now())
			return err
		},
	}, nil
}

func prunePatchLog(ctx context.Context, pruner PatchLogPruner, maxAge time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-maxAge).UTC()
	removed, err := pruner.PrunePatchLog(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	logger := log.Ctx(ctx)
	if removed > 0 {
		logger.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("Pruned patch log")
	} else {
		logger.Debug().Time("cutoff", cutoff).Msg("Patch log already within retention")
	}
	return removed, nil
}
