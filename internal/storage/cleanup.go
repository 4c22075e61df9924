package storage

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"tubefetch/internal/entity"
)

// CleanupExpiredJobs removes expired jobs and their artifacts every interval until ctx is done.
func (stg *storage) CleanupExpiredJobs(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := stg.log.With(slog.String("action", "cleanup_expired_jobs"), slog.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			stg.performCleanup(ctx)
		case <-ctx.Done():
			log.Info("cleanup expired jobs stopped")

			return
		}
	}
}

func (stg *storage) performCleanup(ctx context.Context) {
	log := stg.log
	now := time.Now()

	stg.mu.Lock()
	expiredJobs := stg.getExpiredJobs(now)
	stg.mu.Unlock()

	if len(expiredJobs) == 0 {
		log.DebugContext(ctx, "no expired jobs found to clean up")

		return
	}

	log.InfoContext(ctx, "about to remove expired jobs", slog.Int("count", len(expiredJobs)))

	deletedFiles := 0
	for _, job := range expiredJobs {
		deletedFiles += stg.cleanupJob(ctx, job)
	}

	stg.mu.RLock()
	count := len(stg.jobs)
	stg.mu.RUnlock()

	stg.metrics.RecordCleanup(len(expiredJobs), deletedFiles)
	stg.metrics.SetStoredJobs(count)
}

// getExpiredJobs returns settled jobs past their expiry. Running jobs are never collected.
func (stg *storage) getExpiredJobs(now time.Time) []entity.Job {
	var expiredJobs []entity.Job

	for _, job := range stg.jobs {
		if job.Status.Settled() && !job.ExpiresAt.IsZero() && job.ExpiresAt.Before(now) {
			expiredJobs = append(expiredJobs, clone(job))
		}
	}

	return expiredJobs
}

func (stg *storage) cleanupJob(ctx context.Context, job entity.Job) int {
	log := stg.log.With(slog.String("job_id", job.ID))
	deletedFiles := 0

	switch {
	case job.Output == "":
	case !filepath.IsAbs(job.Output):
		log.ErrorContext(ctx, "non-absolute path found", slog.String("filename", job.Output))
	default:
		err := os.Remove(job.Output)

		switch {
		case err == nil:
			deletedFiles++

			log.DebugContext(ctx, "successfully deleted file", slog.String("filename", job.Output))
		case errors.Is(err, os.ErrNotExist):
			log.DebugContext(ctx, "file already gone", slog.String("filename", job.Output))
		default:
			log.ErrorContext(ctx, "failed to delete file", slog.String("filename", job.Output), slog.Any("error", err))
		}
	}

	stg.mu.Lock()
	delete(stg.jobs, job.ID)
	stg.mu.Unlock()

	log.DebugContext(ctx, "job cleaned up", slog.Int("deleted_files", deletedFiles))

	return deletedFiles
}
