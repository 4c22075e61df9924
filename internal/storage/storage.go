// Package storage keeps download jobs in memory and expires them.
package storage

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"tubefetch/internal/config"
	"tubefetch/internal/entity"
	"tubefetch/internal/errs"
	"tubefetch/internal/observability"
	"tubefetch/pkg/calc"
	"tubefetch/pkg/gen"
	"tubefetch/pkg/urls"
)

// maxMessages bounds the toasts kept per job.
const maxMessages = 20

// Storer defines the interface for storage operations.
// Jobs are passed by value; callers never share the stored copy.
type Storer interface {
	SetJob(ctx context.Context, job entity.Job)
	GetJobByURLAndQuality(ctx context.Context, url, quality string) (entity.Job, bool)
	GetJobByID(ctx context.Context, id string) (entity.Job, bool)
	GetJobs(ctx context.Context) ([]entity.Job, error)
	UpdateJobStatus(ctx context.Context, id string, status entity.JobStatus, progress int, errorMsg string)
	SetJobOutput(ctx context.Context, id, output string)
	AddJobMessage(ctx context.Context, id string, msg entity.Message)

	CleanupExpiredJobs(ctx context.Context, interval time.Duration)
}

type storage struct {
	log     *slog.Logger
	cfg     *config.Config
	metrics *observability.Metrics

	mu   sync.RWMutex
	jobs map[string]*entity.Job // job ID : job
}

// New creates a new in-memory storage instance and starts its cleanup loop.
func New(ctx context.Context, log *slog.Logger, cfg *config.Config, metrics *observability.Metrics) Storer {
	storage := &storage{
		log:     log.With(slog.String("package", "storage")),
		cfg:     cfg,
		metrics: metrics,
		jobs:    make(map[string]*entity.Job),
	}

	if cfg.Storage.CleanupInterval > 0 {
		go storage.CleanupExpiredJobs(ctx, cfg.Storage.CleanupInterval)
	}

	return storage
}

func (stg *storage) SetJob(ctx context.Context, job entity.Job) {
	if job.ID == "" {
		stg.log.ErrorContext(ctx, "set job: empty job id")

		return
	}

	job.Messages = slices.Clone(job.Messages)

	stg.mu.Lock()
	stg.jobs[job.ID] = &job
	count := len(stg.jobs)
	stg.mu.Unlock()

	stg.metrics.SetStoredJobs(count)
}

func (stg *storage) GetJobByURLAndQuality(ctx context.Context, url, quality string) (entity.Job, bool) {
	return stg.GetJobByID(ctx, gen.UUIDv5(urls.SourceKey(url), quality))
}

func (stg *storage) GetJobByID(_ context.Context, id string) (entity.Job, bool) {
	stg.mu.RLock()
	defer stg.mu.RUnlock()

	job, ok := stg.jobs[id]
	if !ok {
		return entity.Job{}, false
	}

	return clone(job), true
}

// GetJobs returns every job, newest first.
func (stg *storage) GetJobs(_ context.Context) ([]entity.Job, error) {
	stg.mu.RLock()
	defer stg.mu.RUnlock()

	if len(stg.jobs) == 0 {
		return nil, errs.ErrNoJobs
	}

	jobs := make([]entity.Job, 0, len(stg.jobs))
	for _, job := range stg.jobs {
		jobs = append(jobs, clone(job))
	}

	slices.SortFunc(jobs, func(a, b entity.Job) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), strings.Compare(a.ID, b.ID))
	})

	return jobs, nil
}

// UpdateJobStatus records a status change. A settled job keeps its final status,
// and progress never moves backwards.
func (stg *storage) UpdateJobStatus(ctx context.Context,
	id string,
	status entity.JobStatus,
	progress int,
	errorMsg string) {
	stg.mu.Lock()
	defer stg.mu.Unlock()

	job, ok := stg.jobs[id]
	if !ok {
		stg.log.WarnContext(ctx, "update job status: job not found", slog.String("job_id", id))

		return
	}

	if job.Status.Settled() {
		stg.log.DebugContext(ctx, "late update for settled job ignored",
			slog.String("job_id", id), slog.String("status", string(status)))

		return
	}

	job.Status = status
	job.UpdatedAt = time.Now()

	if progress > job.Progress {
		job.Progress = progress
	}

	if errorMsg != "" {
		job.Error = errorMsg
	}

	job.EstimatedETA = 0
	if status == entity.JobStatusDownloading {
		job.EstimatedETA = calc.ETA(job.Progress, time.Since(job.CreatedAt))
	}

	stg.log.DebugContext(ctx, "job status updated", "job", *job)
}

func (stg *storage) SetJobOutput(ctx context.Context, id, output string) {
	stg.mu.Lock()
	defer stg.mu.Unlock()

	job, ok := stg.jobs[id]
	if !ok {
		stg.log.WarnContext(ctx, "set job output: job not found", slog.String("job_id", id))

		return
	}

	job.Output = output
	job.UpdatedAt = time.Now()
}

func (stg *storage) AddJobMessage(ctx context.Context, id string, msg entity.Message) {
	stg.mu.Lock()
	defer stg.mu.Unlock()

	job, ok := stg.jobs[id]
	if !ok {
		stg.log.WarnContext(ctx, "add job message: job not found", slog.String("job_id", id))

		return
	}

	if msg.At.IsZero() {
		msg.At = time.Now()
	}

	job.Messages = append(job.Messages, msg)
	if len(job.Messages) > maxMessages {
		job.Messages = slices.Clone(job.Messages[len(job.Messages)-maxMessages:])
	}
}

func clone(job *entity.Job) entity.Job {
	c := *job
	c.Messages = slices.Clone(job.Messages)

	return c
}
