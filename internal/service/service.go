// Package service runs download jobs on a worker pool and keeps their state in storage.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tubefetch/internal/config"
	"tubefetch/internal/consts"
	"tubefetch/internal/downloader"
	"tubefetch/internal/entity"
	"tubefetch/internal/errs"
	"tubefetch/internal/format"
	"tubefetch/internal/observability"
	"tubefetch/internal/storage"
	"tubefetch/internal/token"
	"tubefetch/pkg/gen"
	"tubefetch/pkg/urls"
)

const stopReason = "cancelled by user"

// Engine runs a single job to completion.
type Engine interface {
	StartJob(ctx context.Context, tok *token.Token, source, quality string, sink downloader.Sink) (string, error)
	StopDownload(ctx context.Context, tok *token.Token) error
	StopAll(ctx context.Context) error
}

// Job is the job orchestration API used by the delivery layer.
type Job interface {
	Start(ctx context.Context)
	Shutdown(ctx context.Context) error

	Enqueue(ctx context.Context, url, quality string) (entity.Job, error)
	Cancel(ctx context.Context, id string) (entity.Job, error)

	GetByID(ctx context.Context, id string) (entity.Job, bool)
	GetAll(ctx context.Context) ([]entity.Job, error)
}

type job struct {
	log      *slog.Logger
	cfg      *config.Config
	storage  storage.Storer
	engine   Engine
	metrics  *observability.Metrics
	jobQueue chan entity.Job

	mu     sync.Mutex
	tokens map[string]*token.Token // job ID : cancellation token

	wg        sync.WaitGroup
	closed    atomic.Bool
	startOnce sync.Once
}

var _ Job = (*job)(nil)

// New creates the job service. Workers start with Start.
func New(
	cfg *config.Config,
	log *slog.Logger,
	storage storage.Storer,
	engine Engine,
	metrics *observability.Metrics,
) Job {
	return &job{
		log:      log.With(slog.String("package", "service")),
		cfg:      cfg,
		storage:  storage,
		engine:   engine,
		metrics:  metrics,
		jobQueue: make(chan entity.Job, max(cfg.Job.QueueSize, 1)),
		tokens:   make(map[string]*token.Token),
	}
}

func (svc *job) Start(ctx context.Context) {
	svc.startOnce.Do(func() {
		for i := range max(svc.cfg.Job.Workers, 1) {
			svc.wg.Add(1)

			go svc.worker(ctx, i)
		}
	})
}

// Shutdown refuses new jobs, stops the running ones and waits for the workers.
func (svc *job) Shutdown(ctx context.Context) error {
	svc.closed.Store(true)

	stopErr := svc.engine.StopAll(ctx)

	done := make(chan struct{})
	go func() {
		svc.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return stopErr
	case <-ctx.Done():
		return errors.Join(stopErr, fmt.Errorf("wait workers: %w", ctx.Err()))
	}
}

func (svc *job) Enqueue(ctx context.Context, rawURL, quality string) (entity.Job, error) {
	if svc.closed.Load() {
		return entity.Job{}, errs.ErrServiceClosed
	}

	rawURL = urls.FixURL(rawURL)
	if !urls.IsURLValid(rawURL) {
		return entity.Job{}, errs.ErrInvalidURL
	}

	if _, err := format.ParseTarget(quality); err != nil {
		return entity.Job{}, fmt.Errorf("%w: %w", errs.ErrInvalidQuality, err)
	}

	url := urls.Normalize(rawURL)

	existing, ok := svc.storage.GetJobByURLAndQuality(ctx, url, quality)
	if ok && existing.Status != entity.JobStatusError && existing.Status != entity.JobStatusCancelled {
		return existing, errs.ErrJobAlreadyExists
	}

	ttl := svc.cfg.Storage.TTL
	if ttl <= 0 {
		ttl = consts.DefaultJobTTL
	}

	now := time.Now()
	job := entity.Job{
		ID:        gen.UUIDv5(urls.SourceKey(url), quality),
		URL:       url,
		Quality:   quality,
		Status:    entity.JobStatusStarting,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	// The token and the stored job are registered together so a concurrent
	// duplicate always finds the job it lost to.
	svc.mu.Lock()
	if _, running := svc.tokens[job.ID]; running {
		current, _ := svc.storage.GetJobByID(ctx, job.ID)
		svc.mu.Unlock()

		return current, errs.ErrJobAlreadyExists
	}

	svc.tokens[job.ID] = token.NewWithID(job.ID)
	svc.storage.SetJob(ctx, job)
	svc.mu.Unlock()

	svc.metrics.RecordJobCreated()

	select {
	case svc.jobQueue <- job:
		svc.log.InfoContext(ctx, "job enqueued", "job", job)

		return job, nil
	case <-ctx.Done():
		svc.fail(ctx, job.ID, "enqueue cancelled")

		return entity.Job{}, fmt.Errorf("enqueue job canceled: %w", ctx.Err())
	default:
		svc.fail(ctx, job.ID, errs.ErrJobQueueFull.Error())

		return entity.Job{}, fmt.Errorf("%w: %d/%d", errs.ErrJobQueueFull, len(svc.jobQueue), cap(svc.jobQueue))
	}
}

// fail settles a job that never reached a worker.
func (svc *job) fail(ctx context.Context, id, msg string) {
	svc.forget(id)
	svc.storage.UpdateJobStatus(ctx, id, entity.JobStatusError, 0, msg)
	svc.metrics.RecordJobFailed()
}

// Cancel stops a queued or running job. The job settles as cancelled.
func (svc *job) Cancel(ctx context.Context, id string) (entity.Job, error) {
	if id == "" {
		return entity.Job{}, errs.ErrJobIDEmpty
	}

	job, ok := svc.storage.GetJobByID(ctx, id)
	if !ok {
		return entity.Job{}, errs.ErrJobNotFound
	}

	svc.mu.Lock()
	tok := svc.tokens[id]
	svc.mu.Unlock()

	if tok == nil || job.Status.Settled() {
		return job, errs.ErrJobNotActive
	}

	stopCtx, cancel := context.WithTimeout(ctx, consts.DefaultStopTimeout)
	defer cancel()

	tok.Cancel(stopReason)

	err := svc.engine.StopDownload(stopCtx, tok)

	svc.storage.UpdateJobStatus(ctx, id, entity.JobStatusCancelled, 0, "")

	job, _ = svc.storage.GetJobByID(ctx, id)
	if err != nil {
		return job, fmt.Errorf("stop download: %w", err)
	}

	svc.log.InfoContext(ctx, "job cancelled", "job", job)

	return job, nil
}

func (svc *job) worker(ctx context.Context, workerID int) {
	defer svc.wg.Done()

	log := svc.log.With(slog.Int("worker_id", workerID))

	for {
		select {
		case job, ok := <-svc.jobQueue:
			if !ok {
				log.WarnContext(ctx, "job queue closed")

				return
			}

			svc.processJob(ctx, job)
		case <-ctx.Done():
			svc.closed.Store(true)
			log.InfoContext(ctx, "got ctx done signal", slog.Any("error", ctx.Err()))

			return
		}
	}
}

func (svc *job) processJob(ctx context.Context, job entity.Job) {
	log := svc.log.With(slog.String("func", "processJob"), slog.String("job_id", job.ID))

	tok := svc.token(job.ID)
	defer svc.forget(job.ID)

	jobCtx := ctx
	if svc.cfg.Job.Timeout > 0 {
		var cancel context.CancelFunc

		jobCtx, cancel = context.WithTimeout(ctx, svc.cfg.Job.Timeout)
		defer cancel()
	}

	defer svc.metrics.JobTimer()()

	svc.storage.UpdateJobStatus(ctx, job.ID, entity.JobStatusDescribing, 0, "")

	output, err := svc.engine.StartJob(jobCtx, tok, job.URL, job.Quality, &sink{ctx: ctx, svc: svc})

	switch {
	case err == nil:
		svc.storage.SetJobOutput(ctx, job.ID, output)
		svc.storage.UpdateJobStatus(ctx, job.ID, entity.JobStatusFinished, consts.FullProgress, "")
		svc.metrics.RecordJobCompleted()

		log.InfoContext(ctx, "job finished", slog.String("output", output))
	case errs.IsCancelled(err) && tok.Cancelled():
		svc.storage.UpdateJobStatus(ctx, job.ID, entity.JobStatusCancelled, 0, "")
		svc.metrics.RecordJobCancelled()

		log.InfoContext(ctx, "job cancelled", slog.String("reason", tok.Reason()))
	default:
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("job timed out after %s: %w", svc.cfg.Job.Timeout, err)
		}

		svc.storage.UpdateJobStatus(ctx, job.ID, entity.JobStatusError, 0, err.Error())
		svc.metrics.RecordJobFailed()

		log.ErrorContext(ctx, "job failed", slog.Any("error", err))
	}
}

// token returns the job's cancellation token, creating one for jobs enqueued elsewhere.
func (svc *job) token(id string) *token.Token {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	tok, ok := svc.tokens[id]
	if !ok {
		tok = token.NewWithID(id)
		svc.tokens[id] = tok
	}

	return tok
}

func (svc *job) forget(id string) {
	svc.mu.Lock()
	delete(svc.tokens, id)
	svc.mu.Unlock()
}

func (svc *job) GetByID(ctx context.Context, id string) (entity.Job, bool) {
	return svc.storage.GetJobByID(ctx, id)
}

func (svc *job) GetAll(ctx context.Context) ([]entity.Job, error) {
	jobs, err := svc.storage.GetJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("get jobs: %w", err)
	}

	return jobs, nil
}

// sink forwards engine events into storage.
type sink struct {
	ctx context.Context //nolint:containedctx
	svc *job
}

func (s *sink) Progress(jobID string, pct int) {
	s.svc.storage.UpdateJobStatus(s.ctx, jobID, entity.JobStatusDownloading, pct, "")
}

func (s *sink) Toast(jobID, text string, severity entity.Severity) {
	s.svc.storage.AddJobMessage(s.ctx, jobID, entity.Message{Text: text, Severity: severity})

	level := slog.LevelInfo

	switch severity {
	case entity.SeverityWarning:
		level = slog.LevelWarn
	case entity.SeverityError:
		level = slog.LevelError
	case entity.SeverityInfo:
	}

	s.svc.log.Log(s.ctx, level, "job toast", slog.String("job_id", jobID), slog.String("text", text))
}
