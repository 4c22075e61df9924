// Package downloader drives a download job: describe the source, select formats,
// run yt-dlp, track progress and place the final artifact.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gosimple/slug"
	"golang.org/x/sync/errgroup"

	"tubefetch/internal/config"
	"tubefetch/internal/consts"
	"tubefetch/internal/depmanager"
	"tubefetch/internal/entity"
	"tubefetch/internal/errs"
	"tubefetch/internal/format"
	"tubefetch/internal/infocache"
	"tubefetch/internal/observability"
	"tubefetch/internal/token"
)

const (
	maxNameLen  = 120
	defaultName = "download"
	stopReason  = "stopped by request"
)

// partialMarkers are name fragments of files yt-dlp leaves behind mid-transfer.
var partialMarkers = []string{".part", ".ytdl", ".tmp", ".temp"}

// Sink receives job events.
type Sink interface {
	Progress(jobID string, percent int)
	Toast(jobID, text string, severity entity.Severity)
}

// NopSink drops every event.
type NopSink struct{}

// Progress implements Sink.
func (NopSink) Progress(string, int) {}

// Toast implements Sink.
func (NopSink) Toast(string, string, entity.Severity) {}

// Binaries locates provisioned tools.
type Binaries interface {
	BinaryPath(name depmanager.BinaryName) (string, error)
	ToolsDir() (string, error)
}

// Engine runs download jobs. Jobs are independent; the engine enforces no
// single-job policy of its own.
type Engine struct {
	log     *slog.Logger
	cfg     *config.Config
	bins    Binaries
	cache   *infocache.Cache
	metrics *observability.Metrics
	prefs   format.Preferences

	mu     sync.Mutex
	active map[string]*token.Token
}

// New creates a job engine.
func New(log *slog.Logger, cfg *config.Config, bins Binaries, metrics *observability.Metrics) *Engine {
	e := &Engine{
		log:     log.With(slog.String("package", "downloader")),
		cfg:     cfg,
		bins:    bins,
		metrics: metrics,
		prefs:   format.Preferences{Languages: cfg.Format.PreferredLanguages},
		active:  make(map[string]*token.Token),
	}

	e.cache = infocache.New(log, cfg.InfoCache, e.describe, metrics)

	return e
}

// Describe returns the description of source through the info cache.
func (e *Engine) Describe(ctx context.Context, source string, tok *token.Token) (*entity.Description, error) {
	return e.cache.Describe(ctx, source, tok)
}

// StartJob downloads source at the given quality tier and returns the path of the final artifact.
// The token is settled when StartJob returns.
func (e *Engine) StartJob(ctx context.Context, tok *token.Token, source, quality string, sink Sink) (output string, err error) {
	if tok == nil {
		tok = token.New()
	}

	if sink == nil {
		sink = NopSink{}
	}

	log := e.log.With(slog.String("job_id", tok.ID()), slog.String("url", source), slog.String("quality", quality))

	e.track(tok)
	defer e.untrack(tok)

	defer func() {
		switch {
		case err == nil:
			tok.Settle(token.StateCompleted)
			log.InfoContext(ctx, "job completed", slog.String("output", output))
		case errs.IsCancelled(err) && tok.Cancelled():
			tok.Settle(token.StateCancelled)
			log.InfoContext(ctx, "job cancelled", slog.Any("reason", err))
		default:
			tok.Settle(token.StateFailed)
			log.ErrorContext(ctx, "job failed", slog.Any("error", err))
		}
	}()

	target, err := format.ParseTarget(quality)
	if err != nil {
		return "", err
	}

	ctx, cancel := tok.Bind(ctx)
	defer cancel()

	outDir := e.cfg.Dir.Downloads
	if err := os.MkdirAll(outDir, 0o755); err != nil { //nolint:mnd
		return "", fmt.Errorf("create output dir: %w", err)
	}

	tok.SetOutputDir(outDir)

	if err := tok.Transition(token.StateDescribing); err != nil {
		return "", err
	}

	desc, err := e.cache.Describe(ctx, source, tok)
	if err != nil {
		var authErr *errs.AuthorizationRequiredError
		if errors.As(err, &authErr) {
			sink.Toast(tok.ID(), consts.ToastAuthorization, entity.SeverityError)
		}

		return "", fmt.Errorf("describe: %w", err)
	}

	log.DebugContext(ctx, "source described", slog.Any("description", desc))

	if err := tok.Transition(token.StateSelectingFormat); err != nil {
		return "", err
	}

	p, err := e.buildPlan(source, desc, target)
	if err != nil {
		return "", fmt.Errorf("select format: %w", err)
	}

	log.InfoContext(ctx, "format selected",
		slog.String("format", p.selection.FormatSpec()),
		slog.String("resolution", p.label),
		slog.Bool("muxed", p.selection.Muxed),
		slog.Bool("fallback", p.selection.Fallback))

	if p.selection.Fallback {
		sink.Toast(tok.ID(), consts.ToastMuxedFallback, entity.SeverityWarning)
	}

	if err := tok.Transition(token.StateFetching); err != nil {
		return "", err
	}

	tracker := newProgressTracker(p.segments, func(pct int) {
		sink.Progress(tok.ID(), pct)
	})

	tmp, err := e.fetch(ctx, tok, p, outDir, source, tracker)
	if err != nil {
		e.removeJobFiles(outDir, tok.ID())

		return "", err
	}

	if err := tok.Transition(token.StateFinalizing); err != nil {
		e.removeJobFiles(outDir, tok.ID())

		return "", err
	}

	output, err = finalize(tmp, filepath.Join(outDir, artifactName(desc.Title, p.label, filepath.Ext(tmp))))
	if err != nil {
		e.removeJobFiles(outDir, tok.ID())

		return "", err
	}

	tracker.finish()

	return output, nil
}

// fetch runs the yt-dlp download and returns the temp file it produced.
func (e *Engine) fetch(
	ctx context.Context,
	tok *token.Token,
	p plan,
	outDir, source string,
	tracker *progressTracker,
) (string, error) {
	t, err := e.resolveTools()
	if err != nil {
		return "", err
	}

	_, err = e.runProcess(ctx, tok, procSpec{
		role: p.role,
		bin:  t.ytdlp,
		args: e.fetchArgs(p, t, outDir, tok.ID(), source),
		env:  t.env(),
		onLine: func(line string) {
			// data arriving after a stop is discarded
			if tok.Cancelled() {
				return
			}

			if pct, ok := ParseProgress(line); ok {
				tracker.observe(pct)
			}
		},
	})
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}

	return findOutput(outDir, tok.ID(), p.ext)
}

// findOutput locates the finished temp file of a job, preferring the planned extension.
func findOutput(dir, jobID, ext string) (string, error) {
	exact := filepath.Join(dir, tempPrefix+jobID+"."+ext)
	if _, err := os.Stat(exact); err == nil {
		return exact, nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, globEscape(tempPrefix+jobID)+".*"))
	if err != nil {
		return "", fmt.Errorf("find output: %w", err)
	}

	matches = slices.DeleteFunc(matches, isPartial)
	if len(matches) == 0 {
		return "", fmt.Errorf("find output: %w", errs.ErrMalformedOutput)
	}

	slices.Sort(matches)

	for _, m := range matches {
		if strings.EqualFold(filepath.Ext(m), "."+ext) {
			return m, nil
		}
	}

	return matches[0], nil
}

func isPartial(name string) bool {
	base := filepath.Base(name)
	for _, marker := range partialMarkers {
		if strings.Contains(base, marker) {
			return true
		}
	}

	return false
}

func globEscape(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`)

	return r.Replace(s)
}

// artifactName builds "<slug(title)>-<label><ext>".
func artifactName(title, label, ext string) string {
	name := slug.Make(title)
	if len(name) > maxNameLen {
		name = strings.TrimRight(name[:maxNameLen], "-")
	}

	if name == "" {
		name = defaultName
	}

	if label != "" {
		name += "-" + slug.Make(label)
	}

	return name + ext
}

// finalize moves the temp file over dest, replacing any previous file.
func finalize(tmp, dest string) (string, error) {
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("replace %s: %w", dest, err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		return "", fmt.Errorf("finalize: %w", err)
	}

	return dest, nil
}

// removeJobFiles deletes every file the job left under dir, logging failures.
func (e *Engine) removeJobFiles(dir, jobID string) int {
	if dir == "" || jobID == "" {
		return 0
	}

	matches, err := filepath.Glob(filepath.Join(dir, globEscape(tempPrefix+jobID)+"*"))
	if err != nil {
		e.log.Warn("glob job files", slog.String("dir", dir), slog.Any("error", err))

		return 0
	}

	removed := 0

	for _, m := range matches {
		if err := os.RemoveAll(m); err != nil {
			e.log.Warn("remove partial file", slog.String("path", m), slog.Any("error", err))

			continue
		}

		removed++
	}

	return removed
}

// StopDownload cancels the job behind tok, aborts its transfers and terminates
// its subprocesses in parallel, then removes partial files. A nil token is a no-op.
func (e *Engine) StopDownload(ctx context.Context, tok *token.Token) error {
	if tok == nil {
		return nil
	}

	log := e.log.With(slog.String("job_id", tok.ID()))

	tok.Cancel(stopReason)
	aborted := tok.AbortAll()

	var group errgroup.Group

	procs := tok.Processes()
	for role, handle := range procs {
		group.Go(func() error {
			if err := e.stopProcess(ctx, handle); err != nil {
				return fmt.Errorf("stop %s: %w", role, err)
			}

			return nil
		})
	}

	err := group.Wait()

	removed := e.removeJobFiles(tok.OutputDir(), tok.ID())

	log.InfoContext(ctx, "download stopped",
		slog.Int("aborted_fetches", aborted),
		slog.Int("processes", len(procs)),
		slog.Int("removed_files", removed))

	return err
}

// stopProcess sends SIGTERM and kills the process if it has not exited within the grace period.
func (e *Engine) stopProcess(ctx context.Context, h token.Handle) error {
	if err := terminate(h.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		e.log.Debug("terminate failed, killing", slog.Any("error", err))
	}

	timer := time.NewTimer(e.cfg.Job.StopGracePeriod)
	defer timer.Stop()

	select {
	case <-h.Done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := h.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill: %w", err)
	}

	select {
	case <-h.Done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopAll stops every running job.
func (e *Engine) StopAll(ctx context.Context) error {
	e.mu.Lock()
	toks := make([]*token.Token, 0, len(e.active))
	for _, tok := range e.active {
		toks = append(toks, tok)
	}
	e.mu.Unlock()

	var errList []error

	for _, tok := range toks {
		if err := e.StopDownload(ctx, tok); err != nil {
			errList = append(errList, err)
		}
	}

	return errors.Join(errList...)
}

// Active returns the number of jobs in flight.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.active)
}

func (e *Engine) track(tok *token.Token) {
	e.mu.Lock()
	e.active[tok.ID()] = tok
	e.mu.Unlock()
}

func (e *Engine) untrack(tok *token.Token) {
	e.mu.Lock()
	if e.active[tok.ID()] == tok {
		delete(e.active, tok.ID())
	}
	e.mu.Unlock()
}
