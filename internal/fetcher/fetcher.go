// Package fetcher downloads HTTP(S) resources to disk with manual redirect handling,
// idle and per-request timeouts, exponential backoff and Content-Length verification.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tubefetch/internal/config"
	"tubefetch/internal/errs"
	"tubefetch/internal/observability"
	"tubefetch/internal/token"

	"github.com/dustin/go-humanize"
)

const (
	dirPerm = 0o755

	outcomeOK        = "ok"
	outcomeRetry     = "retry"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
)

var errRequestTimeout = errors.New("request timeout")

// Options configures retries and timeouts.
type Options struct {
	// MaxRedirects is the number of redirect hops followed before giving up.
	MaxRedirects int
	// MaxRetries is the total number of attempts per target, including the first one.
	MaxRetries int
	// RequestTimeout bounds a single attempt. Zero disables it.
	RequestTimeout time.Duration
	// IdleTimeout is the longest gap allowed between two received chunks. Zero disables it.
	IdleTimeout time.Duration
	// BackoffBase and BackoffFactor define the delay before attempt n+1: base * factor^(n-1).
	BackoffBase   time.Duration
	BackoffFactor float64
}

// DefaultOptions returns the fetcher defaults.
func DefaultOptions() Options {
	return Options{
		MaxRedirects:   10,
		MaxRetries:     4,
		RequestTimeout: 10 * time.Minute,
		IdleTimeout:    30 * time.Second,
		BackoffBase:    time.Second,
		BackoffFactor:  2,
	}
}

// OptionsFromConfig maps the fetch config section onto Options, keeping defaults for zero values.
func OptionsFromConfig(cfg config.Fetch) Options {
	opts := DefaultOptions()

	if cfg.MaxRedirects > 0 {
		opts.MaxRedirects = cfg.MaxRedirects
	}

	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}

	if cfg.RequestTimeout > 0 {
		opts.RequestTimeout = cfg.RequestTimeout
	}

	if cfg.IdleTimeout > 0 {
		opts.IdleTimeout = cfg.IdleTimeout
	}

	if cfg.BackoffBase > 0 {
		opts.BackoffBase = cfg.BackoffBase
	}

	if cfg.BackoffFactor > 0 {
		opts.BackoffFactor = cfg.BackoffFactor
	}

	return opts
}

// Backoff returns the delay scheduled after the given failed attempt (1-based).
func (o Options) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	return time.Duration(float64(o.BackoffBase) * math.Pow(o.BackoffFactor, float64(attempt-1)))
}

// Fetcher performs resilient downloads.
type Fetcher struct {
	log     *slog.Logger
	opts    Options
	client  *http.Client
	metrics *observability.Metrics
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) { f.client.Transport = rt }
}

// WithMetrics records attempts and bytes.
func WithMetrics(m *observability.Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// New creates a fetcher. Redirects are never followed by the HTTP client itself.
func New(log *slog.Logger, opts Options, options ...Option) *Fetcher {
	f := &Fetcher{
		log:  log.With(slog.String("package", "fetcher")),
		opts: opts,
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}

	for _, o := range options {
		o(f)
	}

	return f
}

// Options returns the options the fetcher was created with.
func (f *Fetcher) Options() Options {
	return f.opts
}

// Fetch downloads rawURL into dest. While in flight, tok.Abort(dest) cancels the transfer.
// On any failure the partially written dest is removed.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, dest string, tok *token.Token) (err error) {
	log := f.log.With(slog.String("url", rawURL), slog.String("dest", dest))

	ctx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	err = tok.SetAbort(dest, abort)
	if err != nil {
		return err
	}
	defer tok.ClearAbort(dest)

	err = os.MkdirAll(filepath.Dir(dest), dirPerm)
	if err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}

	dst := &fileTarget{path: dest}

	defer func() {
		closeErr := dst.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("close destination: %w", closeErr)
		}

		if err == nil {
			return
		}

		if rmErr := os.Remove(dest); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.WarnContext(ctx, "failed to remove partial file", slog.Any("error", rmErr))
		}
	}()

	n, err := f.run(ctx, rawURL, tok, dst)
	if err != nil {
		log.WarnContext(ctx, "fetch failed", slog.Any("error", err))

		return err
	}

	log.InfoContext(ctx, "fetched", slog.String("size", humanize.Bytes(uint64(max(n, 0)))))

	return nil
}

// Get downloads rawURL into memory with the same redirect and retry policy as Fetch.
func (f *Fetcher) Get(ctx context.Context, rawURL string, tok *token.Token) ([]byte, error) {
	dst := &bufferTarget{}

	_, err := f.run(ctx, rawURL, tok, dst)
	if err != nil {
		return nil, err
	}

	return dst.buf.Bytes(), nil
}

// run drives redirects and retries until success or a terminal error.
func (f *Fetcher) run(ctx context.Context, rawURL string, tok *token.Token, dst target) (int64, error) {
	ctx, cancel := tok.Bind(ctx)
	defer cancel()

	current := rawURL
	hops := 0
	attempt := 0

	for {
		if err := cancellation(ctx, tok); err != nil {
			f.metrics.RecordFetchAttempt(outcomeCancelled)

			return 0, err
		}

		attempt++

		location, n, err := f.attempt(ctx, current, dst)
		if err == nil && location == "" {
			f.metrics.RecordFetchAttempt(outcomeOK)

			return n, nil
		}

		if err == nil {
			hops++
			if hops > f.opts.MaxRedirects {
				f.metrics.RecordFetchAttempt(outcomeFailed)

				return 0, &errs.NetworkError{URL: rawURL, Err: errs.ErrTooManyRedirects}
			}

			f.log.DebugContext(ctx, "following redirect",
				slog.String("from", current), slog.String("to", location), slog.Int("hop", hops))

			current = location
			attempt = 0

			continue
		}

		if cerr := cancellation(ctx, tok); cerr != nil {
			f.metrics.RecordFetchAttempt(outcomeCancelled)

			return 0, cerr
		}

		if !errs.IsRetryable(err) {
			f.metrics.RecordFetchAttempt(outcomeFailed)

			return 0, err
		}

		if attempt >= f.opts.MaxRetries {
			f.metrics.RecordFetchAttempt(outcomeFailed)

			return 0, fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		f.metrics.RecordFetchAttempt(outcomeRetry)
		f.metrics.RecordFetchRetry()

		delay := f.opts.Backoff(attempt)

		f.log.InfoContext(ctx, "retrying fetch",
			slog.String("url", current),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("error", err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			f.metrics.RecordFetchAttempt(outcomeCancelled)

			return 0, cancellation(ctx, tok)
		case <-timer.C:
		}
	}
}

// attempt issues one request. A non-empty location means the response was a redirect.
func (f *Fetcher) attempt(ctx context.Context, rawURL string, dst target) (string, int64, error) {
	reqCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if f.opts.RequestTimeout > 0 {
		var stop context.CancelFunc

		reqCtx, stop = context.WithTimeoutCause(reqCtx, f.opts.RequestTimeout, errRequestTimeout)
		defer stop()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return "", 0, &errs.NetworkError{URL: rawURL, Err: fmt.Errorf("create request: %w", err)}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", 0, transportError(reqCtx, rawURL, err)
	}
	defer resp.Body.Close()

	switch code := resp.StatusCode; {
	case isRedirect(code):
		loc := resp.Header.Get("Location")
		if loc == "" {
			return "", 0, &errs.NetworkError{URL: rawURL, StatusCode: code, Err: errs.ErrUnexpectedStatus}
		}

		next, err := req.URL.Parse(loc)
		if err != nil {
			return "", 0, &errs.NetworkError{URL: rawURL, StatusCode: code, Err: fmt.Errorf("parse location: %w", err)}
		}

		return next.String(), 0, nil
	case code >= http.StatusInternalServerError || code == http.StatusTooManyRequests:
		return "", 0, &errs.NetworkError{URL: rawURL, StatusCode: code, Retryable: true, Err: errs.ErrUnexpectedStatus}
	case code != http.StatusOK:
		return "", 0, &errs.NetworkError{URL: rawURL, StatusCode: code, Err: errs.ErrUnexpectedStatus}
	}

	w, err := dst.Truncate()
	if err != nil {
		return "", 0, fmt.Errorf("prepare destination: %w", err)
	}

	body := io.Reader(resp.Body)

	if f.opts.IdleTimeout > 0 {
		idle := time.AfterFunc(f.opts.IdleTimeout, func() { cancel(errs.ErrStalled) })
		defer idle.Stop()

		body = &idleReader{r: resp.Body, timer: idle, timeout: f.opts.IdleTimeout}
	}

	n, err := io.Copy(w, body)
	f.metrics.RecordFetchBytes(n)

	if err != nil {
		return "", n, transportError(reqCtx, rawURL, err)
	}

	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return "", n, &errs.NetworkError{
			URL:       rawURL,
			Retryable: true,
			Err:       fmt.Errorf("%w: wrote %d of %d bytes", errs.ErrSizeMismatch, n, resp.ContentLength),
		}
	}

	return "", n, nil
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

// transportError classifies a failed round trip or body read. Cancellation is left to the caller.
func transportError(reqCtx context.Context, rawURL string, err error) error {
	cause := context.Cause(reqCtx)

	switch {
	case errs.IsCancelled(cause):
		return cause
	case errors.Is(cause, errs.ErrStalled):
		return &errs.NetworkError{URL: rawURL, Retryable: true, Err: errs.ErrStalled}
	case errors.Is(cause, errRequestTimeout):
		return &errs.NetworkError{URL: rawURL, Retryable: true, Err: errRequestTimeout}
	default:
		return &errs.NetworkError{URL: rawURL, Retryable: true, Err: err}
	}
}

// cancellation returns a CancellationError when the token or ctx has been stopped.
func cancellation(ctx context.Context, tok *token.Token) error {
	if err := tok.Err(); err != nil {
		return err
	}

	if ctx.Err() == nil {
		return nil
	}

	cause := context.Cause(ctx)
	if errs.IsCancelled(cause) {
		return cause
	}

	return &errs.CancellationError{Reason: cause.Error()}
}

type idleReader struct {
	r       io.Reader
	timer   *time.Timer
	timeout time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.timer.Reset(r.timeout)
	}

	return n, err
}

// target receives the body of the successful attempt.
type target interface {
	// Truncate starts a fresh attempt and returns the writer for it.
	Truncate() (io.Writer, error)
}

type fileTarget struct {
	path string
	file *os.File
}

func (t *fileTarget) Truncate() (io.Writer, error) {
	if t.file != nil {
		if _, err := t.file.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek: %w", err)
		}

		if err := t.file.Truncate(0); err != nil {
			return nil, fmt.Errorf("truncate: %w", err)
		}

		return t.file, nil
	}

	file, err := os.Create(t.path)
	if err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}

	t.file = file

	return file, nil
}

func (t *fileTarget) Close() error {
	if t.file == nil {
		return nil
	}

	err := t.file.Close()
	t.file = nil

	return err
}

type bufferTarget struct {
	buf bytes.Buffer
}

func (t *bufferTarget) Truncate() (io.Writer, error) {
	t.buf.Reset()

	return &t.buf, nil
}
