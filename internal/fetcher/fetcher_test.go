//nolint:testpackage // using internal package access to cover private helpers
package fetcher

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"tubefetch/internal/errs"
	"tubefetch/internal/token"
)

type rtFunc func(*http.Request) (*http.Response, error)

func (f rtFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func response(req *http.Request, code int, body string) *http.Response {
	return &http.Response{
		StatusCode:    code,
		Header:        make(http.Header),
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func redirect(req *http.Request, location string) *http.Response {
	resp := response(req, http.StatusFound, "")
	resp.Header.Set("Location", location)

	return resp
}

// stallBody blocks until the request is cancelled.
type stallBody struct {
	req     *http.Request
	started chan struct{}
}

func (b *stallBody) Read([]byte) (int, error) {
	if b.started != nil {
		close(b.started)
		b.started = nil
	}

	<-b.req.Context().Done()

	return 0, b.req.Context().Err()
}

func (b *stallBody) Close() error { return nil }

func testOptions() Options {
	return Options{
		MaxRedirects:  10,
		MaxRetries:    4,
		IdleTimeout:   5 * time.Second,
		BackoffBase:   time.Second,
		BackoffFactor: 2,
	}
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	opts := Options{BackoffBase: 500 * time.Millisecond, BackoffFactor: 3}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 500 * time.Millisecond},
		{attempt: 1, want: 500 * time.Millisecond},
		{attempt: 2, want: 1500 * time.Millisecond},
		{attempt: 3, want: 4500 * time.Millisecond},
	}

	for _, tc := range tests {
		if got := opts.Backoff(tc.attempt); got != tc.want {
			t.Errorf("Backoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestFetchFollowsRedirects(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32

	f := New(slog.Default(), testOptions(), WithTransport(rtFunc(func(r *http.Request) (*http.Response, error) {
		requests.Add(1)

		switch r.URL.Path {
		case "/start":
			return redirect(r, "/middle"), nil
		case "/middle":
			return redirect(r, "https://cdn.example.com/final"), nil
		default:
			if r.URL.Host != "cdn.example.com" {
				t.Errorf("unexpected host %q", r.URL.Host)
			}

			return response(r, http.StatusOK, "binary-payload"), nil
		}
	})))

	dest := filepath.Join(t.TempDir(), "nested", "tool")

	err := f.Fetch(t.Context(), "https://example.com/start", dest, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}

	if string(data) != "binary-payload" {
		t.Errorf("dest content = %q", data)
	}

	if requests.Load() != 3 {
		t.Errorf("requests = %d, want 3", requests.Load())
	}
}

func TestFetchTooManyRedirects(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32

	opts := testOptions()
	opts.MaxRedirects = 2

	f := New(slog.Default(), opts, WithTransport(rtFunc(func(r *http.Request) (*http.Response, error) {
		requests.Add(1)

		return redirect(r, "/loop"), nil
	})))

	dest := filepath.Join(t.TempDir(), "tool")

	err := f.Fetch(t.Context(), "https://example.com/loop", dest, nil)
	if !errors.Is(err, errs.ErrTooManyRedirects) {
		t.Fatalf("expected ErrTooManyRedirects, got %v", err)
	}

	if errs.IsRetryable(err) {
		t.Error("redirect exhaustion must not be retryable")
	}

	if requests.Load() != 3 {
		t.Errorf("requests = %d, want 3", requests.Load())
	}
}

func TestFetchRetriesServerErrorsWithBackoff(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		var stamps []time.Time

		f := New(slog.Default(), testOptions(), WithTransport(rtFunc(func(r *http.Request) (*http.Response, error) {
			stamps = append(stamps, time.Now())

			return response(r, http.StatusServiceUnavailable, "busy"), nil
		})))

		dest := filepath.Join(t.TempDir(), "tool")

		err := f.Fetch(t.Context(), "https://example.com/tool", dest, token.New())

		var netErr *errs.NetworkError
		if !errors.As(err, &netErr) || netErr.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("expected 503 NetworkError, got %v", err)
		}

		if len(stamps) != 4 {
			t.Fatalf("attempts = %d, want 4", len(stamps))
		}

		for i := 1; i < len(stamps); i++ {
			want := f.opts.Backoff(i)
			if gap := stamps[i].Sub(stamps[i-1]); gap < want {
				t.Errorf("delay before attempt %d = %v, want >= %v", i+1, gap, want)
			}
		}

		if _, err := os.Stat(dest); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("partial file must be removed, stat err = %v", err)
		}
	})
}

func TestFetchRetriesTooManyRequests(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		var requests int

		f := New(slog.Default(), testOptions(), WithTransport(rtFunc(func(r *http.Request) (*http.Response, error) {
			requests++
			if requests < 3 {
				return response(r, http.StatusTooManyRequests, ""), nil
			}

			return response(r, http.StatusOK, "ok"), nil
		})))

		dest := filepath.Join(t.TempDir(), "tool")

		if err := f.Fetch(t.Context(), "https://example.com/tool", dest, nil); err != nil {
			t.Fatalf("Fetch: %v", err)
		}

		if requests != 3 {
			t.Errorf("requests = %d, want 3", requests)
		}
	})
}

func TestFetchClientErrorIsTerminal(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32

	f := New(slog.Default(), testOptions(), WithTransport(rtFunc(func(r *http.Request) (*http.Response, error) {
		requests.Add(1)

		return response(r, http.StatusNotFound, "missing"), nil
	})))

	err := f.Fetch(t.Context(), "https://example.com/tool", filepath.Join(t.TempDir(), "tool"), nil)

	var netErr *errs.NetworkError
	if !errors.As(err, &netErr) || netErr.StatusCode != http.StatusNotFound || netErr.Retryable {
		t.Fatalf("expected terminal 404 NetworkError, got %v", err)
	}

	if requests.Load() != 1 {
		t.Errorf("requests = %d, want 1", requests.Load())
	}
}

func TestFetchSizeMismatch(t *testing.T) {
	t.Parallel()

	const (
		declared = 10485760
		written  = 10000000
	)

	var requests atomic.Int32

	opts := testOptions()
	opts.MaxRetries = 3
	opts.BackoffBase = time.Millisecond

	f := New(slog.Default(), opts, WithTransport(rtFunc(func(r *http.Request) (*http.Response, error) {
		requests.Add(1)

		return &http.Response{
			StatusCode:    http.StatusOK,
			Header:        make(http.Header),
			Body:          io.NopCloser(bytes.NewReader(make([]byte, written))),
			ContentLength: declared,
			Request:       r,
		}, nil
	})))

	dest := filepath.Join(t.TempDir(), "tool")

	err := f.Fetch(t.Context(), "https://example.com/tool", dest, nil)
	if !errors.Is(err, errs.ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}

	if requests.Load() != 3 {
		t.Errorf("requests = %d, want 3", requests.Load())
	}

	if _, err := os.Stat(dest); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("partial file must be removed, stat err = %v", err)
	}
}

func TestFetchStallIsRetried(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		var requests int

		opts := testOptions()
		opts.MaxRetries = 2

		f := New(slog.Default(), opts, WithTransport(rtFunc(func(r *http.Request) (*http.Response, error) {
			requests++

			return &http.Response{
				StatusCode:    http.StatusOK,
				Header:        make(http.Header),
				Body:          &stallBody{req: r},
				ContentLength: -1,
				Request:       r,
			}, nil
		})))

		start := time.Now()

		err := f.Fetch(t.Context(), "https://example.com/tool", filepath.Join(t.TempDir(), "tool"), nil)
		if !errors.Is(err, errs.ErrStalled) {
			t.Fatalf("expected ErrStalled, got %v", err)
		}

		if requests != 2 {
			t.Errorf("requests = %d, want 2", requests)
		}

		if elapsed := time.Since(start); elapsed < 2*opts.IdleTimeout+opts.Backoff(1) {
			t.Errorf("elapsed = %v, stalls should wait for the idle timeout", elapsed)
		}
	})
}

func TestFetchCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		var requests int

		opts := testOptions()
		opts.BackoffBase = 10 * time.Second

		f := New(slog.Default(), opts, WithTransport(rtFunc(func(r *http.Request) (*http.Response, error) {
			requests++

			return response(r, http.StatusBadGateway, ""), nil
		})))

		tok := token.New()

		go func() {
			time.Sleep(time.Second)
			tok.Cancel("user stop")
		}()

		err := f.Fetch(t.Context(), "https://example.com/tool", filepath.Join(t.TempDir(), "tool"), tok)
		if !errs.IsCancelled(err) {
			t.Fatalf("expected cancellation, got %v", err)
		}

		if requests != 1 {
			t.Errorf("requests = %d, cancellation must not be retried", requests)
		}
	})
}

func TestFetchAbortByDest(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		var requests int

		started := make(chan struct{})

		f := New(slog.Default(), testOptions(), WithTransport(rtFunc(func(r *http.Request) (*http.Response, error) {
			requests++

			return &http.Response{
				StatusCode:    http.StatusOK,
				Header:        make(http.Header),
				Body:          &stallBody{req: r, started: started},
				ContentLength: -1,
				Request:       r,
			}, nil
		})))

		tok := token.New()
		dest := filepath.Join(t.TempDir(), "tool")

		go func() {
			<-started
			tok.Abort(dest)
		}()

		err := f.Fetch(t.Context(), "https://example.com/tool", dest, tok)
		if !errs.IsCancelled(err) {
			t.Fatalf("expected cancellation, got %v", err)
		}

		if requests != 1 {
			t.Errorf("requests = %d, an aborted fetch must not be retried", requests)
		}

		if tok.Cancelled() {
			t.Error("aborting one fetch must not cancel the token")
		}

		if _, err := os.Stat(dest); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("partial file must be removed, stat err = %v", err)
		}
	})
}

func TestFetchCancelledBeforeStart(t *testing.T) {
	t.Parallel()

	f := New(slog.Default(), testOptions(), WithTransport(rtFunc(func(*http.Request) (*http.Response, error) {
		t.Error("no request may be sent for a cancelled token")

		return nil, errors.New("unreachable")
	})))

	tok := token.New()
	tok.Cancel("stop")

	err := f.Fetch(t.Context(), "https://example.com/tool", filepath.Join(t.TempDir(), "tool"), tok)
	if !errs.IsCancelled(err) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestGet(t *testing.T) {
	t.Parallel()

	f := New(slog.Default(), testOptions(), WithTransport(rtFunc(func(r *http.Request) (*http.Response, error) {
		return response(r, http.StatusOK, "abc  file"), nil
	})))

	data, err := f.Get(t.Context(), "https://example.com/SHA2-256SUMS", nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if string(data) != "abc  file" {
		t.Errorf("Get() = %q", data)
	}
}
