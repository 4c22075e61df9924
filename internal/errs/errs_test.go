package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"tubefetch/internal/errs"
)

func TestIsCancelled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "sentinel", err: errs.ErrCancelled, want: true},
		{name: "typed", err: &errs.CancellationError{Reason: "stopped"}, want: true},
		{name: "wrapped typed", err: fmt.Errorf("fetching: %w", &errs.CancellationError{}), want: true},
		{name: "network", err: &errs.NetworkError{Err: errs.ErrStalled, Retryable: true}, want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := errs.IsCancelled(tc.err); got != tc.want {
				t.Errorf("IsCancelled() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "retryable network", err: &errs.NetworkError{Err: errs.ErrSizeMismatch, Retryable: true}, want: true},
		{name: "wrapped retryable", err: fmt.Errorf("attempt 2: %w", &errs.NetworkError{Retryable: true}), want: true},
		{name: "terminal status", err: &errs.NetworkError{Err: errs.ErrUnexpectedStatus, StatusCode: 404}, want: false},
		{name: "cancellation", err: &errs.CancellationError{}, want: false},
		{name: "plain", err: errors.New("boom"), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := errs.IsRetryable(tc.err); got != tc.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSelectionErrorUnwrap(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("select: %w", &errs.SelectionError{Target: "720"})
	if !errors.Is(err, errs.ErrNoSuitableFormat) {
		t.Fatalf("expected ErrNoSuitableFormat, got %v", err)
	}

	var selErr *errs.SelectionError
	if !errors.As(err, &selErr) || selErr.Target != "720" {
		t.Fatalf("expected SelectionError with target 720, got %v", err)
	}
}

func TestSubprocessErrorMessage(t *testing.T) {
	t.Parallel()

	err := &errs.SubprocessError{Tool: "yt-dlp", Role: "describe", ExitCode: 2, Stderr: "ERROR: nope", Err: errors.New("exit status 2")}

	want := "yt-dlp (describe): exit status 2 (exit 2): ERROR: nope"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
