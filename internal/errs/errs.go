// Package errs defines common error variables and the error taxonomy used across the application.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrServiceClosed indicates that the service is closed and cannot accept new jobs.
	ErrServiceClosed = errors.New("service is closed")
	// ErrInvalidRequestBody indicates that the request body is invalid or cannot be parsed.
	ErrInvalidRequestBody = errors.New("invalid request body")
)

// Valid request errors.
var (
	// ErrInvalidURL indicates that the URL field in the request is invalid.
	ErrInvalidURL = errors.New("invalid url field")
	// ErrInvalidQuality indicates that the quality field in the request is invalid.
	ErrInvalidQuality = errors.New("invalid quality field")
	// ErrInvalidToolsDir indicates that the tools directory field in the request is invalid.
	ErrInvalidToolsDir = errors.New("invalid tools_dir field")
)

// Job and storage errors.
var (
	// ErrNoJobs indicates that there are no jobs in storage.
	ErrNoJobs = errors.New("no jobs")
	// ErrJobAlreadyExists indicates that the job already exists in storage with the same URL and quality.
	ErrJobAlreadyExists = errors.New("job already exists")
	// ErrJobNotFound indicates that the job is not found in storage.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobIDEmpty indicates that the job ID is empty.
	ErrJobIDEmpty = errors.New("job_id is empty")
	// ErrJobNotActive indicates that the job already settled and cannot be cancelled.
	ErrJobNotActive = errors.New("job is not active")
	// ErrJobQueueFull indicates that the job queue is full.
	ErrJobQueueFull = errors.New("job queue is full")
)

// Engine errors.
var (
	// ErrCancelled is matched by every CancellationError.
	ErrCancelled = errors.New("download cancelled")
	// ErrRoleBusy indicates that a subprocess is already registered for the role.
	ErrRoleBusy = errors.New("subprocess role already active")
	// ErrNoSuitableFormat indicates that no format satisfies the requested quality tier.
	ErrNoSuitableFormat = errors.New("no suitable format")
	// ErrInvalidTarget indicates that a quality tier string cannot be parsed.
	ErrInvalidTarget = errors.New("invalid quality tier")
	// ErrMalformedOutput indicates that a subprocess produced output that violates the expected schema.
	ErrMalformedOutput = errors.New("malformed subprocess output")
)

// Network errors.
var (
	// ErrStalled indicates that no data was received within the idle timeout.
	ErrStalled = errors.New("transfer stalled")
	// ErrSizeMismatch indicates that the written byte count differs from Content-Length.
	ErrSizeMismatch = errors.New("size mismatch")
	// ErrTooManyRedirects indicates that the redirect budget was exhausted.
	ErrTooManyRedirects = errors.New("too many redirects")
	// ErrUnexpectedStatus indicates a non-success HTTP status.
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// Provisioning errors.
var (
	// ErrBinaryNotFound indicates that the required binary was not found.
	ErrBinaryNotFound = errors.New("binary not found")
	// ErrBinaryUndersized indicates that the installed binary is smaller than expected.
	ErrBinaryUndersized = errors.New("binary undersized")
	// ErrUnsupportedPlatform indicates that the current platform is not supported.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	// ErrNoFallback indicates that no package manager fallback exists for the tool on this platform.
	ErrNoFallback = errors.New("no package manager fallback")
)

// CancellationError reports a cooperative stop. It is never retried.
type CancellationError struct {
	Reason string
}

func (e *CancellationError) Error() string {
	if e.Reason == "" {
		return ErrCancelled.Error()
	}

	return fmt.Sprintf("%s: %s", ErrCancelled, e.Reason)
}

// Is makes every CancellationError match ErrCancelled.
func (e *CancellationError) Is(target error) bool {
	return target == ErrCancelled
}

// NetworkError reports a failed transfer attempt.
type NetworkError struct {
	URL        string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %v: %d", e.URL, e.Err, e.StatusCode)
	}

	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// InstallError reports that a tool could not be provisioned after all fallbacks.
type InstallError struct {
	Tool string
	Err  error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install %s: %v", e.Tool, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// SelectionError reports that no format satisfies a quality tier.
type SelectionError struct {
	Target string
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("%s for %q", ErrNoSuitableFormat, e.Target)
}

func (e *SelectionError) Unwrap() error { return ErrNoSuitableFormat }

// SubprocessError reports a non-zero exit or unparsable output from an external tool.
type SubprocessError struct {
	Tool     string
	Role     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *SubprocessError) Error() string {
	msg := fmt.Sprintf("%s (%s): %v", e.Tool, e.Role, e.Err)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}

	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}

	return msg
}

func (e *SubprocessError) Unwrap() error { return e.Err }

// AuthorizationRequiredError reports that the source demands credentials.
type AuthorizationRequiredError struct {
	Source   string
	Guidance string
}

func (e *AuthorizationRequiredError) Error() string {
	return fmt.Sprintf("%s requires authorization: %s", e.Source, e.Guidance)
}

// IsCancelled reports whether err is a cooperative cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsRetryable reports whether err is a network failure worth another attempt.
func IsRetryable(err error) bool {
	if IsCancelled(err) {
		return false
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Retryable
	}

	return false
}
