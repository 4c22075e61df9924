// Package token provides the cancellation and state handle shared by every stage of a job.
package token

import (
	"context"
	"fmt"
	"os"
	"sync"

	"tubefetch/internal/errs"

	"github.com/google/uuid"
)

// Role names a subprocess slot of a job.
type Role string

// Subprocess roles. At most one process is live per role.
const (
	RoleDescribe Role = "describe"
	RoleVideo    Role = "video"
	RoleAudio    Role = "audio"
	RoleMerge    Role = "merge"
)

// Roles lists every role slot in a fixed order.
var Roles = []Role{RoleDescribe, RoleVideo, RoleAudio, RoleMerge}

// State is a job engine state.
type State int

// Job engine states.
const (
	StateIdle State = iota
	StateDescribing
	StateSelectingFormat
	StateFetching
	StateFinalizing
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDescribing:
		return "describing"
	case StateSelectingFormat:
		return "selecting_format"
	case StateFetching:
		return "fetching"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Process is the part of *os.Process the token needs to stop a subprocess.
type Process interface {
	Signal(sig os.Signal) error
	Kill() error
}

// Handle is a live subprocess registered under a role.
type Handle struct {
	Process Process
	// Done is closed once the process has been waited on.
	Done <-chan struct{}
}

// Token identifies one in-flight job. A nil *Token is valid and never cancelled.
type Token struct {
	id string

	mu        sync.Mutex
	cancelled bool
	reason    string
	done      chan struct{}
	aborts    map[string]context.CancelCauseFunc
	procs     map[Role]Handle
	outputDir string
	state     State
}

// New creates a token with a fresh random id.
func New() *Token {
	return NewWithID(uuid.NewString())
}

// NewWithID creates a token carrying the given id, typically a job id.
func NewWithID(id string) *Token {
	return &Token{
		id:     id,
		done:   make(chan struct{}),
		aborts: make(map[string]context.CancelCauseFunc),
		procs:  make(map[Role]Handle),
	}
}

// ID returns the token id.
func (t *Token) ID() string {
	if t == nil {
		return ""
	}

	return t.id
}

// Cancel marks the token cancelled and aborts every registered fetch.
// It returns false if the token was already cancelled.
func (t *Token) Cancel(reason string) bool {
	if t == nil {
		return false
	}

	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()

		return false
	}

	t.cancelled = true
	t.reason = reason
	close(t.done)

	aborts := t.aborts
	t.aborts = make(map[string]context.CancelCauseFunc)
	t.mu.Unlock()

	cause := &errs.CancellationError{Reason: reason}
	for _, abort := range aborts {
		abort(cause)
	}

	return true
}

// Cancelled reports whether Cancel has been called.
func (t *Token) Cancelled() bool {
	if t == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.cancelled
}

// Reason returns the cancellation reason.
func (t *Token) Reason() string {
	if t == nil {
		return ""
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.reason
}

// Done is closed when the token is cancelled. A nil token returns a nil channel.
func (t *Token) Done() <-chan struct{} {
	if t == nil {
		return nil
	}

	return t.done
}

// Err returns a *errs.CancellationError once the token is cancelled, nil before.
func (t *Token) Err() error {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.cancelled {
		return nil
	}

	return &errs.CancellationError{Reason: t.reason}
}

// Bind derives a context that is cancelled with the token's error when the token is cancelled.
func (t *Token) Bind(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	if t == nil {
		return ctx, func() { cancel(context.Canceled) }
	}

	if err := t.Err(); err != nil {
		cancel(err)

		return ctx, func() {}
	}

	go func() {
		select {
		case <-t.done:
			cancel(t.Err())
		case <-ctx.Done():
		}
	}()

	return ctx, func() { cancel(context.Canceled) }
}

// SetAbort registers the abort handle of an in-flight fetch targeting dest.
func (t *Token) SetAbort(dest string, abort context.CancelCauseFunc) error {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancelled {
		return &errs.CancellationError{Reason: t.reason}
	}

	t.aborts[dest] = abort

	return nil
}

// ClearAbort drops the abort handle for dest.
func (t *Token) ClearAbort(dest string) {
	if t == nil {
		return
	}

	t.mu.Lock()
	delete(t.aborts, dest)
	t.mu.Unlock()
}

// Abort cancels the fetch targeting dest, if any. It reports whether a handle was found.
func (t *Token) Abort(dest string) bool {
	if t == nil {
		return false
	}

	t.mu.Lock()
	abort, ok := t.aborts[dest]
	delete(t.aborts, dest)
	t.mu.Unlock()

	if ok {
		abort(&errs.CancellationError{Reason: "aborted"})
	}

	return ok
}

// AbortAll cancels every registered fetch and returns how many were aborted.
func (t *Token) AbortAll() int {
	if t == nil {
		return 0
	}

	t.mu.Lock()
	aborts := t.aborts
	t.aborts = make(map[string]context.CancelCauseFunc)
	t.mu.Unlock()

	for _, abort := range aborts {
		abort(&errs.CancellationError{Reason: "aborted"})
	}

	return len(aborts)
}

// SetProcess registers a live subprocess under role.
// It fails when the role is occupied or the token is cancelled.
func (t *Token) SetProcess(role Role, proc Process, done <-chan struct{}) error {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancelled {
		return &errs.CancellationError{Reason: t.reason}
	}

	if _, busy := t.procs[role]; busy {
		return fmt.Errorf("%s: %w", role, errs.ErrRoleBusy)
	}

	t.procs[role] = Handle{Process: proc, Done: done}

	return nil
}

// ClearProcess frees the role slot.
func (t *Token) ClearProcess(role Role) {
	if t == nil {
		return
	}

	t.mu.Lock()
	delete(t.procs, role)
	t.mu.Unlock()
}

// Processes returns a snapshot of the live subprocess handles.
func (t *Token) Processes() map[Role]Handle {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	procs := make(map[Role]Handle, len(t.procs))
	for role, h := range t.procs {
		procs[role] = h
	}

	return procs
}

// SetOutputDir records the directory the job writes into.
func (t *Token) SetOutputDir(dir string) {
	if t == nil {
		return
	}

	t.mu.Lock()
	t.outputDir = dir
	t.mu.Unlock()
}

// OutputDir returns the directory the job writes into.
func (t *Token) OutputDir() string {
	if t == nil {
		return ""
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.outputDir
}

// State returns the current engine state.
func (t *Token) State() State {
	if t == nil {
		return StateIdle
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

// Transition moves to a non-terminal state. Cancellation is checked first.
func (t *Token) Transition(next State) error {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancelled {
		return &errs.CancellationError{Reason: t.reason}
	}

	if t.state.Terminal() {
		return fmt.Errorf("transition %s -> %s: job already settled", t.state, next)
	}

	t.state = next

	return nil
}

// Settle moves to a terminal state. Later calls are ignored.
func (t *Token) Settle(final State) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Terminal() {
		return
	}

	t.state = final
}
