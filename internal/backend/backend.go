// Package backend implements the tagged-union set of execution backends
// (serial, tmux, slurm, airflow) that turn a finalized internal/graph.Queue
// into an executable artifact (spec.md §4, §9 "Cross-backend polymorphism").
//
// GraphModel never imports this package; every backend imports
// internal/graph and internal/bashemit instead, avoiding the open
// inheritance hierarchy spec.md's redesign flags call out.
package backend

import (
	"context"
	"fmt"

	"github.com/Kitware/cmd-queue/internal/graph"
	cmdqerrors "github.com/Kitware/cmd-queue/pkg/errors"
)

// Kind identifies one of the four backend variants.
type Kind string

const (
	KindSerial  Kind = "serial"
	KindTmux    Kind = "tmux"
	KindSlurm   Kind = "slurm"
	KindAirflow Kind = "airflow"
)

// RunOptions control Backend.Run across all kinds. Not every field applies
// to every kind; a backend ignores fields it has no use for rather than
// rejecting them, since these are host-process execution knobs, not
// DAG-shape options (those live in each backend's own <Kind>Options).
type RunOptions struct {
	// Block waits for completion before Run returns. If false, Run starts
	// the artifact and returns immediately.
	Block bool
	// Capture buffers stdout and returns it in Result.Output. Serial only.
	Capture bool
	// Verbose echoes the underlying subprocess invocations to the backend's
	// logger as they run.
	Verbose bool
}

// Result is what Backend.Run returns once materialization and (optionally)
// execution are done.
type Result struct {
	// ExitCode is non-zero iff at least one job's .fail file exists,
	// aggregated from job_info — never the emitted script's own exit code,
	// which is always zero by design (spec.md §7).
	ExitCode int
	// Output holds captured stdout when RunOptions.Capture was set.
	Output string
}

// Backend is the interface every <Kind>Backend implements. FinalizeText is
// pure (spec.md §3 "Lifecycle"): no file is touched until Write.
type Backend interface {
	Kind() Kind

	// FinalizeText orders the queue and renders the backend's artifact
	// text(s) without touching the filesystem.
	FinalizeText() (Artifact, error)

	// Write materializes the artifact under the queue's session directory.
	Write() (Artifact, error)

	// Run writes the artifact and executes it per opts, returning the
	// aggregated result.
	Run(ctx context.Context, opts RunOptions) (Result, error)

	// ReadState returns the current per-job state snapshot.
	ReadState(ctx context.Context) ([]JobState, error)

	// IsAvailable reports whether this backend's infrastructure (tmux,
	// sbatch, ...) is reachable. Never raises — spec.md §7 "Availability
	// errors ... returned as boolean, never raised."
	IsAvailable(ctx context.Context) bool

	// Kill terminates any live sessions/jobs associated with this backend's
	// queue. Already-terminal jobs' status files are preserved.
	Kill(ctx context.Context) error
}

// Artifact is the set of file paths a backend's FinalizeText/Write produced,
// plus their rendered text (populated even before Write, so callers can
// inspect without touching disk).
type Artifact struct {
	// Scripts maps an absolute path to the bash text that belongs there.
	// Serial and slurm backends populate exactly one entry (the session
	// entry script); tmux populates one per worker plus the bookkeeper.
	Scripts map[string]string
}

// JobState is one job's state as reported by ReadState.
type JobState struct {
	Name      string
	State     graph.State
	StartedAt int64 // unix seconds, 0 if unknown
	ExitCode  int   // only meaningful when State == graph.StateFailed
}

// New constructs a Backend of the given kind, type-asserting opts to the
// matching <Kind>Options. opts may be nil, which selects that kind's
// zero-value options (and its constructor's defaults); a non-nil opts of
// the wrong type fails with UnknownOptionError rather than being silently
// substituted with zero-value options, and an unknown kind fails with
// UnknownBackendError (spec.md §9: "unknown option rejection rather than
// silent storage").
func New(kind Kind, queue *graph.Queue, sessionDpath string, opts interface{}) (Backend, error) {
	switch kind {
	case KindSerial:
		o, err := assertOptions[SerialOptions](string(kind), opts)
		if err != nil {
			return nil, err
		}
		return NewSerialBackend(queue, sessionDpath, o), nil
	case KindTmux:
		o, err := assertOptions[TmuxOptions](string(kind), opts)
		if err != nil {
			return nil, err
		}
		return NewTmuxBackend(queue, sessionDpath, o), nil
	case KindSlurm:
		o, err := assertOptions[SlurmOptions](string(kind), opts)
		if err != nil {
			return nil, err
		}
		return NewSlurmBackend(queue, sessionDpath, o), nil
	case KindAirflow:
		o, err := assertOptions[AirflowOptions](string(kind), opts)
		if err != nil {
			return nil, err
		}
		return NewAirflowBackend(queue, sessionDpath, o), nil
	default:
		return nil, cmdqerrors.NewUnknownBackendError(string(kind))
	}
}

// assertOptions type-asserts opts to T, treating nil as T's zero value and
// any other mismatched type as an error instead of a silent substitution.
func assertOptions[T any](backendName string, opts interface{}) (T, error) {
	var zero T
	if opts == nil {
		return zero, nil
	}
	o, ok := opts.(T)
	if !ok {
		return zero, cmdqerrors.NewUnknownOptionError(backendName, fmt.Sprintf("%T", opts))
	}
	return o, nil
}

// ChangeBackend builds a new Backend of kind around the same *graph.Queue a
// previous backend was wrapping, leaving that backend and its queue
// untouched (spec.md §4.1 "change_backend ... original is unaffected").
func ChangeBackend(current Backend, queue *graph.Queue, sessionDpath string, kind Kind, opts interface{}) (Backend, error) {
	return New(kind, queue, sessionDpath, opts)
}
