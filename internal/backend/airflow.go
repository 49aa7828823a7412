package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/Kitware/cmd-queue/internal/graph"
	"github.com/Kitware/cmd-queue/internal/paths"
	cmdqerrors "github.com/Kitware/cmd-queue/pkg/errors"
)

// AirflowOptions configure AirflowBackend. It carries only the fields
// needed to name the emitted DAG skeleton — per the Open Question
// resolution in SPEC_FULL.md §9, this backend has no execution path.
type AirflowOptions struct {
	DagID string
}

// AirflowBackend is experimental and emits a DAG-definition skeleton only
// (spec.md "Out of scope: the airflow backend (experimental, emits a DAG
// definition skeleton only)"; SPEC_FULL.md §9 resolves the execution-
// semantics Open Question as: leave unimplemented).
type AirflowBackend struct {
	queue   *graph.Queue
	session paths.Session
	opts    AirflowOptions
}

// NewAirflowBackend constructs an AirflowBackend over queue.
func NewAirflowBackend(queue *graph.Queue, sessionDpath string, opts AirflowOptions) *AirflowBackend {
	if opts.DagID == "" {
		opts.DagID = paths.Sanitize(queue.Name)
	}
	return &AirflowBackend{
		queue:   queue,
		session: paths.NewSession(sessionDpath, paths.NewSessionID(queue.Name)),
		opts:    opts,
	}
}

func (b *AirflowBackend) Kind() Kind { return KindAirflow }

// FinalizeText renders a comment-annotated task list describing the DAG
// shape — not a runnable Airflow DAG file, since this backend has no
// execution path.
func (b *AirflowBackend) FinalizeText() (Artifact, error) {
	ordered, err := b.queue.OrderJobs()
	if err != nil {
		return Artifact{}, err
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# airflow dag skeleton: %s\n", b.opts.DagID))
	sb.WriteString("# experimental: no execution path, see task list below\n\n")
	for _, job := range ordered {
		deps := job.DependsOnNames()
		sb.WriteString(fmt.Sprintf("# task %q command=%q depends_on=%v\n", job.Name, job.Command, deps))
	}

	path := b.session.Root() + "/" + b.opts.DagID + "_dag_skeleton.txt"
	return Artifact{Scripts: map[string]string{path: sb.String()}}, nil
}

// Write returns the same Artifact as FinalizeText and writes nothing to
// disk; it exists to satisfy the Backend interface's FinalizeText/Write
// split.
func (b *AirflowBackend) Write() (Artifact, error) {
	return b.FinalizeText()
}

// Run always fails: there is no execution path for this backend.
func (b *AirflowBackend) Run(ctx context.Context, opts RunOptions) (Result, error) {
	return Result{}, cmdqerrors.New(cmdqerrors.ErrorCodeInfrastructureUnavailable, "airflow backend is experimental and has no execution path")
}

// ReadState always returns every job as pending: there is nothing to read,
// since Run never executes anything.
func (b *AirflowBackend) ReadState(ctx context.Context) ([]JobState, error) {
	jobs := b.queue.Jobs()
	out := make([]JobState, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, JobState{Name: j.Name, State: graph.StatePending})
	}
	return out, nil
}

// IsAvailable always reports false: this backend is never runnable.
func (b *AirflowBackend) IsAvailable(ctx context.Context) bool { return false }

// Kill is a no-op: there is nothing running to terminate.
func (b *AirflowBackend) Kill(ctx context.Context) error { return nil }
