// Package graph implements the backend-agnostic DAG model: job submission,
// naming, dependency resolution, topological ordering, and cycle/duplicate
// detection (spec.md §4.1).
package graph

import "github.com/Kitware/cmd-queue/internal/paths"

// State is a job's lifecycle state, as reported by backend ReadState calls
// and StateReader snapshots read back from the generated bash's status
// files.
type State string

const (
	StatePending State = "pending"
	StateStarted State = "started"
	StatePassed  State = "passed"
	StateFailed  State = "failed"
	StateSkipped State = "skipped"
)

// ResourceHints are resource requests opaque to the serial/tmux backends
// beyond appearing in generated comments, and consumed by the slurm
// backend (spec.md §3).
type ResourceHints struct {
	CPUs      int
	GPUs      int
	Mem       string // e.g. "8GB", "512MB" — normalized by the slurm backend
	Partition string
	Begin     string // slurm --begin time spec, passed through verbatim
}

// Job is a single logical unit of execution.
type Job struct {
	Name    string
	Command string
	Tags    []string
	Hints   ResourceHints

	// Bookkeeper marks an internal poller job, never exposed to users
	// (spec.md §3).
	Bookkeeper bool

	// dependsOn holds unresolved dependency references: either an
	// already-resolved *Job (depends=Job) or a name string
	// (depends="name") to be resolved by Queue.OrderJobs.
	dependsOn []depRef

	// submissionIndex breaks topological-sort ties by submission order.
	submissionIndex int

	// Paths is not populated by this package; backends derive per-job
	// paths from paths.Session.JobPathsFor instead.
	Paths paths.JobPaths
}

type depRef struct {
	job  *Job
	name string
}

// DependsOnNames returns the names of every dependency, resolved or not,
// in the order they were declared.
func (j *Job) DependsOnNames() []string {
	names := make([]string, 0, len(j.dependsOn))
	for _, d := range j.dependsOn {
		if d.job != nil {
			names = append(names, d.job.Name)
		} else {
			names = append(names, d.name)
		}
	}
	return names
}

// HasTag reports whether the job carries the given tag.
func (j *Job) HasTag(tag string) bool {
	for _, t := range j.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
