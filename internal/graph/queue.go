package graph

import (
	"container/heap"
	"fmt"
	"sync"

	cmdqerrors "github.com/Kitware/cmd-queue/pkg/errors"
)

// SubmitOptions are the explicit fields Queue.Submit accepts, replacing the
// dynamic-kwargs-funnel pattern spec.md §9 flags for redesign: unknown
// fields simply don't compile, rather than being silently stored.
type SubmitOptions struct {
	// Name is optional; if empty, an auto name "<queue>-job-<N>" is
	// assigned.
	Name string
	// Command is the opaque shell string to run.
	Command string
	// Depends may reference jobs already in the queue, or names of jobs
	// that will be declared before OrderJobs runs.
	Depends []DependsRef
	Tags    []string
	Hints   ResourceHints
	// Bookkeeper marks this as an internal poller job.
	Bookkeeper bool
}

// DependsRef is either a resolved *Job or a deferred name.
type DependsRef struct {
	job  *Job
	name string
}

// DependsOnJob references an already-submitted Job.
func DependsOnJob(j *Job) DependsRef { return DependsRef{job: j} }

// DependsOnName references a job by name, resolved by OrderJobs.
func DependsOnName(name string) DependsRef { return DependsRef{name: name} }

// Queue is the ordered set of jobs submitted so far, plus a queue name.
// It is backend-agnostic: backend.Backend wraps a *Queue with
// backend-specific options (spec.md §9: "a shared GraphModel carries the
// jobs").
type Queue struct {
	mu      sync.Mutex
	Name    string
	jobs    []*Job
	byName  map[string]*Job
	counter int
}

// NewQueue creates an empty queue with the given name.
func NewQueue(name string) *Queue {
	return &Queue{
		Name:   name,
		byName: make(map[string]*Job),
	}
}

// Submit appends a job to the queue. Fails with DuplicateJob if the name
// collides with an already-submitted job.
func (q *Queue) Submit(opts SubmitOptions) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("%s-job-%d", q.Name, q.counter)
	}
	q.counter++

	if _, exists := q.byName[name]; exists {
		return nil, cmdqerrors.NewDuplicateJobError(name)
	}

	job := &Job{
		Name:            name,
		Command:         opts.Command,
		Tags:            append([]string(nil), opts.Tags...),
		Hints:           opts.Hints,
		Bookkeeper:      opts.Bookkeeper,
		submissionIndex: len(q.jobs),
	}
	for _, d := range opts.Depends {
		job.dependsOn = append(job.dependsOn, depRef{job: d.job, name: d.name})
	}

	q.jobs = append(q.jobs, job)
	q.byName[name] = job
	return job, nil
}

// Jobs returns the jobs in submission order. Callers must not mutate the
// slice or its elements.
func (q *Queue) Jobs() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Job, len(q.jobs))
	copy(out, q.jobs)
	return out
}

// NamedJobs returns a read-only name -> job map.
func (q *Queue) NamedJobs() map[string]*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]*Job, len(q.byName))
	for k, v := range q.byName {
		out[k] = v
	}
	return out
}

// AllDepends returns, for every job, the resolved names of its
// dependencies (resolved or not).
func (q *Queue) AllDepends() map[string][]string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string][]string, len(q.jobs))
	for _, j := range q.jobs {
		out[j.Name] = j.DependsOnNames()
	}
	return out
}

// resolve binds every deferred name-dependency to its *Job, failing if any
// name never resolved. Idempotent.
func (q *Queue) resolve() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, j := range q.jobs {
		for i, d := range j.dependsOn {
			if d.job != nil {
				continue
			}
			target, ok := q.byName[d.name]
			if !ok {
				return cmdqerrors.NewUnresolvedDependencyError(j.Name, d.name)
			}
			j.dependsOn[i].job = target
		}
	}
	return nil
}

// Dependencies returns the resolved dependency jobs of j. Name references
// are included only once OrderJobs has resolved them.
func (j *Job) Dependencies() []*Job {
	out := make([]*Job, 0, len(j.dependsOn))
	for _, d := range j.dependsOn {
		if d.job != nil {
			out = append(out, d.job)
		}
	}
	return out
}

// OrderJobs resolves dependency names and returns a stable topological
// order via Kahn's algorithm keyed on (in-degree, submission-index), so
// ties follow insertion order (spec.md §4.1). Detects cycles.
func (q *Queue) OrderJobs() ([]*Job, error) {
	if err := q.resolve(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	jobs := make([]*Job, len(q.jobs))
	copy(jobs, q.jobs)
	q.mu.Unlock()

	indexOf := make(map[*Job]int, len(jobs))
	for i, j := range jobs {
		indexOf[j] = i
	}

	inDegree := make(map[*Job]int, len(jobs))
	dependents := make(map[*Job][]*Job, len(jobs))
	for _, j := range jobs {
		inDegree[j] = len(j.Dependencies())
		for _, dep := range j.Dependencies() {
			dependents[dep] = append(dependents[dep], j)
		}
	}

	ready := &jobHeap{}
	heap.Init(ready)
	for _, j := range jobs {
		if inDegree[j] == 0 {
			heap.Push(ready, heapItem{job: j, index: indexOf[j]})
		}
	}

	ordered := make([]*Job, 0, len(jobs))
	for ready.Len() > 0 {
		item := heap.Pop(ready).(heapItem)
		j := item.job
		ordered = append(ordered, j)

		for _, dependent := range dependents[j] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				heap.Push(ready, heapItem{job: dependent, index: indexOf[dependent]})
			}
		}
	}

	if len(ordered) != len(jobs) {
		remaining := make([]string, 0, len(jobs)-len(ordered))
		seen := make(map[*Job]bool, len(ordered))
		for _, j := range ordered {
			seen[j] = true
		}
		for _, j := range jobs {
			if !seen[j] {
				remaining = append(remaining, j.Name)
			}
		}
		return nil, cmdqerrors.NewCycleDetectedError(remaining)
	}

	return ordered, nil
}

// heapItem pairs a ready job with its submission index for deterministic
// tie-breaking.
type heapItem struct {
	job   *Job
	index int
}

// jobHeap is a min-heap over submission index, giving Kahn's algorithm a
// deterministic ready-set ordering (ties follow insertion order).
type jobHeap []heapItem

func (h jobHeap) Len() int            { return len(h) }
func (h jobHeap) Less(i, j int) bool  { return h[i].index < h[j].index }
func (h jobHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }
func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
