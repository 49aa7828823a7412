package graph

import (
	"testing"

	cmdqerrors "github.com/Kitware/cmd-queue/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(jobs []*Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.Name
	}
	return out
}

func TestSubmitAutoNamesJobs(t *testing.T) {
	q := NewQueue("demo")
	j0, err := q.Submit(SubmitOptions{Command: "echo a"})
	require.NoError(t, err)
	j1, err := q.Submit(SubmitOptions{Command: "echo b"})
	require.NoError(t, err)

	assert.Equal(t, "demo-job-0", j0.Name)
	assert.Equal(t, "demo-job-1", j1.Name)
}

func TestSubmitDuplicateNameFails(t *testing.T) {
	q := NewQueue("demo")
	_, err := q.Submit(SubmitOptions{Name: "x", Command: "true"})
	require.NoError(t, err)

	_, err = q.Submit(SubmitOptions{Name: "x", Command: "true"})
	require.Error(t, err)

	var cqErr *cmdqerrors.CmdQueueError
	require.ErrorAs(t, err, &cqErr)
	assert.Equal(t, cmdqerrors.ErrorCodeDuplicateJob, cqErr.Code)
}

func TestOrderJobsRespectsDependsByReference(t *testing.T) {
	q := NewQueue("demo")
	a, _ := q.Submit(SubmitOptions{Name: "a", Command: "echo A"})
	b, _ := q.Submit(SubmitOptions{Name: "b", Command: "echo B", Depends: []DependsRef{DependsOnJob(a)}})
	_, _ = q.Submit(SubmitOptions{Name: "c", Command: "echo C", Depends: []DependsRef{DependsOnJob(b)}})

	ordered, err := q.OrderJobs()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names(ordered))
}

func TestOrderJobsResolvesDependsByNameDeclaredLater(t *testing.T) {
	q := NewQueue("demo")
	_, _ = q.Submit(SubmitOptions{Name: "a", Command: "echo A", Depends: []DependsRef{DependsOnName("b")}})
	_, _ = q.Submit(SubmitOptions{Name: "b", Command: "echo B"})

	ordered, err := q.OrderJobs()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, names(ordered))
}

func TestOrderJobsIsStableUnderTies(t *testing.T) {
	q := NewQueue("demo")
	_, _ = q.Submit(SubmitOptions{Name: "d", Command: "echo D"})
	_, _ = q.Submit(SubmitOptions{Name: "e", Command: "echo E"})
	_, _ = q.Submit(SubmitOptions{Name: "f", Command: "echo F"})

	ordered, err := q.OrderJobs()
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "e", "f"}, names(ordered))
}

func TestOrderJobsDetectsCycle(t *testing.T) {
	q := NewQueue("demo")
	_, _ = q.Submit(SubmitOptions{Name: "a", Command: "true", Depends: []DependsRef{DependsOnName("b")}})
	_, _ = q.Submit(SubmitOptions{Name: "b", Command: "true", Depends: []DependsRef{DependsOnName("a")}})

	_, err := q.OrderJobs()
	require.Error(t, err)

	var cqErr *cmdqerrors.CmdQueueError
	require.ErrorAs(t, err, &cqErr)
	assert.Equal(t, cmdqerrors.ErrorCodeCycleDetected, cqErr.Code)
}

func TestOrderJobsUnresolvedDependencyFails(t *testing.T) {
	q := NewQueue("demo")
	_, _ = q.Submit(SubmitOptions{Name: "a", Command: "true", Depends: []DependsRef{DependsOnName("ghost")}})

	_, err := q.OrderJobs()
	require.Error(t, err)

	var cqErr *cmdqerrors.CmdQueueError
	require.ErrorAs(t, err, &cqErr)
	assert.Equal(t, cmdqerrors.ErrorCodeUnresolvedDependency, cqErr.Code)
}

func TestOrderJobsIsPermutationOfSubmittedJobs(t *testing.T) {
	q := NewQueue("demo")
	a, _ := q.Submit(SubmitOptions{Name: "a", Command: "true"})
	b, _ := q.Submit(SubmitOptions{Name: "b", Command: "true", Depends: []DependsRef{DependsOnJob(a)}})
	c, _ := q.Submit(SubmitOptions{Name: "c", Command: "true"})

	ordered, err := q.OrderJobs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []*Job{a, b, c}, ordered)
}

func TestAllDependsReportsNamesRegardlessOfResolution(t *testing.T) {
	q := NewQueue("demo")
	a, _ := q.Submit(SubmitOptions{Name: "a", Command: "true"})
	_, _ = q.Submit(SubmitOptions{Name: "b", Command: "true", Depends: []DependsRef{DependsOnJob(a)}})

	all := q.AllDepends()
	assert.Equal(t, []string{}, all["a"])
	assert.Equal(t, []string{"a"}, all["b"])
}

func TestHasTag(t *testing.T) {
	q := NewQueue("demo")
	j, _ := q.Submit(SubmitOptions{Name: "a", Command: "true", Tags: []string{"fast", "ci"}})
	assert.True(t, j.HasTag("ci"))
	assert.False(t, j.HasTag("slow"))
}
