package backend

import (
	"strings"
	"testing"

	"github.com/Kitware/cmd-queue/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlurmBackendDependencyWiring(t *testing.T) {
	q := graph.NewQueue("demo")
	a, _ := q.Submit(graph.SubmitOptions{Name: "a", Command: "true"})
	b, _ := q.Submit(graph.SubmitOptions{Name: "b", Command: "true", Depends: []graph.DependsRef{graph.DependsOnJob(a)}})
	c, _ := q.Submit(graph.SubmitOptions{Name: "c", Command: "true"})
	_, _ = q.Submit(graph.SubmitOptions{Name: "d", Command: "true", Depends: []graph.DependsRef{graph.DependsOnJob(b), graph.DependsOnJob(c)}})

	backend := NewSlurmBackend(q, t.TempDir(), SlurmOptions{})
	artifact, err := backend.FinalizeText()
	require.NoError(t, err)
	require.Len(t, artifact.Scripts, 1)

	var script string
	for _, text := range artifact.Scripts {
		script = text
	}

	assert.Contains(t, script, "--dependency=afterok:${JOB_000}")
	assert.Contains(t, script, "--dependency=afterok:${JOB_001}:${JOB_002}")

	defIdx := strings.Index(script, "JOB_000=$(sbatch")
	useIdx := strings.Index(script, "${JOB_000}")
	require.NotEqual(t, -1, defIdx)
	require.NotEqual(t, -1, useIdx)
	assert.Less(t, defIdx, useIdx, "JOB_NNN must be defined before it's referenced")
}

func TestSlurmBackendEmitsParsableAndJobName(t *testing.T) {
	q := graph.NewQueue("demo")
	_, _ = q.Submit(graph.SubmitOptions{Name: "a", Command: "echo hi"})

	backend := NewSlurmBackend(q, t.TempDir(), SlurmOptions{})
	artifact, err := backend.FinalizeText()
	require.NoError(t, err)

	for _, text := range artifact.Scripts {
		assert.Contains(t, text, "--parsable")
		assert.Contains(t, text, "--job-name='a'")
	}
}

func TestSlurmBackendNormalizesMemHint(t *testing.T) {
	q := graph.NewQueue("demo")
	_, _ = q.Submit(graph.SubmitOptions{Name: "a", Command: "true", Hints: graph.ResourceHints{Mem: "8GB"}})

	backend := NewSlurmBackend(q, t.TempDir(), SlurmOptions{})
	artifact, err := backend.FinalizeText()
	require.NoError(t, err)

	for _, text := range artifact.Scripts {
		assert.Contains(t, text, "--mem=8192mb")
	}
}

func TestSlurmBackendRejectsInvalidMemHint(t *testing.T) {
	q := graph.NewQueue("demo")
	_, _ = q.Submit(graph.SubmitOptions{Name: "a", Command: "true", Hints: graph.ResourceHints{Mem: "not-a-size"}})

	backend := NewSlurmBackend(q, t.TempDir(), SlurmOptions{})
	_, err := backend.FinalizeText()
	require.Error(t, err)
}

func TestSlurmBackendAppendsPassthroughFlags(t *testing.T) {
	q := graph.NewQueue("demo")
	_, _ = q.Submit(graph.SubmitOptions{Name: "a", Command: "true"})

	backend := NewSlurmBackend(q, t.TempDir(), SlurmOptions{PassthroughFlags: []string{"--qos=high"}})
	artifact, err := backend.FinalizeText()
	require.NoError(t, err)

	for _, text := range artifact.Scripts {
		assert.Contains(t, text, "--qos=high")
	}
}

func TestApplySqueueOutputNormalizesStates(t *testing.T) {
	byName := map[string]*JobState{
		"a": {Name: "a"},
		"b": {Name: "b"},
	}
	applySqueueOutput("1001 a R\n1002 b PD\n", byName)

	assert.Equal(t, graph.StateStarted, byName["a"].State)
	assert.Equal(t, graph.StatePending, byName["b"].State)
}
