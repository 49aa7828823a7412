package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Kitware/cmd-queue/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialBackendFinalizeTextIsPure(t *testing.T) {
	q := graph.NewQueue("demo")
	_, _ = q.Submit(graph.SubmitOptions{Name: "a", Command: "echo A"})

	dir := t.TempDir()
	b := NewSerialBackend(q, dir, SerialOptions{})

	_, err := b.FinalizeText()
	require.NoError(t, err)

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries, "FinalizeText must not touch the filesystem")
}

func TestSerialBackendFinalizeTextNeverExitsScript(t *testing.T) {
	q := graph.NewQueue("demo")
	a, _ := q.Submit(graph.SubmitOptions{Name: "a", Command: "false"})
	_, _ = q.Submit(graph.SubmitOptions{Name: "b", Command: "echo B", Depends: []graph.DependsRef{graph.DependsOnJob(a)}})

	b := NewSerialBackend(q, t.TempDir(), SerialOptions{})
	artifact, err := b.FinalizeText()
	require.NoError(t, err)
	require.Len(t, artifact.Scripts, 1)

	for _, text := range artifact.Scripts {
		assert.NotContains(t, text, "\nexit ")
	}
}

func TestSerialBackendWriteMaterializesScriptAndDirectories(t *testing.T) {
	q := graph.NewQueue("demo")
	_, _ = q.Submit(graph.SubmitOptions{Name: "a", Command: "echo A"})

	dir := t.TempDir()
	b := NewSerialBackend(q, dir, SerialOptions{})

	artifact, err := b.Write()
	require.NoError(t, err)

	for path := range artifact.Scripts {
		assert.FileExists(t, path)
	}
	assert.DirExists(t, b.session.JobInfoDpath())
	assert.DirExists(t, b.session.LogsDpath())
}

func TestSerialBackendReadStateReportsPendingBeforeRun(t *testing.T) {
	q := graph.NewQueue("demo")
	_, _ = q.Submit(graph.SubmitOptions{Name: "a", Command: "echo A"})

	b := NewSerialBackend(q, t.TempDir(), SerialOptions{})
	states, err := b.ReadState(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, graph.StatePending, states[0].State)
}

func TestSerialBackendReadStateDerivesFromTouchFiles(t *testing.T) {
	q := graph.NewQueue("demo")
	_, _ = q.Submit(graph.SubmitOptions{Name: "a", Command: "echo A"})
	_, _ = q.Submit(graph.SubmitOptions{Name: "b", Command: "false"})

	b := NewSerialBackend(q, t.TempDir(), SerialOptions{})
	require.NoError(t, os.MkdirAll(b.session.JobInfoDpath(), 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(b.session.JobInfoDpath(), "a.pass"), []byte{}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(b.session.JobInfoDpath(), "b.fail"), []byte{}, 0o644))

	states, err := b.ReadState(context.Background())
	require.NoError(t, err)

	byName := map[string]graph.State{}
	for _, s := range states {
		byName[s.Name] = s.State
	}
	assert.Equal(t, graph.StatePassed, byName["a"])
	assert.Equal(t, graph.StateFailed, byName["b"])
}

func TestSerialBackendIsAlwaysAvailable(t *testing.T) {
	b := NewSerialBackend(graph.NewQueue("demo"), t.TempDir(), SerialOptions{})
	assert.True(t, b.IsAvailable(context.Background()))
}
