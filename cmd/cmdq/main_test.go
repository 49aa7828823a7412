package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	if rootCmd == nil {
		t.Fatal("rootCmd is nil")
	}

	expected := []string{"run", "show", "version"}
	for _, name := range expected {
		found := false
		for _, cmd := range rootCmd.Commands() {
			if cmd.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("command %s not registered", name)
		}
	}
}

func TestLoadQueueResolvesNamedDependencies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cmdq.toml")
	contents := `
name = "nightly-build"

[[job]]
name = "fetch"
command = "git pull"

[[job]]
name = "build"
command = "make"
depends = ["fetch"]
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	queue, err := loadQueue(path)
	if err != nil {
		t.Fatal(err)
	}

	if queue.Name != "nightly-build" {
		t.Errorf("queue name = %q, want nightly-build", queue.Name)
	}
	if len(queue.Jobs()) != 2 {
		t.Fatalf("got %d jobs, want 2", len(queue.Jobs()))
	}

	if _, err := queue.OrderJobs(); err != nil {
		t.Errorf("unexpected ordering error: %v", err)
	}
}

func TestLoadQueueRejectsDuplicateJobNames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cmdq.toml")
	contents := `
[[job]]
name = "a"
command = "true"

[[job]]
name = "a"
command = "true"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := loadQueue(path); err == nil {
		t.Fatal("expected an error for duplicate job names")
	}
}

func TestLoadQueueDefaultsNameWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cmdq.toml")
	if err := os.WriteFile(path, []byte(`[[job]]
name = "a"
command = "true"
`), 0o644); err != nil {
		t.Fatal(err)
	}

	queue, err := loadQueue(path)
	if err != nil {
		t.Fatal(err)
	}
	if queue.Name != "cmdq" {
		t.Errorf("queue name = %q, want default cmdq", queue.Name)
	}
}

func TestLoadQueueMissingFileErrors(t *testing.T) {
	if _, err := loadQueue(filepath.Join(t.TempDir(), "does-not-exist.toml")); err == nil {
		t.Fatal("expected an error for a missing job list file")
	}
}
