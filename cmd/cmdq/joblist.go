package main

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/Kitware/cmd-queue/internal/graph"
)

// jobListFile is the on-disk shape of a job-list TOML file, the thinner
// in-process substitute for the out-of-scope JSON queue-persistence store
// (SPEC_FULL.md §6).
//
//	name = "nightly-build"
//
//	[[job]]
//	name = "fetch"
//	command = "git pull"
//
//	[[job]]
//	name = "build"
//	command = "make"
//	depends = ["fetch"]
type jobListFile struct {
	Name string         `toml:"name"`
	Jobs []jobListEntry `toml:"job"`
}

type jobListEntry struct {
	Name      string   `toml:"name"`
	Command   string   `toml:"command"`
	Depends   []string `toml:"depends"`
	Tags      []string `toml:"tags"`
	CPUs      int      `toml:"cpus"`
	GPUs      int      `toml:"gpus"`
	Mem       string   `toml:"mem"`
	Partition string   `toml:"partition"`
	Begin     string   `toml:"begin"`
}

// loadQueue decodes a job-list TOML file into a *graph.Queue. Dependencies
// are declared by name and resolved by Queue.OrderJobs, so jobs may appear
// in any order in the file.
func loadQueue(path string) (*graph.Queue, error) {
	var file jobListFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("reading job list %s: %w", path, err)
	}
	if file.Name == "" {
		file.Name = "cmdq"
	}

	queue := graph.NewQueue(file.Name)
	for _, entry := range file.Jobs {
		depends := make([]graph.DependsRef, 0, len(entry.Depends))
		for _, dep := range entry.Depends {
			depends = append(depends, graph.DependsOnName(dep))
		}

		_, err := queue.Submit(graph.SubmitOptions{
			Name:    entry.Name,
			Command: entry.Command,
			Depends: depends,
			Tags:    entry.Tags,
			Hints: graph.ResourceHints{
				CPUs:      entry.CPUs,
				GPUs:      entry.GPUs,
				Mem:       entry.Mem,
				Partition: entry.Partition,
				Begin:     entry.Begin,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("job list %s: %w", path, err)
		}
	}

	return queue, nil
}
