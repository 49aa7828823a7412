// Package state implements StateReader: a uniform progress snapshot over a
// session directory's job_info files, consumed by an external monitor
// (spec.md §4.6). It never imports a rendering library (spec.md §9 "Rich/
// textual monitor coupling: keep the monitor as an external consumer").
package state

import (
	"context"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Kitware/cmd-queue/internal/graph"
	"github.com/Kitware/cmd-queue/internal/paths"
)

// JobSnapshot is one job's state as read back from its touch-files.
type JobSnapshot struct {
	JobName   string
	State     graph.State
	StartedAt int64 // unix seconds, 0 if unknown
	ExitCode  int   // only meaningful when State == graph.StateFailed
}

// Snapshot is a point-in-time view of every job in a session.
type Snapshot struct {
	Jobs []JobSnapshot
}

// AllTerminal reports whether every job in the snapshot has reached
// {passed, failed, skipped}.
func (s Snapshot) AllTerminal() bool {
	for _, j := range s.Jobs {
		if j.State != graph.StatePassed && j.State != graph.StateFailed && j.State != graph.StateSkipped {
			return false
		}
	}
	return true
}

// StateReader performs one-shot and watched reads of a session directory's
// job_info files (spec.md §4.6, §3 "Ownership": readers must tolerate
// absence and partial writes, treating any parse failure as still
// running).
type StateReader struct {
	session paths.Session
}

// NewStateReader returns a StateReader for the given session.
func NewStateReader(session paths.Session) *StateReader {
	return &StateReader{session: session}
}

// Read performs a single pass over job_info/*.stat|.pass|.fail for the
// given job names, tolerating partial or absent files.
func (r *StateReader) Read(jobNames []string) Snapshot {
	jobs := make([]JobSnapshot, 0, len(jobNames))
	for _, name := range jobNames {
		jobs = append(jobs, r.readOne(name))
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].JobName < jobs[j].JobName })
	return Snapshot{Jobs: jobs}
}

func (r *StateReader) readOne(name string) JobSnapshot {
	jp := r.session.JobPathsFor(name)
	snap := JobSnapshot{JobName: name, State: graph.StatePending}

	if fileExists(jp.FailFpath) {
		snap.State = graph.StateFailed
	} else if fileExists(jp.PassFpath) {
		snap.State = graph.StatePassed
	}

	if raw, err := os.ReadFile(jp.StatFpath); err == nil {
		if parsed, ok := parseStatLine(string(raw)); ok {
			snap.StartedAt = parsed.startedAt
			snap.ExitCode = parsed.exitCode
			if snap.State == graph.StatePending && (parsed.state == graph.StateStarted || parsed.state == graph.StateSkipped) {
				// No .pass/.fail yet: trust .stat for started/skipped,
				// since those have no corresponding touch-file.
				snap.State = parsed.state
			}
		}
		// A parse failure leaves snap at whatever .pass/.fail already
		// determined, or StatePending — "treat any parse failure as still
		// running" (spec.md §3).
	}

	return snap
}

type parsedStat struct {
	state     graph.State
	startedAt int64
	exitCode  int
}

// parseStatLine parses "<state> <epoch-seconds> [<exit-code>]" (spec.md
// §6). Malformed lines report ok=false so the caller falls back to
// touch-file existence alone.
func parseStatLine(line string) (parsedStat, bool) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) < 2 {
		return parsedStat{}, false
	}

	var state graph.State
	switch fields[0] {
	case "started":
		state = graph.StateStarted
	case "skipped":
		state = graph.StateSkipped
	case "passed":
		state = graph.StatePassed
	case "failed":
		state = graph.StateFailed
	default:
		return parsedStat{}, false
	}

	startedAt, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return parsedStat{}, false
	}

	exitCode := 0
	if len(fields) >= 3 {
		exitCode, _ = strconv.Atoi(fields[2])
	}

	return parsedStat{state: state, startedAt: startedAt, exitCode: exitCode}, true
}

// Watch layers a ticker-driven poll loop on top of Read, modeled on the
// corpus's JobPoller.pollLoop: emits an initial snapshot immediately, then
// one per tick, until ctx is canceled or every job reaches a terminal
// state (after which the channel is closed).
func (r *StateReader) Watch(ctx context.Context, jobNames []string, interval time.Duration) <-chan Snapshot {
	out := make(chan Snapshot, 1)

	go func() {
		defer close(out)

		emit := func() bool {
			snap := r.Read(jobNames)
			select {
			case out <- snap:
			case <-ctx.Done():
				return true
			}
			return snap.AllTerminal()
		}

		if emit() {
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if emit() {
					return
				}
			}
		}
	}()

	return out
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
