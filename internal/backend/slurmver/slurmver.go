// Package slurmver absorbs the output-format differences across slurm
// 19.x/21.x/23.x that SlurmBackend.IsAvailable and ReadState must tolerate
// (spec.md §4.5), grounded on the corpus's internal/versioning package's
// version-compare shape but applied to CLI output parsing instead of a REST
// API version.
package slurmver

import (
	"fmt"
	"strconv"
	"strings"
)

// nodeStateMarkers are the single-character suffixes sinfo appends to a
// node state across slurm versions: "*" (unresponsive), "~" (powered down),
// "#" (powering up), "!" (pending down).
var nodeStateMarkers = "*~#!"

// downLikeStates are node states that make a node unusable, regardless of
// the version-specific marker suffix.
var downLikeStates = []string{"down", "drain", "drained", "draining", "fail", "failing"}

// StripStateMarker removes any trailing version-specific marker character
// from a raw sinfo state field, e.g. "drain*" -> "drain".
func StripStateMarker(raw string) string {
	return strings.TrimRight(raw, nodeStateMarkers)
}

// IsDownLike reports whether a (marker-stripped) sinfo node state should be
// treated as unavailable.
func IsDownLike(state string) bool {
	stripped := strings.ToLower(StripStateMarker(state))
	for _, down := range downLikeStates {
		if strings.HasPrefix(stripped, down) {
			return true
		}
	}
	return false
}

// AnyNodeAvailable scans the per-line state column of `sinfo -h -o %t`
// output (one state per node/partition row) and reports whether at least
// one node is not down-like (spec.md §4.5 "is_available()").
func AnyNodeAvailable(sinfoOutput string) bool {
	for _, line := range strings.Split(strings.TrimSpace(sinfoOutput), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !IsDownLike(line) {
			return true
		}
	}
	return false
}

// JobState holds the four of GraphModel's five job states that squeue/sacct
// abbreviations normalize to; there is no skipped value.
type JobState string

const (
	JobStatePending JobState = "pending"
	JobStateStarted JobState = "started"
	JobStatePassed  JobState = "passed"
	JobStateFailed  JobState = "failed"
)

// squeueStates maps squeue's %T job-state abbreviations, seen across
// 19.x-23.x, to the shared JobState enum.
var squeueStates = map[string]JobState{
	"PD": JobStatePending,
	"R":  JobStateStarted,
	"CG": JobStateStarted, // completing
	"CD": JobStatePassed,
	"F":  JobStateFailed,
	"TO": JobStateFailed, // timeout
	"CA": JobStateFailed, // cancelled
	"NF": JobStateFailed, // node failure
	"PR": JobStateFailed, // preempted
	"S":  JobStateStarted, // suspended; still occupies the allocation
}

// NormalizeState maps a raw squeue/sacct state abbreviation (case-
// insensitive, optional trailing punctuation from sacct's "COMPLETED" vs
// squeue's "CD" spellings) to JobState. Unknown abbreviations report
// JobStatePending, matching the "absorb unknowns as still-running" posture
// spec.md §3 requires of any state reader.
func NormalizeState(raw string) JobState {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	raw = strings.TrimSuffix(raw, "+")

	if state, ok := squeueStates[raw]; ok {
		return state
	}

	// sacct spells some states out in full rather than abbreviating.
	switch {
	case strings.HasPrefix(raw, "COMPLETED"):
		return JobStatePassed
	case strings.HasPrefix(raw, "RUNNING"):
		return JobStateStarted
	case strings.HasPrefix(raw, "PENDING"):
		return JobStatePending
	case strings.HasPrefix(raw, "FAILED"), strings.HasPrefix(raw, "TIMEOUT"),
		strings.HasPrefix(raw, "CANCELLED"), strings.HasPrefix(raw, "NODE_FAIL"),
		strings.HasPrefix(raw, "PREEMPTED"), strings.HasPrefix(raw, "OUT_OF_MEMORY"):
		return JobStateFailed
	default:
		return JobStatePending
	}
}

// NormalizeMemToMB converts a slurm mem hint ("8GB", "512MB", "2g", "1t")
// into the megabyte integer `sbatch --mem` wants (spec.md §4.5 "normalized
// to megabytes as slurm wants").
func NormalizeMemToMB(spec string) (int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, nil
	}

	unit := "mb"
	numeric := spec
	for _, suffix := range []string{"gb", "mb", "tb", "kb", "g", "m", "t", "k", "b"} {
		if strings.HasSuffix(strings.ToLower(spec), suffix) {
			unit = suffix
			numeric = spec[:len(spec)-len(suffix)]
			break
		}
	}

	value, err := strconv.ParseFloat(numeric, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric mem value %q: %w", spec, err)
	}

	switch unit {
	case "kb", "k":
		return int(value / 1024), nil
	case "mb", "m", "b":
		return int(value), nil
	case "gb", "g":
		return int(value * 1024), nil
	case "tb", "t":
		return int(value * 1024 * 1024), nil
	default:
		return int(value), nil
	}
}

