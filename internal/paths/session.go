// Package paths derives the stable session-directory layout (spec.md §6)
// that every backend, BashEmitter, and StateReader share as their one
// source of truth for file names.
package paths

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var unsafeChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// Sanitize lowercases s and replaces any run of characters outside
// [a-z0-9_-] with a single dash.
func Sanitize(s string) string {
	s = strings.ToLower(s)
	s = unsafeChars.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "queue"
	}
	return s
}

// NewSessionID builds "<sanitized-name>-<UTC-timestamp>-<short-hash>" per
// spec.md §3.
func NewSessionID(queueName string) string {
	return NewSessionIDAt(queueName, time.Now().UTC())
}

// NewSessionIDAt is NewSessionID with an injected timestamp, for
// deterministic tests.
func NewSessionIDAt(queueName string, at time.Time) string {
	shortHash := uuid.New().String()[:6]
	return Sanitize(queueName) + "-" + at.Format("20060102T150405Z") + "-" + shortHash
}

// Session describes the on-disk layout for one run, rooted at
// <dpath>/<session-id>/.
type Session struct {
	Dpath     string // <dpath>
	SessionID string
}

// NewSession returns a Session rooted under dpath.
func NewSession(dpath, sessionID string) Session {
	return Session{Dpath: dpath, SessionID: sessionID}
}

// Root is <dpath>/<session-id>.
func (s Session) Root() string {
	return filepath.Join(s.Dpath, s.SessionID)
}

// ScriptPath is the entry script for serial/slurm backends:
// <dpath>/<session-id>/<session-id>.sh
func (s Session) ScriptPath() string {
	return filepath.Join(s.Root(), s.SessionID+".sh")
}

// WorkerScriptPath is a tmux worker script:
// <dpath>/<session-id>/queue_<name>_<k>_<session>.sh
func (s Session) WorkerScriptPath(queueName string, worker int) string {
	return filepath.Join(s.Root(), "queue_"+Sanitize(queueName)+"_"+strconv.Itoa(worker)+"_"+s.SessionID+".sh")
}

// BookkeeperScriptPath is the tmux bookkeeper script.
func (s Session) BookkeeperScriptPath(queueName string) string {
	return filepath.Join(s.Root(), "queue_"+Sanitize(queueName)+"_bookkeeper_"+s.SessionID+".sh")
}

// JobInfoDpath is the job_info directory holding status touch-files.
func (s Session) JobInfoDpath() string {
	return filepath.Join(s.Root(), "job_info")
}

// LogsDpath is the per-job stdout/stderr log directory.
func (s Session) LogsDpath() string {
	return filepath.Join(s.Root(), "logs")
}

// JobPaths derives the four per-job artifacts BashEmitter and StateReader
// read/write.
type JobPaths struct {
	PassFpath string
	FailFpath string
	StatFpath string
	LogFpath  string
}

// JobPathsFor derives JobPaths for a job name within this session.
func (s Session) JobPathsFor(jobName string) JobPaths {
	base := filepath.Join(s.JobInfoDpath(), jobName)
	return JobPaths{
		PassFpath: base + ".pass",
		FailFpath: base + ".fail",
		StatFpath: base + ".stat",
		LogFpath:  filepath.Join(s.LogsDpath(), jobName+".log"),
	}
}

// LockFpath is the shared lockfile the generated script passes to `flock`
// when the serial backend's with_locks mode is on. SerialBackend.Write
// takes its host-side lock on this path with a ".write" suffix.
func (s Session) LockFpath() string {
	return filepath.Join(s.Root(), ".cmdq.lock")
}

// TmuxSessionName returns the tmux session name for worker k, namespaced
// by this run's session id (spec.md §4.4: "cmdq_<session-id>_<k>").
func (s Session) TmuxSessionName(worker int) string {
	return "cmdq_" + s.SessionID + "_" + strconv.Itoa(worker)
}

// TmuxBookkeeperSessionName returns the tmux session name for the
// bookkeeper, namespaced the same way as worker sessions.
func (s Session) TmuxBookkeeperSessionName() string {
	return "cmdq_" + s.SessionID + "_bookkeeper"
}

