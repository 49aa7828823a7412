package backend

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/gofrs/flock"

	"github.com/Kitware/cmd-queue/internal/bashemit"
	"github.com/Kitware/cmd-queue/internal/graph"
	"github.com/Kitware/cmd-queue/internal/paths"
	cmdqerrors "github.com/Kitware/cmd-queue/pkg/errors"
	"github.com/Kitware/cmd-queue/pkg/logging"
)

// SerialOptions configure SerialBackend, replacing the dynamic-kwargs
// funnel spec.md §9 flags for redesign.
type SerialOptions struct {
	// Shell is the shebang interpreter; defaults to /bin/bash.
	Shell string
	// HeaderCommands run once, after mkdir -p and before the first job
	// (spec.md §4.3: "source venv/activate").
	HeaderCommands []string
	// WithLocks wraps every job in flock on a shared lockfile (spec.md §5).
	WithLocks bool
	// Log redirects each job's stdout/stderr to its log file via tee.
	Log bool
	Logger logging.Logger
}

// SerialBackend produces a single self-checking bash script, run directly
// or via bash (spec.md §4.3).
type SerialBackend struct {
	queue   *graph.Queue
	session paths.Session
	opts    SerialOptions
	logger  logging.Logger
}

// NewSerialBackend constructs a SerialBackend over queue, rooted at
// sessionDpath.
func NewSerialBackend(queue *graph.Queue, sessionDpath string, opts SerialOptions) *SerialBackend {
	if opts.Shell == "" {
		opts.Shell = "/bin/bash"
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NoOp()
	}
	return &SerialBackend{
		queue:   queue,
		session: paths.NewSession(sessionDpath, paths.NewSessionID(queue.Name)),
		opts:    opts,
		logger:  logger,
	}
}

func (b *SerialBackend) Kind() Kind { return KindSerial }

// FinalizeText orders the queue and renders the single entry script, with
// no filesystem side effects (spec.md §3 "finalize_text ... pure").
func (b *SerialBackend) FinalizeText() (Artifact, error) {
	ordered, err := b.queue.OrderJobs()
	if err != nil {
		return Artifact{}, err
	}

	var sb strings.Builder
	sb.WriteString("#!" + b.opts.Shell + "\n")
	sb.WriteString(fmt.Sprintf("mkdir -p %s\n", shQuote(b.session.JobInfoDpath())))
	sb.WriteString(fmt.Sprintf("mkdir -p %s\n", shQuote(b.session.LogsDpath())))
	for _, h := range b.opts.HeaderCommands {
		sb.WriteString(h + "\n")
	}
	sb.WriteString("\n")

	total := len(ordered)
	for i, job := range ordered {
		jobPaths := b.session.JobPathsFor(job.Name)
		deps := dependenciesOf(job, b.session, false)
		block := bashemit.EmitJobBlock(job.Name, job.Command, jobPaths, deps, bashemit.Options{
			Index:      i + 1,
			Total:      total,
			WithGuards: len(deps) > 0,
			Log:        b.opts.Log,
			WithLock:   b.opts.WithLocks,
			LockFpath:  b.session.LockFpath(),
		})
		sb.WriteString(block)
		sb.WriteString("\n")
	}

	return Artifact{Scripts: map[string]string{b.session.ScriptPath(): sb.String()}}, nil
}

// Write renders the artifact and materializes it under the session
// directory, under an advisory host-side flock on the session directory so
// concurrent Write calls against the same directory cannot interleave
// partial writes (spec.md §4.3 addition in SPEC_FULL.md §4.3; distinct from
// the bash-level with_locks flag).
func (b *SerialBackend) Write() (Artifact, error) {
	artifact, err := b.FinalizeText()
	if err != nil {
		return Artifact{}, err
	}

	if err := os.MkdirAll(b.session.Root(), 0o755); err != nil {
		return Artifact{}, cmdqerrors.NewSessionDirUnwritableError(b.session.Root(), err)
	}

	lock := flock.New(b.session.LockFpath() + ".write")
	if err := lock.Lock(); err != nil {
		return Artifact{}, cmdqerrors.NewSessionDirUnwritableError(b.session.Root(), err)
	}
	defer lock.Unlock()

	if err := os.MkdirAll(b.session.JobInfoDpath(), 0o755); err != nil {
		return Artifact{}, cmdqerrors.NewSessionDirUnwritableError(b.session.JobInfoDpath(), err)
	}
	if err := os.MkdirAll(b.session.LogsDpath(), 0o755); err != nil {
		return Artifact{}, cmdqerrors.NewSessionDirUnwritableError(b.session.LogsDpath(), err)
	}

	for path, text := range artifact.Scripts {
		if err := os.WriteFile(path, []byte(text), 0o755); err != nil {
			return Artifact{}, cmdqerrors.NewSessionDirUnwritableError(path, err)
		}
	}

	return artifact, nil
}

// Run writes the script (if needed) and executes it per opts (spec.md
// §4.3 "run(block, system, shell, capture, mode, verbose)"). This
// implementation always uses mode=bash; RunOptions has no `system` knob
// since `os.execvp`-style in-place exec has no sane Go equivalent that
// preserves the caller's defer stack, and no caller in this repo needs it.
func (b *SerialBackend) Run(ctx context.Context, opts RunOptions) (Result, error) {
	if _, err := b.Write(); err != nil {
		return Result{}, err
	}
	scriptPath := b.session.ScriptPath()

	cmd := exec.CommandContext(ctx, b.opts.Shell, scriptPath)
	var out bytes.Buffer
	cmd.Stderr = os.Stderr
	if opts.Capture {
		cmd.Stdout = &out
	} else {
		cmd.Stdout = os.Stdout
	}

	if opts.Verbose {
		b.logger.Info("running serial script", "script", scriptPath)
	}

	if opts.Block {
		if err := cmd.Run(); err != nil {
			if _, ok := err.(*exec.ExitError); !ok {
				return Result{}, cmdqerrors.NewInfrastructureError("bash", err)
			}
		}
	} else {
		if err := cmd.Start(); err != nil {
			return Result{}, cmdqerrors.NewInfrastructureError("bash", err)
		}
		return Result{}, nil
	}

	exitCode, err := b.aggregateExitCode(ctx)
	if err != nil {
		return Result{}, err
	}
	return Result{ExitCode: exitCode, Output: out.String()}, nil
}

// aggregateExitCode derives the non-zero-iff-any-job-failed exit code from
// job_info, never the script's own exit status (spec.md §4.3).
func (b *SerialBackend) aggregateExitCode(ctx context.Context) (int, error) {
	states, err := b.ReadState(ctx)
	if err != nil {
		return 0, err
	}
	for _, s := range states {
		if s.State == graph.StateFailed {
			return 1, nil
		}
	}
	return 0, nil
}

// ReadState walks job_info and returns a snapshot per job (spec.md §4.3
// "read_state()").
func (b *SerialBackend) ReadState(ctx context.Context) ([]JobState, error) {
	return readStateFromJobInfo(b.session, b.queue.Jobs())
}

// IsAvailable is always true for the serial backend: bash is assumed
// present wherever the host process itself runs.
func (b *SerialBackend) IsAvailable(ctx context.Context) bool { return true }

// Kill is a no-op: the serial backend keeps no handle on the process a
// non-blocking Run starts, so nothing is signalled or cleaned up.
func (b *SerialBackend) Kill(ctx context.Context) error { return nil }

// dependenciesOf converts a job's resolved dependencies into bashemit
// Dependency values rooted at session. crossWorker marks every dependency
// as living on a different tmux worker, used by TmuxBackend only.
func dependenciesOf(job *graph.Job, session paths.Session, crossWorker bool) []bashemit.Dependency {
	deps := job.Dependencies()
	out := make([]bashemit.Dependency, 0, len(deps))
	for _, d := range deps {
		out = append(out, bashemit.Dependency{
			Name:        d.Name,
			Paths:       session.JobPathsFor(d.Name),
			CrossWorker: crossWorker,
		})
	}
	return out
}

// readStateFromJobInfo is shared by SerialBackend and TmuxBackend: both
// describe their progress purely from job_info touch-files.
func readStateFromJobInfo(session paths.Session, jobs []*graph.Job) ([]JobState, error) {
	out := make([]JobState, 0, len(jobs))
	for _, job := range jobs {
		jp := session.JobPathsFor(job.Name)
		out = append(out, JobState{
			Name:  job.Name,
			State: stateFromPaths(jp),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func stateFromPaths(jp paths.JobPaths) graph.State {
	if fileExists(jp.FailFpath) {
		return graph.StateFailed
	}
	if fileExists(jp.PassFpath) {
		return graph.StatePassed
	}
	if statSaysSkipped(jp.StatFpath) {
		return graph.StateSkipped
	}
	if fileExists(jp.StatFpath) {
		return graph.StateStarted
	}
	return graph.StatePending
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func statSaysSkipped(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(string(data)), "skipped")
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
