package backend

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Kitware/cmd-queue/internal/bashemit"
	"github.com/Kitware/cmd-queue/internal/graph"
	"github.com/Kitware/cmd-queue/internal/paths"
	"github.com/Kitware/cmd-queue/pkg/config"
	cmdqerrors "github.com/Kitware/cmd-queue/pkg/errors"
	"github.com/Kitware/cmd-queue/pkg/logging"
)

// TmuxOptions configure TmuxBackend.
type TmuxOptions struct {
	// Size is the worker count W (spec.md §4.4: "partitions the DAG into
	// W <= size workers").
	Size  int
	Shell string
	Log   bool

	RefreshRate         time.Duration
	OtherSessionHandler config.OtherSessionHandler

	// OnFail defaults to "keep" and is stored on the backend, but the
	// generated worker scripts do not read it: every worker session exits
	// when its script finishes, whether or not one of its jobs failed.
	OnFail string

	Logger logging.Logger
}

const (
	OnFailKeep = "keep"
	OnFailKill = "kill"
)

// TmuxBackend partitions a queue's jobs across Size worker scripts plus a
// bookkeeper script, and orchestrates them as tmux sessions (spec.md §4.4).
type TmuxBackend struct {
	queue    *graph.Queue
	session  paths.Session
	opts     TmuxOptions
	logger   logging.Logger
	registry *SessionRegistry
}

// NewTmuxBackend constructs a TmuxBackend over queue, rooted at
// sessionDpath.
func NewTmuxBackend(queue *graph.Queue, sessionDpath string, opts TmuxOptions) *TmuxBackend {
	if opts.Size <= 0 {
		opts.Size = 1
	}
	if opts.Shell == "" {
		opts.Shell = "/bin/bash"
	}
	if opts.RefreshRate <= 0 {
		opts.RefreshRate = 400 * time.Millisecond
	}
	if opts.OtherSessionHandler == "" {
		opts.OtherSessionHandler = config.HandlerAuto
	}
	if opts.OnFail == "" {
		opts.OnFail = OnFailKeep
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NoOp()
	}
	return &TmuxBackend{
		queue:    queue,
		session:  paths.NewSession(sessionDpath, paths.NewSessionID(queue.Name)),
		opts:     opts,
		logger:   logger,
		registry: NewSessionRegistry(),
	}
}

func (b *TmuxBackend) Kind() Kind { return KindTmux }

// partitionJobs assigns each job (in topological order) to a worker using
// greedy chain-packing (spec.md §4.4): a job joins whichever worker last ran
// one of its direct dependencies, preferring the shortest such worker so
// dependency and dependent land on the same lane when possible; absent any
// such worker, it joins the globally shortest worker. Ties break on worker
// index. Because jobs are appended in topological order, a worker's own
// slice is automatically a valid sub-order.
func partitionJobs(ordered []*graph.Job, size int) [][]*graph.Job {
	workers := make([][]*graph.Job, size)
	workerOf := make(map[*graph.Job]int, len(ordered))

	for _, job := range ordered {
		candidates := map[int]bool{}
		for _, dep := range job.Dependencies() {
			w, ok := workerOf[dep]
			if !ok {
				continue
			}
			lane := workers[w]
			if len(lane) > 0 && lane[len(lane)-1] == dep {
				candidates[w] = true
			}
		}

		best := -1
		if len(candidates) > 0 {
			for w := range candidates {
				if best == -1 || len(workers[w]) < len(workers[best]) || (len(workers[w]) == len(workers[best]) && w < best) {
					best = w
				}
			}
		} else {
			for w := 0; w < size; w++ {
				if best == -1 || len(workers[w]) < len(workers[best]) {
					best = w
				}
			}
		}

		workers[best] = append(workers[best], job)
		workerOf[job] = best
	}

	return workers
}

// FinalizeText orders and partitions the queue, rendering one script per
// worker plus the bookkeeper, without touching the filesystem.
func (b *TmuxBackend) FinalizeText() (Artifact, error) {
	ordered, err := b.queue.OrderJobs()
	if err != nil {
		return Artifact{}, err
	}

	workers := partitionJobs(ordered, b.opts.Size)
	workerOf := make(map[string]int, len(ordered))
	for w, jobs := range workers {
		for _, j := range jobs {
			workerOf[j.Name] = w
		}
	}

	scripts := make(map[string]string, len(workers)+1)
	for w, jobs := range workers {
		scripts[b.session.WorkerScriptPath(b.queue.Name, w)] = b.renderWorkerScript(w, jobs, workerOf)
	}
	scripts[b.session.BookkeeperScriptPath(b.queue.Name)] = b.renderBookkeeperScript(ordered)

	return Artifact{Scripts: scripts}, nil
}

func (b *TmuxBackend) renderWorkerScript(worker int, jobs []*graph.Job, workerOf map[string]int) string {
	var sb strings.Builder
	sb.WriteString("#!" + b.opts.Shell + "\n")
	sb.WriteString(fmt.Sprintf("mkdir -p %s\n", shQuote(b.session.JobInfoDpath())))
	sb.WriteString(fmt.Sprintf("mkdir -p %s\n", shQuote(b.session.LogsDpath())))
	sb.WriteString("\n")

	total := len(jobs)
	for i, job := range jobs {
		deps := make([]bashemit.Dependency, 0, len(job.Dependencies()))
		for _, dep := range job.Dependencies() {
			deps = append(deps, bashemit.Dependency{
				Name:        dep.Name,
				Paths:       b.session.JobPathsFor(dep.Name),
				CrossWorker: workerOf[dep.Name] != worker,
			})
		}

		block := bashemit.EmitJobBlock(job.Name, job.Command, b.session.JobPathsFor(job.Name), deps, bashemit.Options{
			Index:      i + 1,
			Total:      total,
			WithGuards: len(deps) > 0,
			Log:        b.opts.Log,
		})
		sb.WriteString(block)
		sb.WriteString("\n")
	}

	return sb.String()
}

// renderBookkeeperScript emits a loop that polls job_info for every
// non-bookkeeper job and prints aggregate progress until all are terminal
// (spec.md §4.4: "polls status files -> render progress table -> sleep
// refresh_rate -> exit when all non-bookkeeper jobs are terminal").
func (b *TmuxBackend) renderBookkeeperScript(jobs []*graph.Job) string {
	var sb strings.Builder
	sb.WriteString("#!" + b.opts.Shell + "\n")
	sb.WriteString(fmt.Sprintf("REFRESH=%s\n", formatSeconds(b.opts.RefreshRate)))
	sb.WriteString("while true; do\n")
	sb.WriteString("  total=0\n  finished=0\n")
	for _, job := range jobs {
		if job.Bookkeeper {
			continue
		}
		jp := b.session.JobPathsFor(job.Name)
		sb.WriteString("  total=$((total+1))\n")
		sb.WriteString(fmt.Sprintf(
			"  if [ -e %s ] || [ -e %s ] || { [ -e %s ] && head -c 7 %s | grep -q '^skipped'; }; then finished=$((finished+1)); fi\n",
			shQuote(jp.PassFpath), shQuote(jp.FailFpath), shQuote(jp.StatFpath), shQuote(jp.StatFpath),
		))
	}
	sb.WriteString("  echo \"[cmd-queue] $finished/$total jobs terminal\"\n")
	sb.WriteString("  if [ \"$finished\" -ge \"$total\" ]; then break; fi\n")
	sb.WriteString("  sleep \"$REFRESH\"\n")
	sb.WriteString("done\n")
	return sb.String()
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// Write renders the artifact and materializes every worker/bookkeeper
// script under the session directory.
func (b *TmuxBackend) Write() (Artifact, error) {
	artifact, err := b.FinalizeText()
	if err != nil {
		return Artifact{}, err
	}

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

// Run writes the scripts, resolves any pre-existing tmux sessions of this
// queue per OtherSessionHandler, spawns one tmux session per worker plus the
// bookkeeper concurrently via errgroup, and optionally blocks until every
// spawned session has self-exited.
func (b *TmuxBackend) Run(ctx context.Context, opts RunOptions) (Result, error) {
	if !tmuxBinaryAvailable(ctx) {
		return Result{}, cmdqerrors.NewInfrastructureError("tmux", nil)
	}

	artifact, err := b.Write()
	if err != nil {
		return Result{}, err
	}

	if err := b.resolvePreexistingSessions(ctx); err != nil {
		return Result{}, err
	}

	names := make([]string, 0, len(artifact.Scripts))
	g, gctx := errgroup.WithContext(ctx)
	for path := range artifact.Scripts {
		path := path
		name, worker := b.sessionNameFor(path)
		names = append(names, name)
		g.Go(func() error {
			if err := tmuxNewSession(gctx, name, b.opts.Shell, path); err != nil {
				return cmdqerrors.NewInfrastructureError("tmux new-session", err)
			}
			b.registry.Record(name, worker)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	if opts.Verbose {
		b.logger.Info("spawned tmux sessions", "count", len(names))
	}

	if opts.Block {
		b.waitForSessions(ctx, names)
	}

	states, err := b.ReadState(ctx)
	if err != nil {
		return Result{}, err
	}
	exitCode := 0
	for _, s := range states {
		if s.State == graph.StateFailed {
			exitCode = 1
			break
		}
	}
	return Result{ExitCode: exitCode}, nil
}

func (b *TmuxBackend) sessionNameFor(scriptPath string) (string, int) {
	if scriptPath == b.session.BookkeeperScriptPath(b.queue.Name) {
		return b.session.TmuxBookkeeperSessionName(), -1
	}
	for w := 0; w < b.opts.Size; w++ {
		if scriptPath == b.session.WorkerScriptPath(b.queue.Name, w) {
			return b.session.TmuxSessionName(w), w
		}
	}
	return b.session.TmuxSessionName(0), 0
}

func (b *TmuxBackend) waitForSessions(ctx context.Context, names []string) {
	ticker := time.NewTicker(b.opts.RefreshRate)
	defer ticker.Stop()
	for {
		anyAlive := false
		for _, name := range names {
			if tmuxHasSession(ctx, name) {
				anyAlive = true
				b.registry.MarkObserved(name)
			} else {
				b.registry.Forget(name)
			}
		}
		if !anyAlive {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// resolvePreexistingSessions handles stale "cmdq_<sanitized-queue-name>-*"
// tmux sessions left by a previous incomplete run of this queue, per
// OtherSessionHandler (spec.md §4.4).
func (b *TmuxBackend) resolvePreexistingSessions(ctx context.Context) error {
	stale := tmuxListSessionsWithPrefix(ctx, "cmdq_"+paths.Sanitize(b.queue.Name)+"-")
	if len(stale) == 0 {
		return nil
	}

	handler := b.opts.OtherSessionHandler
	if handler == config.HandlerAuto {
		if stdinIsTerminal() {
			handler = config.HandlerAsk
		} else {
			handler = config.HandlerKill
		}
	}

	switch handler {
	case config.HandlerIgnore:
		return nil
	case config.HandlerKill:
		return b.killSessions(ctx, stale)
	case config.HandlerAsk:
		if !confirmKill(fmt.Sprintf("%d pre-existing cmd-queue tmux session(s) found; kill them?", len(stale))) {
			return cmdqerrors.NewInfrastructureError("tmux", fmt.Errorf("pre-existing sessions left unresolved"))
		}
		return b.killSessions(ctx, stale)
	default:
		return nil
	}
}

func (b *TmuxBackend) killSessions(ctx context.Context, names []string) error {
	for _, name := range names {
		if err := tmuxKillSession(ctx, name); err != nil {
			return cmdqerrors.NewInfrastructureError("tmux kill-session", err)
		}
	}
	return nil
}

// ReadState reports every user-visible job's state by reading job_info;
// the bookkeeper's own pseudo-job is never included (spec.md §3:
// "bookkeeper ... not exposed to users").
func (b *TmuxBackend) ReadState(ctx context.Context) ([]JobState, error) {
	jobs := make([]*graph.Job, 0, len(b.queue.Jobs()))
	for _, j := range b.queue.Jobs() {
		if !j.Bookkeeper {
			jobs = append(jobs, j)
		}
	}
	return readStateFromJobInfo(b.session, jobs)
}

// IsAvailable reports whether the tmux binary is reachable.
func (b *TmuxBackend) IsAvailable(ctx context.Context) bool {
	return tmuxBinaryAvailable(ctx)
}

// Kill terminates every tmux session this backend spawned (spec.md §4.4
// "kill(): tmux kill-session for every matching session prefix").
func (b *TmuxBackend) Kill(ctx context.Context) error {
	return b.killSessions(ctx, b.registry.Names())
}
