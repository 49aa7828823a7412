// Package bashemit transpiles a single graph.Job into a self-checking bash
// block: banner, dependency guard, status-file bookkeeping, and the
// command itself (spec.md §4.2). It never imports internal/backend — the
// serial and tmux backends share this one emission path; the slurm backend
// emits sbatch lines of its own and does not use it.
package bashemit

import (
	"fmt"
	"strings"

	"github.com/Kitware/cmd-queue/internal/paths"
)

// Block is the bash text for one job, alongside enough structure for a
// Guard to wrap it.
type Block struct {
	Banner string
	Body   string
	Indent string
}

// String renders the block as bash text.
func (b Block) String() string {
	var sb strings.Builder
	sb.WriteString(indentLines(b.Banner, b.Indent))
	sb.WriteString(indentLines(b.Body, b.Indent))
	return sb.String()
}

// Guard wraps a Block, e.g. to add a caller-supplied predicate around the
// command (spec.md §4.2 step 7: "optional conditionals"). Guards compose
// like the corpus's http.RoundTripper middleware chain, but over bash-block
// text instead of requests.
type Guard func(Block) Block

// Chain composes guards so the first guard in the slice is the outermost
// wrapper, mirroring the corpus's middleware.Chain composition order.
func Chain(guards ...Guard) Guard {
	return func(b Block) Block {
		for i := len(guards) - 1; i >= 0; i-- {
			b = guards[i](b)
		}
		return b
	}
}

// Options configure how a single job's block is emitted.
type Options struct {
	// Index and Total drive the "### Command i/N - <name>" banner.
	Index int
	Total int

	// WithGuards enables the dependency skip-check (spec.md §4.2 step 2).
	// Disabled only for jobs with no dependencies, as an optimization —
	// semantically a no-dependency guard is always a no-op.
	WithGuards bool

	// Log redirects stdout/stderr through tee to LogFpath when true.
	Log bool

	// WithLock wraps the command in `flock <lockfile>` when true
	// (spec.md §5: with_locks).
	WithLock  bool
	LockFpath string

	// AllowIndent marks that this block may be nested inside an enclosing
	// `if`; emission then avoids heredocs that break under indentation.
	AllowIndent bool
	Indent      string

	// CrossWorkerWait enables the poll-with-sleep variant of the
	// dependency guard for dependencies that live on a different tmux
	// worker (spec.md §4.4): instead of skip-once, it polls until the
	// dependency's pass/fail file appears.
	CrossWorkerWait bool
	PollInterval    string // bash-literal seconds, e.g. "1"

	// Guards are applied after the core block is built, outermost first.
	Guards []Guard
}

// Dependency is what EmitJobBlock needs about each dependency: its name
// and status-file paths, and whether it lives on another worker (relevant
// to tmux partitioning only; always false for serial).
type Dependency struct {
	Name        string
	Paths       paths.JobPaths
	CrossWorker bool
}

// EmitJobBlock renders the full bash block for one job.
func EmitJobBlock(jobName, command string, jobPaths paths.JobPaths, deps []Dependency, opts Options) string {
	banner := fmt.Sprintf("### Command %d/%d - %s\n", opts.Index, opts.Total, jobName)

	var sb strings.Builder

	cmd := command
	if opts.WithLock && opts.LockFpath != "" {
		cmd = fmt.Sprintf("flock %s -c %s", shQuote(opts.LockFpath), shQuote(cmd))
	}

	runLine := fmt.Sprintf("( %s )", cmd)
	if opts.Log {
		runLine = fmt.Sprintf("%s > >(tee -a %s) 2> >(tee -a %s >&2)", runLine, shQuote(jobPaths.LogFpath), shQuote(jobPaths.LogFpath))
	}

	var body strings.Builder
	body.WriteString(fmt.Sprintf("echo \"started $(date +%%s)\" > %s\n", shQuote(jobPaths.StatFpath)))
	body.WriteString(runLine + "\n")
	body.WriteString("__cmdq_exit=$?\n")
	body.WriteString(fmt.Sprintf(
		"if [ \"$__cmdq_exit\" -eq 0 ]; then touch %s; echo \"passed $(date +%%s) 0\" > %s; else touch %s; echo \"failed $(date +%%s) $__cmdq_exit\" > %s; fi\n",
		shQuote(jobPaths.PassFpath), shQuote(jobPaths.StatFpath),
		shQuote(jobPaths.FailFpath), shQuote(jobPaths.StatFpath),
	))

	if opts.WithGuards && len(deps) > 0 {
		sb.WriteString(wrapWithGuard(deps, jobPaths, opts, body.String()))
	} else {
		sb.WriteString(body.String())
	}

	block := Block{Banner: banner, Body: sb.String(), Indent: opts.Indent}
	if len(opts.Guards) > 0 {
		block = Chain(opts.Guards...)(block)
	}

	if opts.AllowIndent {
		return block.String()
	}
	return block.Banner + block.Body
}

// wrapWithGuard wraps body in an if/else that skips (without ever exiting
// the enclosing script — spec.md §4.2: "the emitted block MUST NOT exit on
// failure") when any dependency has failed or has not yet passed.
// Cross-worker dependencies poll with a short sleep until the ancestor
// reaches a terminal state before the check runs (spec.md §4.4).
func wrapWithGuard(deps []Dependency, self paths.JobPaths, opts Options, body string) string {
	var sb strings.Builder

	for _, d := range deps {
		if d.CrossWorker || opts.CrossWorkerWait {
			interval := opts.PollInterval
			if interval == "" {
				interval = "1"
			}
			sb.WriteString(fmt.Sprintf(
				"while [ ! -e %s ] && [ ! -e %s ]; do sleep %s; done\n",
				shQuote(d.Paths.PassFpath), shQuote(d.Paths.FailFpath), interval,
			))
		}
	}

	conds := make([]string, 0, len(deps))
	for _, d := range deps {
		conds = append(conds, fmt.Sprintf("[ -e %s ] || [ ! -e %s ]", shQuote(d.Paths.FailFpath), shQuote(d.Paths.PassFpath)))
	}

	sb.WriteString(fmt.Sprintf("if %s; then\n", strings.Join(conds, " || ")))
	sb.WriteString(fmt.Sprintf("  echo \"skipped $(date +%%s)\" > %s\n", shQuote(self.StatFpath)))
	sb.WriteString("else\n")
	sb.WriteString(indentLines(body, "  "))
	sb.WriteString("fi\n")

	return sb.String()
}

func indentLines(s, indent string) string {
	if indent == "" || s == "" {
		return s
	}
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = indent + l
	}
	return strings.Join(lines, "\n") + "\n"
}

// shQuote single-quotes a string for safe inclusion in bash, escaping any
// embedded single quotes. Scaffolding paths and flags pass through here,
// and so does the user's command when WithLock wraps it in `flock -c`;
// otherwise the command is emitted verbatim per spec.md §3 ("opaque to the
// core").
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
