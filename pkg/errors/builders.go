package errors

import "fmt"

// NewDuplicateJobError reports a job name collision within a queue.
func NewDuplicateJobError(name string) *CmdQueueError {
	return New(ErrorCodeDuplicateJob, fmt.Sprintf("job %q already submitted to this queue", name))
}

// NewUnknownBackendError reports an unrecognized backend kind.
func NewUnknownBackendError(kind string) *CmdQueueError {
	return New(ErrorCodeUnknownBackend, fmt.Sprintf("unknown backend kind %q", kind))
}

// NewUnresolvedDependencyError reports a depends= reference that never
// resolved to a submitted job by finalize time.
func NewUnresolvedDependencyError(job, dependency string) *CmdQueueError {
	return New(ErrorCodeUnresolvedDependency, fmt.Sprintf("job %q depends on unknown job %q", job, dependency))
}

// NewCycleDetectedError reports that the dependency graph is not acyclic.
func NewCycleDetectedError(remaining []string) *CmdQueueError {
	err := New(ErrorCodeCycleDetected, "dependency graph contains a cycle")
	err.Details = fmt.Sprintf("jobs involved: %v", remaining)
	return err
}

// NewUnknownOptionError reports an option key a backend does not recognize,
// replacing the "silent unused_kwargs" pattern spec.md §9 calls out.
func NewUnknownOptionError(backend, option string) *CmdQueueError {
	return New(ErrorCodeUnknownOption, fmt.Sprintf("%s backend does not accept option %q", backend, option))
}

// NewInfrastructureError reports an external tool (tmux, bash, sbatch,
// squeue, scancel) that is missing or could not be invoked, whether
// detected before or after the scripts are materialized.
func NewInfrastructureError(what string, cause error) *CmdQueueError {
	return NewWithCause(ErrorCodeInfrastructureUnavailable, fmt.Sprintf("infrastructure unavailable: %s", what), cause)
}

// NewSessionDirUnwritableError reports that the session directory could
// not be created or written to.
func NewSessionDirUnwritableError(path string, cause error) *CmdQueueError {
	return NewWithCause(ErrorCodeSessionDirUnwritable, fmt.Sprintf("session directory %q is not writable", path), cause)
}

// NewInvalidConfigurationError reports a configuration validation failure.
func NewInvalidConfigurationError(reason string) *CmdQueueError {
	return New(ErrorCodeInvalidConfiguration, reason)
}
