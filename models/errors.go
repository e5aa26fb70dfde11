package models

import (
	"fmt"
	"strings"
)

// ValidationError reports a malformed or conflicting service spec. It is
// detected before any launch and aborts the whole run.
type ValidationError struct {
	Service string // empty for topology-level problems
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.Service == "" {
		return fmt.Sprintf("invalid topology: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid service %q: %s: %s", e.Service, e.Field, e.Reason)
}

// ResolutionError reports a required external value that was absent when an
// environment binding was resolved. It is fatal for the affected service only.
type ResolutionError struct {
	Service string
	Missing string
}

func (e *ResolutionError) Error() string {
	if e.Service == "" {
		return fmt.Sprintf("required external value %q is not set", e.Missing)
	}
	return fmt.Sprintf("service %q: required external value %q is not set", e.Service, e.Missing)
}

// CycleError reports a dependency loop. Cycle holds the node names in loop
// order, with the first name repeated at the end.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Cycle, " -> "))
}

// BuildError reports a failed artifact build. The service and every
// transitive dependent are unable to start.
type BuildError struct {
	Service string
	Err     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build service %q: %v", e.Service, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// RuntimeFailure reports a launched process that exited non-zero after the
// restart policy was exhausted.
type RuntimeFailure struct {
	Service  string
	ExitCode int
	Attempts int
}

func (e *RuntimeFailure) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("service %q exited with status %d after %d attempts", e.Service, e.ExitCode, e.Attempts)
	}
	return fmt.Sprintf("service %q exited with status %d", e.Service, e.ExitCode)
}
