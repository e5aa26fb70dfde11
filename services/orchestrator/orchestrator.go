// Package orchestrator drives the build -> start -> wait lifecycle of a
// topology against a runtime, in dependency order.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/labelstack/runner/interfaces"
	"github.com/labelstack/runner/models"
	"github.com/labelstack/runner/services"
)

// DefaultMaxAttempts bounds the retries of a run-to-completion service with
// the on-failure restart policy.
const DefaultMaxAttempts = 3

type Orchestrator struct {
	runtime     interfaces.Runtime
	topo        *models.Topology
	external    map[string]string
	log         *slog.Logger
	maxAttempts int
}

func New(rt interfaces.Runtime, topo *models.Topology, external map[string]string, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		runtime:     rt,
		topo:        topo,
		external:    external,
		log:         log,
		maxAttempts: DefaultMaxAttempts,
	}
}

// serviceRun tracks one service through the run. done is closed exactly once,
// when the service reaches a terminal state or the running steady state;
// dependents join on it.
type serviceRun struct {
	spec *models.ServiceSpec
	done chan struct{}

	mu    sync.Mutex
	state models.ServiceState
	err   error
}

func (r *serviceRun) set(state models.ServiceState, err error) {
	r.mu.Lock()
	r.state = state
	r.err = err
	r.mu.Unlock()
}

func (r *serviceRun) current() (models.ServiceState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.err
}

// satisfies reports whether the service, as a dependency, has reached the
// state its kind requires: running for persistent services, completed for
// run-to-completion ones.
func (r *serviceRun) satisfies() bool {
	state, _ := r.current()
	return state == models.StateRunning || state == models.StateCompleted
}

// Run validates the topology structure, then fans out every service and
// blocks until each one reaches a terminal or steady state. Structural
// problems (unknown dependencies, cycles) abort before anything is launched.
// Per-service failures do not: independent branches keep going, and the
// returned report enumerates every outcome.
func (o *Orchestrator) Run(ctx context.Context) (*models.Report, error) {
	if err := services.CheckDependsOn(o.topo); err != nil {
		return nil, err
	}
	if _, err := services.TopologicalOrder(o.topo); err != nil {
		return nil, err
	}

	runs := make(map[string]*serviceRun, len(o.topo.Services))
	for i := range o.topo.Services {
		spec := &o.topo.Services[i]
		runs[spec.Name] = &serviceRun{
			spec:  spec,
			done:  make(chan struct{}),
			state: models.StatePending,
		}
	}

	var wg sync.WaitGroup
	for _, run := range runs {
		deps := make([]*serviceRun, 0, len(run.spec.DependsOn))
		for _, dep := range run.spec.DependsOn {
			deps = append(deps, runs[dep])
		}

		wg.Add(1)
		go func(run *serviceRun, deps []*serviceRun) {
			defer wg.Done()
			defer close(run.done)
			o.runService(ctx, run, deps)
		}(run, deps)
	}
	wg.Wait()

	report := &models.Report{Outcomes: make([]models.ServiceOutcome, 0, len(runs))}
	for i := range o.topo.Services {
		run := runs[o.topo.Services[i].Name]
		state, err := run.current()
		report.Outcomes = append(report.Outcomes, models.ServiceOutcome{
			Name:  run.spec.Name,
			State: state,
			Err:   err,
		})
	}
	return report, nil
}

func (o *Orchestrator) transition(run *serviceRun, state models.ServiceState, err error) {
	run.set(state, err)
	if err != nil {
		o.log.Error("service state", "service", run.spec.Name, "state", state, "error", err)
		return
	}
	o.log.Info("service state", "service", run.spec.Name, "state", state)
}

func (o *Orchestrator) runService(ctx context.Context, run *serviceRun, deps []*serviceRun) {
	name := run.spec.Name

	for _, dep := range deps {
		select {
		case <-dep.done:
		case <-ctx.Done():
			o.transition(run, models.StateFailed, ctx.Err())
			return
		}
		if !dep.satisfies() {
			depState, _ := dep.current()
			o.transition(run, models.StateBlocked,
				fmt.Errorf("dependency %q is %s", dep.spec.Name, depState))
			return
		}
	}

	env, err := services.ResolveEnvironment(name, run.spec.Environment, o.external)
	if err != nil {
		o.transition(run, models.StateFailed, err)
		return
	}

	o.transition(run, models.StateBuilding, nil)
	image, err := o.runtime.Build(ctx, run.spec)
	if err != nil {
		o.transition(run, models.StateFailed, &models.BuildError{Service: name, Err: err})
		return
	}

	o.transition(run, models.StateStarting, nil)
	proc, err := o.runtime.Start(ctx, run.spec, image, env)
	if err != nil {
		o.transition(run, models.StateFailed, fmt.Errorf("start service %q: %w", name, err))
		return
	}

	if !run.spec.RunToCompletion() {
		// Started is all that is required of a persistent service; there is
		// no readiness probing. Restarts after later exits are the
		// runtime's concern.
		o.transition(run, models.StateRunning, nil)
		return
	}

	o.supervise(ctx, run, image, env, proc)
}

// supervise waits on a run-to-completion service and applies its restart
// policy. Relaunches re-enter starting without re-checking dependencies.
func (o *Orchestrator) supervise(ctx context.Context, run *serviceRun, image string, env map[string]string, proc interfaces.Process) {
	name := run.spec.Name

	for attempt := 1; ; attempt++ {
		code, err := proc.Wait(ctx)
		if err != nil {
			o.transition(run, models.StateFailed, fmt.Errorf("wait for service %q: %w", name, err))
			return
		}
		if code == 0 {
			o.transition(run, models.StateCompleted, nil)
			return
		}

		if run.spec.Restart != models.RestartOnFailure || attempt >= o.maxAttempts {
			o.transition(run, models.StateFailed, &models.RuntimeFailure{
				Service:  name,
				ExitCode: code,
				Attempts: attempt,
			})
			return
		}

		o.log.Warn("service exited, retrying", "service", name, "code", code, "attempt", attempt)
		o.transition(run, models.StateStarting, nil)
		proc, err = o.runtime.Start(ctx, run.spec, image, env)
		if err != nil {
			o.transition(run, models.StateFailed, fmt.Errorf("restart service %q: %w", name, err))
			return
		}
	}
}
