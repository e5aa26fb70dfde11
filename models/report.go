package models

// ServiceState is the lifecycle state of one service within a run.
type ServiceState string

const (
	StatePending   ServiceState = "pending"
	StateBuilding  ServiceState = "building"
	StateStarting  ServiceState = "starting"
	StateRunning   ServiceState = "running"
	StateCompleted ServiceState = "completed"
	StateFailed    ServiceState = "failed"

	// StateBlocked is terminal for a run: a dependency failed, so the
	// service never left pending.
	StateBlocked ServiceState = "blocked"
)

// ServiceOutcome is the final state of one service at the end of a run, with
// the triggering error for non-successful outcomes.
type ServiceOutcome struct {
	Name  string
	State ServiceState
	Err   error
}

// Report enumerates every service's outcome in topology declaration order.
type Report struct {
	Outcomes []ServiceOutcome
}

// Outcome returns the entry for the named service, or nil.
func (r *Report) Outcome(name string) *ServiceOutcome {
	for i := range r.Outcomes {
		if r.Outcomes[i].Name == name {
			return &r.Outcomes[i]
		}
	}
	return nil
}

// Failed reports whether any service ended the run failed or blocked.
func (r *Report) Failed() bool {
	for _, o := range r.Outcomes {
		if o.State == StateFailed || o.State == StateBlocked {
			return true
		}
	}
	return false
}
