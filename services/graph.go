package services

import (
	"fmt"

	"github.com/labelstack/runner/models"
)

// TopologicalOrder computes a valid start order from the depends_on edges of
// the topology. Every service appears strictly after all of its
// dependencies. Services with no ordering constraint between them keep their
// declaration order, so the result is deterministic for a given document.
//
// The graph is derived fresh from the topology on every call; a dependency
// loop is reported as a CycleError naming the nodes on the loop.
func TopologicalOrder(t *models.Topology) ([]string, error) {
	const (
		unvisited = iota
		visiting
		visited
	)

	state := make(map[string]int, len(t.Services))
	order := make([]string, 0, len(t.Services))
	var stack []string

	var dfs func(name string) error
	dfs = func(name string) error {
		switch state[name] {
		case visiting:
			// Back-edge: the loop is the stack suffix from the first
			// occurrence of this node, closed back on itself.
			for i, n := range stack {
				if n == name {
					cycle := append([]string{}, stack[i:]...)
					return &models.CycleError{Cycle: append(cycle, name)}
				}
			}
			return &models.CycleError{Cycle: []string{name, name}}
		case visited:
			return nil
		}

		state[name] = visiting
		stack = append(stack, name)

		if svc := t.Service(name); svc != nil {
			for _, dep := range svc.DependsOn {
				// Unknown names are rejected by CheckDependsOn.
				if t.Service(dep) == nil {
					continue
				}
				if err := dfs(dep); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[name] = visited
		order = append(order, name)
		return nil
	}

	for i := range t.Services {
		if err := dfs(t.Services[i].Name); err != nil {
			return nil, err
		}
	}

	return order, nil
}

// CheckDependsOn verifies that every depends_on entry names another service
// in the topology and that no service depends on itself.
func CheckDependsOn(t *models.Topology) error {
	for i := range t.Services {
		svc := &t.Services[i]
		for _, dep := range svc.DependsOn {
			if dep == svc.Name {
				return &models.ValidationError{
					Service: svc.Name,
					Field:   "depends_on",
					Reason:  "service depends on itself",
				}
			}
			if t.Service(dep) == nil {
				return &models.ValidationError{
					Service: svc.Name,
					Field:   "depends_on",
					Reason:  fmt.Sprintf("depends on unknown service %q", dep),
				}
			}
		}
	}
	return nil
}
