// Package depgraph builds and queries the work package dependency
// graph. The graph is validated once at build time (unknown references
// and cycles fail the build) and is read-only afterwards; readiness is
// recomputed from live statuses on every scheduler tick.
package depgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/packflow/packflow/internal/state"
	"github.com/packflow/packflow/internal/wp"
)

// CycleError reports a dependency cycle found at build time. Members
// holds the cycle path in order, with the starting work package
// repeated at the end.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Members, " -> "))
}

// UnknownDependencyError reports a dependency reference to a work
// package that was not loaded.
type UnknownDependencyError struct {
	WP      string
	Missing string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("work package %s depends on unknown work package %s", e.WP, e.Missing)
}

// Graph is the validated dependency DAG. Read-only after Build.
type Graph struct {
	deps       map[string][]string // wp id -> its dependencies
	dependents map[string][]string // wp id -> wps that depend on it
	ids        []string            // all ids, sorted
}

// Build validates the specs and constructs the graph. It fails with
// *UnknownDependencyError if any dependency references a work package
// outside the set, and with *CycleError naming the full cycle path if
// the dependencies are not acyclic.
func Build(specs []*wp.Spec) (*Graph, error) {
	g := &Graph{
		deps:       make(map[string][]string, len(specs)),
		dependents: make(map[string][]string, len(specs)),
	}

	for _, spec := range specs {
		g.deps[spec.ID] = append([]string(nil), spec.Dependencies...)
		g.ids = append(g.ids, spec.ID)
	}
	sort.Strings(g.ids)

	for _, spec := range specs {
		for _, dep := range spec.Dependencies {
			if dep == spec.ID {
				return nil, &CycleError{Members: []string{spec.ID, spec.ID}}
			}
			if _, ok := g.deps[dep]; !ok {
				return nil, &UnknownDependencyError{WP: spec.ID, Missing: dep}
			}
			g.dependents[dep] = append(g.dependents[dep], spec.ID)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CycleError{Members: cycle}
	}

	return g, nil
}

// findCycle runs a DFS with a recursion stack; when a back edge is hit
// the cycle path is reconstructed from the parent chain.
func (g *Graph) findCycle() []string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	parent := make(map[string]string)

	var dfs func(id string) []string
	dfs = func(id string) []string {
		visited[id] = true
		onStack[id] = true

		for _, dep := range g.deps[id] {
			if !visited[dep] {
				parent[dep] = id
				if cycle := dfs(dep); cycle != nil {
					return cycle
				}
			} else if onStack[dep] {
				// Back edge: walk parents from id back to dep.
				cycle := []string{dep}
				for current := id; current != dep; current = parent[current] {
					cycle = append([]string{current}, cycle...)
				}
				return append([]string{dep}, cycle...)
			}
		}

		onStack[id] = false
		return nil
	}

	for _, id := range g.ids {
		if !visited[id] {
			if cycle := dfs(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// Dependencies returns the direct dependencies of a work package.
func (g *Graph) Dependencies(id string) []string {
	return g.deps[id]
}

// Dependents returns the work packages that directly depend on id.
func (g *Graph) Dependents(id string) []string {
	return g.dependents[id]
}

// IDs returns all work package ids, sorted.
func (g *Graph) IDs() []string {
	return g.ids
}

// Ready returns the work packages that are eligible for dispatch: those
// still pending whose dependencies have all reached done. The result is
// sorted; dispatch order among ready work packages carries no semantic
// meaning.
func (g *Graph) Ready(statuses map[string]state.Status) []string {
	var ready []string
	for _, id := range g.ids {
		if statuses[id] != state.StatusPending {
			continue
		}
		if g.depsDone(id, statuses) {
			ready = append(ready, id)
		}
	}
	return ready
}

func (g *Graph) depsDone(id string, statuses map[string]state.Status) bool {
	for _, dep := range g.deps[id] {
		if statuses[dep] != state.StatusDone {
			return false
		}
	}
	return true
}

// Blocked returns the pending work packages that can never become ready
// because some ancestor has failed. These stay pending for the rest of
// the run; a failed dependency does not cascade.
func (g *Graph) Blocked(statuses map[string]state.Status) []string {
	memo := make(map[string]bool, len(g.ids))

	var blocked func(id string) bool
	blocked = func(id string) bool {
		if b, ok := memo[id]; ok {
			return b
		}
		memo[id] = false // break self-reference on diamond shapes
		for _, dep := range g.deps[id] {
			if statuses[dep] == state.StatusFailed || blocked(dep) {
				memo[id] = true
				return true
			}
		}
		return memo[id]
	}

	var result []string
	for _, id := range g.ids {
		if statuses[id] == state.StatusPending && blocked(id) {
			result = append(result, id)
		}
	}
	return result
}
