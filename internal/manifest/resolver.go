package manifest

import (
	"sort"

	"github.com/felixgeelhaar/orchestra/internal/domain"
)

// Resolve returns the components in an order where every dependency precedes
// its dependents. Among simultaneously ready components the lexicographically
// smallest id goes first, so the order is deterministic.
//
// Unknown references are reported before any ordering is attempted.
func Resolve(components []Component) ([]Component, error) {
	byID := make(map[domain.ComponentID]Component, len(components))
	for _, c := range components {
		byID[c.ID] = c
	}

	for _, c := range components {
		for _, dep := range c.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, &UnknownDependencyError{Component: string(c.ID), Missing: string(dep)}
			}
		}
	}

	inDegree := make(map[domain.ComponentID]int, len(byID))
	dependents := make(map[domain.ComponentID][]domain.ComponentID, len(byID))
	for id, c := range byID {
		seen := make(map[domain.ComponentID]bool, len(c.DependsOn))
		for _, dep := range c.DependsOn {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			inDegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []string
	for id := range byID {
		if inDegree[id] == 0 {
			ready = append(ready, string(id))
		}
	}

	order := make([]Component, 0, len(byID))
	for len(ready) > 0 {
		sort.Strings(ready)
		next := domain.ComponentID(ready[0])
		ready = ready[1:]
		order = append(order, byID[next])

		for _, dependent := range dependents[next] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, string(dependent))
			}
		}
	}

	if len(order) < len(byID) {
		emitted := make(map[domain.ComponentID]bool, len(order))
		for _, c := range order {
			emitted[c.ID] = true
		}
		var unresolved []string
		for id := range byID {
			if !emitted[id] {
				unresolved = append(unresolved, string(id))
			}
		}
		sort.Strings(unresolved)
		return nil, &CycleDetectedError{Unresolved: unresolved}
	}

	return order, nil
}

// ExecutionOrder resolves the manifest's components.
func (m *Manifest) ExecutionOrder() ([]Component, error) {
	return Resolve(m.Components)
}

// Dependents returns the ids of components that depend on id, directly or transitively.
func Dependents(components []Component, id domain.ComponentID) []domain.ComponentID {
	direct := make(map[domain.ComponentID][]domain.ComponentID)
	for _, c := range components {
		for _, dep := range c.DependsOn {
			direct[dep] = append(direct[dep], c.ID)
		}
	}

	seen := map[domain.ComponentID]bool{}
	queue := []domain.ComponentID{id}
	var out []domain.ComponentID
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range direct[cur] {
			if seen[d] {
				continue
			}
			seen[d] = true
			out = append(out, d)
			queue = append(queue, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
