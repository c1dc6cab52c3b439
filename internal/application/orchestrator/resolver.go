package orchestrator

import (
	"github.com/oteiza/mago/internal/domain"
)

// Order computes the execution order of a workflow's steps: a topological
// sort of the dependency graph. Steps with no mutual dependency are ordered
// by ascending agent priority, then by declaration order, so the result is
// deterministic. The registry rejects cyclic workflows at load time; Order
// still reports a ConfigError if it ever receives one.
func Order(wf *domain.WorkflowDefinition) ([]string, error) {
	indegree := make(map[string]int, len(wf.Steps))
	dependents := make(map[string][]string, len(wf.Steps))

	for _, s := range wf.Steps {
		indegree[s.Name] = len(s.Dependencies)
		for _, dep := range s.Dependencies {
			dependents[dep] = append(dependents[dep], s.Name)
		}
	}

	order := make([]string, 0, len(wf.Steps))
	for len(order) < len(wf.Steps) {
		next := pickReady(wf, indegree)
		if next == "" {
			return nil, domain.E(domain.KindConfig,
				"workflow %q has a dependency cycle", wf.Name)
		}
		order = append(order, next)
		indegree[next] = -1
		for _, dep := range dependents[next] {
			indegree[dep]--
		}
	}

	return order, nil
}

// pickReady returns the zero-indegree step with the lowest agent priority
// rank, breaking ties by declaration order.
func pickReady(wf *domain.WorkflowDefinition, indegree map[string]int) string {
	var best *domain.StepDefinition
	for _, s := range wf.Steps {
		if indegree[s.Name] != 0 {
			continue
		}
		if best == nil ||
			s.Agent.Priority < best.Agent.Priority ||
			(s.Agent.Priority == best.Agent.Priority && s.Index < best.Index) {
			best = s
		}
	}
	if best == nil {
		return ""
	}
	return best.Name
}
