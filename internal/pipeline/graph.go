package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/caltechlibrary/documentarist/internal/document"
)

// sortStages validates the stage set and returns it in dependency order
// (Kahn's algorithm). Duplicate tags, prerequisites on absent stages, and
// dependency cycles are configuration errors.
func sortStages(stages []Stage) ([]Stage, error) {
	byTag := make(map[document.Tag]Stage, len(stages))
	for _, s := range stages {
		tag := s.Tag()
		if tag == "" {
			return nil, &ConfigurationError{Reason: "stage with empty tag"}
		}
		if _, exists := byTag[tag]; exists {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("duplicate stage tag %q", tag)}
		}
		byTag[tag] = s
	}

	indegree := make(map[document.Tag]int, len(stages))
	dependents := make(map[document.Tag][]document.Tag, len(stages))
	for _, s := range stages {
		tag := s.Tag()
		if _, ok := indegree[tag]; !ok {
			indegree[tag] = 0
		}
		for _, dep := range s.Requires() {
			if dep == tag {
				return nil, &ConfigurationError{Reason: fmt.Sprintf("stage %q requires itself", tag)}
			}
			if _, ok := byTag[dep]; !ok {
				return nil, &ConfigurationError{
					Reason: fmt.Sprintf("stage %q requires %q, which is not part of the run", tag, dep),
				}
			}
			indegree[tag]++
			dependents[dep] = append(dependents[dep], tag)
		}
	}

	// Seed the queue in declaration order so the result is deterministic.
	var queue []document.Tag
	for _, s := range stages {
		if indegree[s.Tag()] == 0 {
			queue = append(queue, s.Tag())
		}
	}

	ordered := make([]Stage, 0, len(stages))
	for len(queue) > 0 {
		tag := queue[0]
		queue = queue[1:]
		ordered = append(ordered, byTag[tag])
		for _, next := range dependents[tag] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(ordered) != len(stages) {
		var cyclic []string
		for tag, deg := range indegree {
			if deg > 0 {
				cyclic = append(cyclic, string(tag))
			}
		}
		sort.Strings(cyclic)
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("dependency cycle involving stages: %s", strings.Join(cyclic, ", ")),
		}
	}
	return ordered, nil
}

// Select narrows a stage set to the wanted tags plus, transitively, every
// prerequisite they need. Asking for a tag that is not in the set is a
// configuration error.
func Select(stages []Stage, want []document.Tag) ([]Stage, error) {
	byTag := make(map[document.Tag]Stage, len(stages))
	for _, s := range stages {
		byTag[s.Tag()] = s
	}

	keep := make(map[document.Tag]bool)
	queue := append([]document.Tag(nil), want...)
	for len(queue) > 0 {
		tag := queue[0]
		queue = queue[1:]
		if keep[tag] {
			continue
		}
		stage, ok := byTag[tag]
		if !ok {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown stage %q", tag)}
		}
		keep[tag] = true
		queue = append(queue, stage.Requires()...)
	}

	// Preserve the original declaration order.
	var out []Stage
	for _, s := range stages {
		if keep[s.Tag()] {
			out = append(out, s)
		}
	}
	return out, nil
}
