package resolver

import (
	"context"
	"fmt"
)

// expandDependencies transitively searches for every selected candidate's
// Depends entries, using an empty category per the untyped-dependency-name
// search rule, appending newly discovered candidates until the closure is
// complete or a named dependency cannot be found anywhere.
func (r *Resolver) expandDependencies(ctx context.Context, selected []Candidate) ([]Candidate, error) {
	have := make(map[string]bool, len(selected))
	for _, c := range selected {
		have[c.Name] = true
	}

	var queue []string
	for _, c := range selected {
		queue = append(queue, c.Depends...)
	}

	result := append([]Candidate{}, selected...)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if have[name] {
			continue
		}

		n, err := r.Search(ctx, []Item{{Name: name}})
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: %s", errDependencyNotFound, name)
		}

		r.mu.Lock()
		found := append([]Candidate{}, r.candidates[len(r.candidates)-n:]...)
		r.mu.Unlock()

		best := found[0]
		have[name] = true
		result = append(result, best)
		queue = append(queue, best.Depends...)
	}
	return result, nil
}
