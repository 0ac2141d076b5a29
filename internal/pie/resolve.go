// ABOUTME: Install-order resolver for a batch of pies and their declared dependencies
// ABOUTME: Greedy: repeatedly take the entry with the fewest unmet dependencies

package pie

import (
	"slices"
	"sort"
)

// Plan is an install order plus what the resolver could not honor.
type Plan struct {
	Order []string
	// Dangling maps an id to the dependencies it names that are not in the batch.
	// They impose no ordering constraint.
	Dangling map[string][]string
	// Unordered lists ids that were placed while dependencies were still unmet,
	// which only happens on a cycle.
	Unordered []string
}

// Resolve returns an install order for deps, a map of pie id to dependency ids.
// For an acyclic map every id comes after all of its dependencies.
func Resolve(deps map[string][]string) []string {
	return PlanInstall(deps).Order
}

// PlanInstall orders deps and reports dangling references and cycles. It never
// fails: on a cycle the remaining entries are still placed, one per step.
func PlanInstall(deps map[string][]string) Plan {
	plan := Plan{Dangling: make(map[string][]string)}

	ids := make([]string, 0, len(deps))
	for id := range deps {
		ids = append(ids, id)
	}
	// Ties are broken by id so the order is reproducible.
	sort.Strings(ids)

	remaining := make(map[string][]string, len(deps))
	for _, id := range ids {
		var need []string
		for _, d := range deps[id] {
			if d == id {
				continue
			}
			if _, ok := deps[d]; !ok {
				plan.Dangling[id] = append(plan.Dangling[id], d)
				continue
			}
			if !slices.Contains(need, d) {
				need = append(need, d)
			}
		}
		remaining[id] = need
	}

	for len(ids) > 0 {
		best := 0
		for i, id := range ids {
			if len(remaining[id]) < len(remaining[ids[best]]) {
				best = i
			}
		}
		picked := ids[best]
		ids = slices.Delete(ids, best, best+1)

		if len(remaining[picked]) > 0 {
			plan.Unordered = append(plan.Unordered, picked)
		}
		plan.Order = append(plan.Order, picked)
		delete(remaining, picked)

		for id, need := range remaining {
			remaining[id] = slices.DeleteFunc(need, func(d string) bool { return d == picked })
		}
	}
	return plan
}
