// ABOUTME: Tests for the install-order resolver
// ABOUTME: Checks exact ordering, acyclic placement, dangling references and cycles

package pie

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_Chain(t *testing.T) {
	order := Resolve(map[string][]string{
		"C": {"A", "B"},
		"B": {"A"},
		"A": {},
	})
	assert.Equal(t, []string{"A", "B", "C"}, order)
}

func TestResolve_Empty(t *testing.T) {
	assert.Empty(t, Resolve(nil))
}

func TestResolve_AcyclicPlacesDependenciesFirst(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for trial := range 50 {
		// Edges only point to lower indices, so the graph is acyclic.
		n := 2 + rng.IntN(12)
		deps := make(map[string][]string, n)
		for i := range n {
			id := fmt.Sprintf("p%02d", i)
			deps[id] = nil
			for j := range i {
				if rng.IntN(3) == 0 {
					deps[id] = append(deps[id], fmt.Sprintf("p%02d", j))
				}
			}
		}

		plan := PlanInstall(deps)
		require.Len(t, plan.Order, n, "trial %d", trial)
		assert.Empty(t, plan.Unordered, "trial %d", trial)
		for id, ds := range deps {
			at := slices.Index(plan.Order, id)
			for _, d := range ds {
				assert.Less(t, slices.Index(plan.Order, d), at, "trial %d: %s before %s", trial, d, id)
			}
		}
	}
}

func TestResolve_DanglingIsNoConstraint(t *testing.T) {
	plan := PlanInstall(map[string][]string{
		"a.x": {"missing.one"},
		"a.y": {"a.x"},
	})
	assert.Equal(t, []string{"a.x", "a.y"}, plan.Order)
	assert.Equal(t, map[string][]string{"a.x": {"missing.one"}}, plan.Dangling)
	assert.Empty(t, plan.Unordered)
}

func TestResolve_CycleTerminates(t *testing.T) {
	plan := PlanInstall(map[string][]string{
		"a": {"b"},
		"b": {"a"},
		"c": {},
	})
	assert.Len(t, plan.Order, 3)
	assert.Equal(t, "c", plan.Order[0])
	assert.Equal(t, []string{"a"}, plan.Unordered, "first cycle member placed with an unmet dependency")
}

func TestResolve_SelfAndDuplicateDependencies(t *testing.T) {
	order := Resolve(map[string][]string{
		"b": {"a", "a", "b"},
		"a": {},
	})
	assert.Equal(t, []string{"a", "b"}, order)
}
