package pricing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tbourn/go-rate-engine/internal/domain"
)

// DerivationGraph is the adjacency list of a hotel's derived-setting edges,
// keyed by rate plan id. A rate plan derives from at most one target, so
// each node has out-degree 0 or 1.
//
// The graph is rebuilt from the rule store on every use; there is no global
// mutable instance.
type DerivationGraph struct {
	target     map[string]string   // plan -> target
	dependents map[string][]string // target -> plans deriving directly from it
}

// NewDerivationGraph builds the graph from a hotel's derived settings.
func NewDerivationGraph(settings []domain.RatePlanDerivedSetting) *DerivationGraph {
	g := &DerivationGraph{
		target:     make(map[string]string, len(settings)),
		dependents: make(map[string][]string),
	}
	for _, s := range settings {
		g.setEdge(s.RatePlanID, s.TargetRatePlanID)
	}
	return g
}

func (g *DerivationGraph) setEdge(planID, targetID string) {
	if old, ok := g.target[planID]; ok {
		g.dependents[old] = remove(g.dependents[old], planID)
	}
	g.target[planID] = targetID
	g.dependents[targetID] = append(g.dependents[targetID], planID)
}

// Target returns the rate plan planID derives from.
func (g *DerivationGraph) Target(planID string) (string, bool) {
	t, ok := g.target[planID]
	return t, ok
}

// WouldCycle reports whether setting planID -> targetID (replacing any
// existing edge of planID) closes a cycle. The returned path starts and ends
// at planID, e.g. [a b c a].
func (g *DerivationGraph) WouldCycle(planID, targetID string) ([]string, bool) {
	path := []string{planID}
	seen := map[string]bool{planID: true}
	for cur := targetID; ; {
		path = append(path, cur)
		if cur == planID {
			return path, true
		}
		if seen[cur] {
			// A pre-existing cycle that does not pass through planID.
			return path, true
		}
		seen[cur] = true
		next, ok := g.target[cur]
		if !ok {
			return nil, false
		}
		cur = next
	}
}

// Dependents returns every rate plan that transitively derives from planID,
// sorted by id. planID itself is not included.
func (g *DerivationGraph) Dependents(planID string) []string {
	seen := map[string]bool{planID: true}
	var out []string
	stack := append([]string(nil), g.dependents[planID]...)
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
		stack = append(stack, g.dependents[p]...)
	}
	sort.Strings(out)
	return out
}

// TopoOrder orders plans so that every target precedes the plans deriving
// from it. Traversal starts from plans in id order; targets outside plans
// are walked but not added. A cycle yields ErrDerivationCycle.
func (g *DerivationGraph) TopoOrder(plans []string) ([]string, error) {
	want := make(map[string]bool, len(plans))
	for _, p := range plans {
		want[p] = true
	}
	sorted := append([]string(nil), plans...)
	sort.Strings(sorted)

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(plans))
	out := make([]string, 0, len(plans))

	var visit func(p string, path []string) error
	visit = func(p string, path []string) error {
		switch state[p] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: %s", ErrDerivationCycle, strings.Join(append(path, p), " -> "))
		}
		state[p] = visiting
		if t, ok := g.target[p]; ok {
			if err := visit(t, append(path, p)); err != nil {
				return err
			}
		}
		state[p] = done
		if want[p] {
			out = append(out, p)
		}
		return nil
	}

	for _, p := range sorted {
		if err := visit(p, nil); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
