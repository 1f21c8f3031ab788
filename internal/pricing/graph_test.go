package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-rate-engine/internal/domain"
)

func edge(plan, target string) domain.RatePlanDerivedSetting {
	return domain.RatePlanDerivedSetting{ID: "ds-" + plan, RatePlanID: plan, TargetRatePlanID: target}
}

func TestDerivationGraph_WouldCycle(t *testing.T) {
	g := NewDerivationGraph([]domain.RatePlanDerivedSetting{edge("nr", "bar"), edge("pkg", "nr")})

	path, cyc := g.WouldCycle("bar", "pkg")
	require.True(t, cyc)
	assert.Equal(t, []string{"bar", "pkg", "nr", "bar"}, path)

	_, cyc = g.WouldCycle("bar", "bar")
	assert.True(t, cyc, "self loop")

	_, cyc = g.WouldCycle("pkg", "bar")
	assert.False(t, cyc, "retargeting an existing edge down the chain is fine")

	_, cyc = g.WouldCycle("corp", "pkg")
	assert.False(t, cyc)
}

func TestDerivationGraph_Dependents(t *testing.T) {
	g := NewDerivationGraph([]domain.RatePlanDerivedSetting{
		edge("nr", "bar"), edge("pkg", "nr"), edge("corp", "bar"), edge("other", "x"),
	})
	assert.Equal(t, []string{"corp", "nr", "pkg"}, g.Dependents("bar"))
	assert.Equal(t, []string{"pkg"}, g.Dependents("nr"))
	assert.Empty(t, g.Dependents("pkg"))
}

func TestDerivationGraph_TopoOrder(t *testing.T) {
	g := NewDerivationGraph([]domain.RatePlanDerivedSetting{edge("a", "z"), edge("z", "m")})

	order, err := g.TopoOrder([]string{"a", "b", "m", "z"})
	require.NoError(t, err)
	assert.Equal(t, []string{"m", "z", "a", "b"}, order)

	cyclic := NewDerivationGraph([]domain.RatePlanDerivedSetting{edge("a", "b"), edge("b", "a")})
	_, err = cyclic.TopoOrder([]string{"a", "b"})
	assert.ErrorIs(t, err, ErrDerivationCycle)
}

func TestProvenance_OrderInsensitive(t *testing.T) {
	a := Provenance([]string{"x:1", "y:2", "x:1"})
	b := Provenance([]string{"y:2", "x:1"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, Provenance([]string{"y:3", "x:1"}))
}
