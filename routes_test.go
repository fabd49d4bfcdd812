package qkdnet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRouteChain(t *testing.T) {
	topo, err := CreateTopology(ChainTopoCfg(3, 2), 0.0)
	require.NoError(t, err)

	pr := createPairRouter(topo)
	for _, pair := range topo.Pairs {
		hops, found := pr.route(pair)
		require.True(t, found)
		require.Equal(t, []string{pair.Source, "n0", "n1", "n2", pair.Dest}, hops)
	}
}

func TestRouteDirect(t *testing.T) {
	topo, err := CreateTopology(DirectTopoCfg(1), 0.0)
	require.NoError(t, err)

	pr := createPairRouter(topo)
	hops, found := pr.route(topo.Pairs[0])
	require.True(t, found)
	require.Equal(t, []string{"a0", "b0"}, hops)
}

func TestRoutePrefersShortPath(t *testing.T) {
	// two routes from a0 to b0: through n0 directly or the n1-n2 detour
	tc := &TopoCfg{
		Name: "shortcut",
		Nodes: map[string]map[string]LinkDesc{
			"a0": {"n0": {Weight: 1}, "n1": {Weight: 1}},
			"b0": {"n0": {Weight: 1}, "n2": {Weight: 1}},
			"n0": {"a0": {Weight: 1}, "b0": {Weight: 1}},
			"n1": {"a0": {Weight: 1}, "n2": {Weight: 1}},
			"n2": {"n1": {Weight: 1}, "b0": {Weight: 1}},
		},
	}
	topo, err := CreateTopology(tc, 0.0)
	require.NoError(t, err)

	pr := createPairRouter(topo)
	hops, found := pr.route(topo.Pairs[0])
	require.True(t, found)
	require.Equal(t, []string{"a0", "n0", "b0"}, hops)
}

func TestRouteAvoidsForeignUsers(t *testing.T) {
	// pair 1's only physical route runs through pair 0's users,
	// which is forbidden, so pair 1 is unroutable
	tc := &TopoCfg{
		Name: "boxed",
		Nodes: map[string]map[string]LinkDesc{
			"a0": {"b0": {Weight: 1}, "a1": {Weight: 1}},
			"b0": {"a0": {Weight: 1}, "b1": {Weight: 1}},
			"a1": {"a0": {Weight: 1}},
			"b1": {"b0": {Weight: 1}},
		},
	}
	topo, err := CreateTopology(tc, 0.0)
	require.NoError(t, err)

	pr := createPairRouter(topo)

	hops, found := pr.route(topo.Pairs[0])
	require.True(t, found)
	require.Equal(t, []string{"a0", "b0"}, hops)

	_, found = pr.route(topo.Pairs[1])
	require.False(t, found)

	// the miss is cached too
	_, found = pr.route(topo.Pairs[1])
	require.False(t, found)
}
