package qkdnet

import (
	"path/filepath"
	"testing"

	"github.com/iti/rngstream"
	"github.com/stretchr/testify/require"
)

func TestParseNodeRole(t *testing.T) {
	cases := []struct {
		name string
		role NodeRole
		idx  int
		ok   bool
	}{
		{"a0", SourceUser, 0, true},
		{"b12", DestUser, 12, true},
		{"n3", Relay, 3, true},
		{"x1", Relay, 0, false},
		{"a", Relay, 0, false},
		{"a-1", Relay, 0, false},
		{"axe", Relay, 0, false},
		{"", Relay, 0, false},
	}

	for _, tc := range cases {
		role, idx, err := ParseNodeRole(tc.name)
		if !tc.ok {
			require.Error(t, err, "name %q", tc.name)
			continue
		}
		require.NoError(t, err, "name %q", tc.name)
		require.Equal(t, tc.role, role)
		require.Equal(t, tc.idx, idx)
	}
}

func TestChainTopology(t *testing.T) {
	tc := ChainTopoCfg(3, 2)
	topo, err := CreateTopology(tc, 0.02)
	require.NoError(t, err)

	require.Len(t, topo.Pairs, 2)
	require.Equal(t, []string{"n0", "n1", "n2"}, topo.Relays)

	// users attach to the chain ends
	require.NotNil(t, topo.Link("a0", "n0"))
	require.NotNil(t, topo.Link("b1", "n2"))
	require.Nil(t, topo.Link("a0", "b0"))

	// link lookup is direction independent
	require.Equal(t, topo.Link("n0", "n1"), topo.Link("n1", "n0"))

	// default noise flows onto every link
	require.Equal(t, 0.02, topo.Link("n1", "n2").Noise)
}

func TestDumbbellAndDirectTopologies(t *testing.T) {
	topo, err := CreateTopology(DumbbellTopoCfg(3), 0.0)
	require.NoError(t, err)
	require.Len(t, topo.Pairs, 3)
	require.Len(t, topo.Relays, 2)

	topo, err = CreateTopology(DirectTopoCfg(2), 0.0)
	require.NoError(t, err)
	require.Len(t, topo.Pairs, 2)
	require.Empty(t, topo.Relays)
	require.NotNil(t, topo.Link("a1", "b1"))
}

func TestGridTopology(t *testing.T) {
	rng := rngstream.New("grid-test")
	tc := GridTopoCfg(4, 4, 2, rng)
	require.NotNil(t, tc)
	require.Len(t, tc.Nodes, 16)

	topo, err := CreateTopology(tc, 0.0)
	require.NoError(t, err)
	require.Len(t, topo.Pairs, 2)
	require.Len(t, topo.Relays, 12)

	// a grid too small for the requested users is refused
	require.Nil(t, GridTopoCfg(1, 3, 2, rng))
}

func TestCreateTopologyRejections(t *testing.T) {
	cases := []struct {
		label string
		nodes map[string]map[string]LinkDesc
	}{
		{"unpaired source", map[string]map[string]LinkDesc{
			"a0": {"n0": {Weight: 1}},
			"n0": {"a0": {Weight: 1}},
		}},
		{"unpaired destination", map[string]map[string]LinkDesc{
			"b0": {"n0": {Weight: 1}},
			"n0": {"b0": {Weight: 1}},
		}},
		{"malformed name", map[string]map[string]LinkDesc{
			"a0": {"b0": {Weight: 1}},
			"b0": {"a0": {Weight: 1}},
			"q7": {"a0": {Weight: 1}},
		}},
		{"self link", map[string]map[string]LinkDesc{
			"a0": {"a0": {Weight: 1}},
			"b0": {"a0": {Weight: 1}},
		}},
		{"unknown neighbor", map[string]map[string]LinkDesc{
			"a0": {"n9": {Weight: 1}},
			"b0": {"a0": {Weight: 1}},
		}},
		{"disconnected node", map[string]map[string]LinkDesc{
			"a0": {"b0": {Weight: 1}},
			"b0": {"a0": {Weight: 1}},
			"n0": {},
		}},
		{"no user pairs", map[string]map[string]LinkDesc{
			"n0": {"n1": {Weight: 1}},
			"n1": {"n0": {Weight: 1}},
		}},
		{"empty", map[string]map[string]LinkDesc{}},
	}

	for _, tc := range cases {
		_, err := CreateTopology(&TopoCfg{Name: tc.label, Nodes: tc.nodes}, 0.0)
		require.Error(t, err, tc.label)
	}
}

func TestLinkNoiseOverride(t *testing.T) {
	tc := &TopoCfg{
		Name: "override",
		Nodes: map[string]map[string]LinkDesc{
			"a0": {"n0": {Weight: 1, Noise: 0.1}},
			"n0": {"a0": {Weight: 1}, "b0": {Weight: 1}},
			"b0": {"n0": {Weight: 1}},
		},
	}
	topo, err := CreateTopology(tc, 0.02)
	require.NoError(t, err)

	require.Equal(t, 0.1, topo.Link("a0", "n0").Noise)
	require.Equal(t, 0.02, topo.Link("n0", "b0").Noise)
}

func TestConflictingNoiseOverrides(t *testing.T) {
	nodes := func(noiseFromRelay float64) map[string]map[string]LinkDesc {
		return map[string]map[string]LinkDesc{
			"a0": {"n0": {Weight: 1, Noise: 0.1}},
			"n0": {"a0": {Weight: 1, Noise: noiseFromRelay}, "b0": {Weight: 1}},
			"b0": {"n0": {Weight: 1}},
		}
	}

	// both endpoints disagreeing on the override is an input error,
	// whichever endpoint is visited first
	_, err := CreateTopology(&TopoCfg{Name: "conflict", Nodes: nodes(0.2)}, 0.02)
	require.Error(t, err)
	require.Contains(t, err.Error(), "conflicting noise")

	// matching overrides from both endpoints are fine
	topo, err := CreateTopology(&TopoCfg{Name: "agree", Nodes: nodes(0.1)}, 0.02)
	require.NoError(t, err)
	require.Equal(t, 0.1, topo.Link("a0", "n0").Noise)
}

func TestParseDictOfDicts(t *testing.T) {
	text := `{'a0': {'n0': {'weight': 1}}, 'b0': {'n0': {'weight': 1}}, 'n0': {'a0': {'weight': 1}, 'b0': {'weight': 1}}}`
	tc, err := ParseDictOfDicts(text)
	require.NoError(t, err)
	require.Len(t, tc.Nodes, 3)
	require.Equal(t, 1.0, tc.Nodes["n0"]["a0"].Weight)

	_, err = CreateTopology(tc, 0.0)
	require.NoError(t, err)

	_, err = ParseDictOfDicts("not a topology")
	require.Error(t, err)
}

func TestTopoCfgFileRoundTrip(t *testing.T) {
	tc := DumbbellTopoCfg(2)
	dir := t.TempDir()

	for _, fname := range []string{"topo.yaml", "topo.json"} {
		full := filepath.Join(dir, fname)
		require.NoError(t, tc.WriteToFile(full))

		read, err := LoadTopoCfg(full)
		require.NoError(t, err)
		require.Equal(t, tc.Name, read.Name)
		require.Equal(t, tc.Nodes, read.Nodes)
	}
}
