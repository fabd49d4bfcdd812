package qkdnet

// routes.go provides functions to discover the path each user pair uses
// through the QKD network

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// The approach is to convert the Topology into the data structures used by
// the gonum graph package, which has built-in path discovery algorithms.
// Weighting each edge by 1, a shortest path minimizes the number of hops.
//   A pair's path may not pass through another pair's user nodes, so before
// running Dijkstra for pair i we drop every edge incident to a user node
// belonging to a different pair.  The resulting path is cached per pair,
// since the topology is read-only for the life of a run.

// pairRouter maps between topology node names and gonum node ids and
// caches the per-pair shortest paths
type pairRouter struct {
	topo     *Topology
	idOf     map[string]int64
	nameOf   map[int64]string
	cachedSP map[int][]string
}

// createPairRouter is a constructor.  Node ids are assigned in sorted
// name order so route discovery is deterministic.
func createPairRouter(topo *Topology) *pairRouter {
	pr := new(pairRouter)
	pr.topo = topo
	pr.idOf = make(map[string]int64)
	pr.nameOf = make(map[int64]string)
	pr.cachedSP = make(map[int][]string)

	names := make([]string, 0, len(topo.Nodes))
	for name := range topo.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	for idx, name := range names {
		pr.idOf[name] = int64(idx)
		pr.nameOf[int64(idx)] = name
	}
	return pr
}

// buildConnGraph creates the gonum graph for one pair's route discovery,
// omitting edges that touch user nodes outside the pair
func (pr *pairRouter) buildConnGraph(pair UserPair) graph.Graph {
	connGraph := simple.NewWeightedUndirectedGraph(0, math.Inf(1))

	foreign := func(name string) bool {
		nd := pr.topo.Nodes[name]
		return nd.Role != Relay && nd.Index != pair.Index
	}

	for _, lnk := range pr.topo.Links {
		if foreign(lnk.NodeA) || foreign(lnk.NodeB) {
			continue
		}
		weightedEdge := simple.WeightedEdge{
			F: simple.Node(pr.idOf[lnk.NodeA]),
			T: simple.Node(pr.idOf[lnk.NodeB]),
			W: 1.0,
		}
		connGraph.SetWeightedEdge(weightedEdge)
	}
	return connGraph
}

// route returns the node names on the pair's path from source to destination
// inclusive, or false when no path exists
func (pr *pairRouter) route(pair UserPair) ([]string, bool) {
	cached, present := pr.cachedSP[pair.Index]
	if present {
		return cached, len(cached) > 0
	}

	connGraph := pr.buildConnGraph(pair)
	srcID, srcIn := pr.idOf[pair.Source]
	dstID, dstIn := pr.idOf[pair.Dest]
	if !srcIn || !dstIn || connGraph.Node(srcID) == nil || connGraph.Node(dstID) == nil {
		pr.cachedSP[pair.Index] = nil
		return nil, false
	}

	spTree := path.DijkstraFrom(connGraph.Node(srcID), connGraph)
	nodes, weight := spTree.To(dstID)
	if len(nodes) == 0 || math.IsInf(weight, 1) {
		pr.cachedSP[pair.Index] = nil
		return nil, false
	}

	hops := make([]string, 0, len(nodes))
	for _, nd := range nodes {
		hops = append(hops, pr.nameOf[nd.ID()])
	}
	pr.cachedSP[pair.Index] = hops
	return hops, true
}
