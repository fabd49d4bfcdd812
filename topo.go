package qkdnet

// topo.go holds structs, methods, and functions supporting the construction
// of and access to QKD network topologies.  The serialized form is a
// dict-of-dicts: node name -> neighbor name -> link description, with node
// roles encoded in the names ('a' source user, 'b' destination user,
// 'n' relay)

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/iti/rngstream"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// NodeRole tags the function of a node in the QKD network
type NodeRole int

const (
	// SourceUser nodes ('a<i>') initiate key generation
	SourceUser NodeRole = iota

	// DestUser nodes ('b<i>') terminate key generation, paired with 'a<i>'
	DestUser

	// Relay nodes ('n<i>') forward key material as TNs or STNs
	Relay
)

func (role NodeRole) String() string {
	switch role {
	case SourceUser:
		return "SourceUser"
	case DestUser:
		return "DestUser"
	case Relay:
		return "Relay"
	}
	return "Unknown"
}

// ParseNodeRole extracts the role and pair/relay index from a node name.
// An error is returned for names that don't follow the a<i>/b<i>/n<i> convention.
func ParseNodeRole(name string) (NodeRole, int, error) {
	if len(name) < 2 {
		return Relay, 0, fmt.Errorf("malformed node name %q", name)
	}

	idx, err := strconv.Atoi(name[1:])
	if err != nil || idx < 0 {
		return Relay, 0, fmt.Errorf("malformed node name %q", name)
	}

	switch name[0] {
	case 'a':
		return SourceUser, idx, nil
	case 'b':
		return DestUser, idx, nil
	case 'n':
		return Relay, idx, nil
	}
	return Relay, 0, fmt.Errorf("malformed node name %q", name)
}

// A LinkDesc holds the serializable attributes of one edge endpoint entry.
// Noise overrides the run-wide link noise when positive.
type LinkDesc struct {
	Weight float64 `json:"weight" yaml:"weight"`
	Noise  float64 `json:"noise,omitempty" yaml:"noise,omitempty"`
}

// A TopoCfg is the pointer-free serializable description of a topology,
// compatible with the dict-of-dicts text form
type TopoCfg struct {
	Name  string                         `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes map[string]map[string]LinkDesc `json:"nodes" yaml:"nodes"`
}

// WriteToFile stores the TopoCfg struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (tc *TopoCfg) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*tc)
	} else {
		bytes, merr = json.MarshalIndent(*tc, "", "\t")
	}
	if merr != nil {
		return merr
	}

	f, cerr := os.Create(filename)
	if cerr != nil {
		return cerr
	}
	if _, werr := f.WriteString(string(bytes)); werr != nil {
		f.Close()
		return werr
	}
	return f.Close()
}

// ReadTopoCfg deserializes a byte slice holding a representation of a TopoCfg
// struct.  If the dict argument is empty the bytes are read from the named file.
func ReadTopoCfg(filename string, useYAML bool, dict []byte) (*TopoCfg, error) {
	var err error

	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := TopoCfg{}
	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, err
	}

	return &example, nil
}

// A Link is the run-time representation of one edge in the topology.
// Endpoint names are held in lexicographic order so that each physical
// link has exactly one representation.  Noise is fixed at topology
// construction and reused across all rounds on the link.
type Link struct {
	NodeA string
	NodeB string
	Noise float64
}

// Key returns the canonical name of the link
func (lnk *Link) Key() string {
	return lnk.NodeA + "-" + lnk.NodeB
}

// linkKey orders a pair of endpoint names canonically
func linkKey(n1, n2 string) (string, string) {
	if n1 < n2 {
		return n1, n2
	}
	return n2, n1
}

// A UserPair identifies one source/destination user pairing a<i>/b<i>
type UserPair struct {
	Source string
	Dest   string
	Index  int
}

// A TopoNode is the run-time representation of one node
type TopoNode struct {
	Name string
	Role NodeRole

	// index i from the a<i>/b<i>/n<i> name
	Index int

	// names of directly connected nodes, sorted
	Nbrs []string
}

// A Topology is the validated run-time form of a TopoCfg.  It is built once
// per run and read-only to the engine thereafter.
type Topology struct {
	Name   string
	Nodes  map[string]*TopoNode
	Links  map[string]*Link
	Pairs  []UserPair
	Relays []string
}

// Link returns the link joining the two named nodes, nil if absent
func (topo *Topology) Link(n1, n2 string) *Link {
	a, b := linkKey(n1, n2)
	return topo.Links[a+"-"+b]
}

// CreateTopology validates a TopoCfg and builds the run-time Topology.
// defaultNoise is applied to every link without its own noise override.
// Malformed node names, unpaired users, and user-to-user shortcuts between
// different pairs are all rejected here, before the engine sees the topology.
func CreateTopology(tc *TopoCfg, defaultNoise float64) (*Topology, error) {
	if len(tc.Nodes) == 0 {
		return nil, fmt.Errorf("topology %q has no nodes", tc.Name)
	}

	topo := new(Topology)
	topo.Name = tc.Name
	topo.Nodes = make(map[string]*TopoNode)
	topo.Links = make(map[string]*Link)

	srcIdx := make(map[int]string)
	dstIdx := make(map[int]string)

	for name := range tc.Nodes {
		role, idx, err := ParseNodeRole(name)
		if err != nil {
			return nil, err
		}

		switch role {
		case SourceUser:
			if _, present := srcIdx[idx]; present {
				return nil, fmt.Errorf("duplicate source user %s", name)
			}
			srcIdx[idx] = name
		case DestUser:
			if _, present := dstIdx[idx]; present {
				return nil, fmt.Errorf("duplicate destination user %s", name)
			}
			dstIdx[idx] = name
		case Relay:
			topo.Relays = append(topo.Relays, name)
		}
		topo.Nodes[name] = &TopoNode{Name: name, Role: role, Index: idx}
	}

	// every a<i> needs a b<i> and vice versa
	for idx, name := range srcIdx {
		dst, present := dstIdx[idx]
		if !present {
			return nil, fmt.Errorf("source user %s has no destination b%d", name, idx)
		}
		topo.Pairs = append(topo.Pairs, UserPair{Source: name, Dest: dst, Index: idx})
	}
	for idx, name := range dstIdx {
		if _, present := srcIdx[idx]; !present {
			return nil, fmt.Errorf("destination user %s has no source a%d", name, idx)
		}
	}
	if len(topo.Pairs) == 0 {
		return nil, fmt.Errorf("topology %q has no user pairs", tc.Name)
	}
	sort.Slice(topo.Pairs, func(i, j int) bool { return topo.Pairs[i].Index < topo.Pairs[j].Index })
	sort.Strings(topo.Relays)

	// the serialized form may list each edge once or from both endpoints;
	// fold both into one canonical undirected link.  Both endpoints may
	// carry the same noise override, but disagreeing overrides are rejected
	// rather than resolved by encounter order.
	overridden := make(map[string]bool)
	for name, nbrs := range tc.Nodes {
		for nbr, ld := range nbrs {
			if nbr == name {
				return nil, fmt.Errorf("node %s links to itself", name)
			}
			if _, present := topo.Nodes[nbr]; !present {
				return nil, fmt.Errorf("node %s links to unknown node %s", name, nbr)
			}

			a, b := linkKey(name, nbr)
			key := a + "-" + b
			lnk, present := topo.Links[key]
			if !present {
				lnk = &Link{NodeA: a, NodeB: b, Noise: defaultNoise}
				topo.Links[key] = lnk
			}
			if ld.Noise > 0 {
				if overridden[key] && lnk.Noise != ld.Noise {
					return nil, fmt.Errorf("link %s has conflicting noise overrides", key)
				}
				lnk.Noise = ld.Noise
				overridden[key] = true
			}

			nd := topo.Nodes[name]
			if !slices.Contains(nd.Nbrs, nbr) {
				nd.Nbrs = append(nd.Nbrs, nbr)
			}
			nbrNd := topo.Nodes[nbr]
			if !slices.Contains(nbrNd.Nbrs, name) {
				nbrNd.Nbrs = append(nbrNd.Nbrs, name)
			}
		}
	}

	for _, nd := range topo.Nodes {
		if len(nd.Nbrs) == 0 {
			return nil, fmt.Errorf("node %s is disconnected", nd.Name)
		}
		sort.Strings(nd.Nbrs)
	}

	return topo, nil
}

// ChainTopoCfg describes a line of numRelays relays with every source user
// attached to the first relay and every destination user attached to the last
func ChainTopoCfg(numRelays, numPairs int) *TopoCfg {
	tc := new(TopoCfg)
	tc.Name = fmt.Sprintf("chain-%d", numRelays)
	tc.Nodes = make(map[string]map[string]LinkDesc)

	first := "n0"
	last := fmt.Sprintf("n%d", numRelays-1)
	for i := 0; i < numPairs; i++ {
		tc.Nodes[fmt.Sprintf("a%d", i)] = map[string]LinkDesc{first: {Weight: 1}}
		tc.Nodes[fmt.Sprintf("b%d", i)] = map[string]LinkDesc{last: {Weight: 1}}
	}

	for i := 0; i < numRelays; i++ {
		nbrs := make(map[string]LinkDesc)
		if i > 0 {
			nbrs[fmt.Sprintf("n%d", i-1)] = LinkDesc{Weight: 1}
		}
		if i < numRelays-1 {
			nbrs[fmt.Sprintf("n%d", i+1)] = LinkDesc{Weight: 1}
		}
		tc.Nodes[fmt.Sprintf("n%d", i)] = nbrs
	}
	return tc
}

// SingleRelayTopoCfg describes one relay serving every user pair
func SingleRelayTopoCfg(numPairs int) *TopoCfg {
	return ChainTopoCfg(1, numPairs)
}

// DumbbellTopoCfg describes two connected relays, sources on one
// and destinations on the other
func DumbbellTopoCfg(numPairs int) *TopoCfg {
	tc := ChainTopoCfg(2, numPairs)
	tc.Name = "dumbbell"
	return tc
}

// DirectTopoCfg describes user pairs joined by direct links with no relays
func DirectTopoCfg(numPairs int) *TopoCfg {
	tc := new(TopoCfg)
	tc.Name = "direct"
	tc.Nodes = make(map[string]map[string]LinkDesc)
	for i := 0; i < numPairs; i++ {
		a := fmt.Sprintf("a%d", i)
		b := fmt.Sprintf("b%d", i)
		tc.Nodes[a] = map[string]LinkDesc{b: {Weight: 1}}
		tc.Nodes[b] = map[string]LinkDesc{a: {Weight: 1}}
	}
	return tc
}

// GridTopoCfg describes a rows x cols grid of relays with 2*numPairs user
// nodes dropped onto distinct grid positions chosen with rng
func GridTopoCfg(rows, cols, numPairs int, rng *rngstream.RngStream) *TopoCfg {
	total := rows * cols
	if 2*numPairs > total {
		return nil
	}

	// pick distinct cells for the users
	userCells := make(map[int]string)
	for i := 0; i < numPairs; i++ {
		for _, name := range []string{fmt.Sprintf("a%d", i), fmt.Sprintf("b%d", i)} {
			for {
				cell := rng.RandInt(0, total-1)
				if _, taken := userCells[cell]; !taken {
					userCells[cell] = name
					break
				}
			}
		}
	}

	// name each cell, relays numbered in row-major order over the rest
	cellName := make([]string, total)
	relayCount := 0
	for cell := 0; cell < total; cell++ {
		if name, present := userCells[cell]; present {
			cellName[cell] = name
		} else {
			cellName[cell] = fmt.Sprintf("n%d", relayCount)
			relayCount++
		}
	}

	tc := new(TopoCfg)
	tc.Name = fmt.Sprintf("grid-%dx%d", rows, cols)
	tc.Nodes = make(map[string]map[string]LinkDesc)
	for cell := 0; cell < total; cell++ {
		tc.Nodes[cellName[cell]] = make(map[string]LinkDesc)
	}

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			cell := r*cols + c
			if c+1 < cols {
				tc.Nodes[cellName[cell]][cellName[cell+1]] = LinkDesc{Weight: 1}
				tc.Nodes[cellName[cell+1]][cellName[cell]] = LinkDesc{Weight: 1}
			}
			if r+1 < rows {
				tc.Nodes[cellName[cell]][cellName[cell+cols]] = LinkDesc{Weight: 1}
				tc.Nodes[cellName[cell+cols]][cellName[cell]] = LinkDesc{Weight: 1}
			}
		}
	}
	return tc
}

// ParseDictOfDicts reads the legacy text serialization of a topology,
// a Python-style dict-of-dicts literal, e.g.
// {'a0': {'n0': {'weight': 1}}, ...}.  Kept for compatibility with graph
// files written by earlier tooling; yaml/json forms are preferred.
func ParseDictOfDicts(text string) (*TopoCfg, error) {
	// the literal form maps onto JSON after quote replacement
	jsonish := strings.ReplaceAll(text, "'", "\"")

	nodes := make(map[string]map[string]LinkDesc)
	if err := json.Unmarshal([]byte(jsonish), &nodes); err != nil {
		return nil, fmt.Errorf("unparseable dict-of-dicts topology: %w", err)
	}
	return &TopoCfg{Nodes: nodes}, nil
}
