package qkdnet

// relay.go holds the node relay protocol: the per-pair session state
// machine and the two multi-hop key-combination semantics.  A TN relay
// decrypts and re-encrypts hop keys, so the end-to-end key is capped by the
// weakest hop.  An STN forwards the XOR of its two hop keys, never holding
// the full key, drawing on a per-neighbor pool of pre-shared secret bits
// that must periodically be refreshed by a full reconciliation.

// SessionState tracks a user pair's progress toward its next key
type SessionState int

const (
	// waiting for the quantum phase on every hop of the path
	AwaitingLinkKeys SessionState = iota

	// hop outcomes in hand, relay combination in progress
	Combining

	// an end-to-end key completed this round; holds until the next attempt
	KeyReady

	// no yield after the bounded number of attempts; the pair is
	// excluded from further key generation for the rest of the run
	Stalled
)

func (st SessionState) String() string {
	switch st {
	case AwaitingLinkKeys:
		return "AWAITING_LINK_KEYS"
	case Combining:
		return "COMBINING"
	case KeyReady:
		return "KEY_READY"
	case Stalled:
		return "STALLED"
	}
	return "UNKNOWN"
}

// consecutive zero-yield rounds before a pair stalls.  Only counted when
// termination is keyed on key counts; a time-bounded run ends regardless.
const stallLimit = 5

// A pairSession drives one user pair's key generation across rounds
type pairSession struct {
	pair UserPair

	// node names from source to destination, inclusive
	path []string

	// relay node names on the path, in path order
	relays []string

	// one channel per path edge
	hops []*linkChannel

	state  SessionState
	stalls int
	keys   int
}

// createPairSession is a constructor.  The hop channels are built from the
// topology links along the path.
func createPairSession(pair UserPair, pathNodes []string, topo *Topology, cfg *RunCfg) *pairSession {
	ps := new(pairSession)
	ps.pair = pair
	ps.path = pathNodes
	ps.state = AwaitingLinkKeys

	for idx := 1; idx < len(pathNodes)-1; idx++ {
		ps.relays = append(ps.relays, pathNodes[idx])
	}
	for idx := 0; idx < len(pathNodes)-1; idx++ {
		lnk := topo.Link(pathNodes[idx], pathNodes[idx+1])
		ps.hops = append(ps.hops, createLinkChannel(lnk, cfg))
	}
	return ps
}

// combineTN composes hop outcomes under trusted-node semantics: the
// end-to-end length is the minimum sifted length across hops and the
// reported QBER is the worst hop's estimate
func combineTN(outcomes []LinkOutcome) (int, float64) {
	bits := outcomes[0].Sifted
	qber := outcomes[0].QBER
	for _, out := range outcomes[1:] {
		if out.Sifted < bits {
			bits = out.Sifted
		}
		if out.QBER > qber {
			qber = out.QBER
		}
	}
	return bits, qber
}

// combineSTN composes hop outcomes under XOR-forwarding semantics.  The
// ceiling is the TN length; an undersized classical phase discounts the
// yield by the bottleneck STN's unmet fraction of reconciliation work.
// The worst hop's QBER estimate is reported, a conservative stand-in for
// the parity-combined error rate.
func combineSTN(outcomes []LinkOutcome, efficiency float64) (int, float64) {
	bits, qber := combineTN(outcomes)
	if efficiency < 1.0 {
		bits = int(float64(bits) * efficiency)
	}
	return bits, qber
}

// relayPools tracks each STN's per-neighbor pre-shared secret bit pools.
// Pools are shared by every session whose path crosses the relay.  Refresh
// accounting is a two-phase ledger: a relay that drains a pool during round
// r is marked pending, endRound promotes the mark, and the relay spends
// round r+1 refreshing.
type relayPools struct {
	depth int

	// remaining keys before the pool with a given neighbor runs dry
	remaining map[string]map[string]int

	// relays that drained a pool this round; they refresh next round
	pending map[string]bool

	// relays spending the current round refreshing a pool
	refreshing map[string]bool
}

// createRelayPools is a constructor.  depth is the pool depth J; a depth
// below 1 disables pooling entirely (the finite-key analysis supports no
// pre-shared bits at these parameters, so STNs reconcile every round).
func createRelayPools(topo *Topology, depth int) *relayPools {
	rp := new(relayPools)
	rp.depth = depth
	rp.remaining = make(map[string]map[string]int)
	rp.pending = make(map[string]bool)
	rp.refreshing = make(map[string]bool)

	if depth < 1 {
		return rp
	}
	for _, name := range topo.Relays {
		nbrs := make(map[string]int)
		for _, nbr := range topo.Nodes[name].Nbrs {
			nbrs[nbr] = depth
		}
		rp.remaining[name] = nbrs
	}
	return rp
}

// enabled reports whether pool accounting is active
func (rp *relayPools) enabled() bool {
	return rp.depth >= 1
}

// isRefreshing reports whether any relay on the path is mid-refresh
func (rp *relayPools) isRefreshing(relays []string) bool {
	for _, name := range relays {
		if rp.refreshing[name] {
			return true
		}
	}
	return false
}

// consume charges one key against each relay's pools with its two path
// neighbors.  A pool that runs dry is restored to full depth and its relay
// marked pending, to refresh during the next round.
func (rp *relayPools) consume(path []string) {
	if !rp.enabled() {
		return
	}

	for idx := 1; idx < len(path)-1; idx++ {
		name := path[idx]
		for _, nbr := range []string{path[idx-1], path[idx+1]} {
			left := rp.remaining[name][nbr]
			if left > 0 {
				left--
			}
			if left == 0 {
				rp.remaining[name][nbr] = rp.depth
				rp.pending[name] = true
			} else {
				rp.remaining[name][nbr] = left
			}
		}
	}
}

// endRound advances the refresh ledger: relays that drained a pool this
// round spend the next one refreshing, and finished refreshes are cleared
func (rp *relayPools) endRound() {
	rp.refreshing = rp.pending
	rp.pending = make(map[string]bool)
}

// attemptOutcome reports what one round did for a pair
type attemptOutcome struct {
	completed bool
	bits      int
	qber      float64
	hopQBER   []float64
}

// attempt runs one round of the session: quantum phase on every hop, then
// relay combination.  A round where any hop misses the minimum viable
// sifted length, or where an STN on the path is refreshing its pool,
// yields nothing but does not abort the run.  keyCountOnly enables the
// bounded stall check.
func (ps *pairSession) attempt(cfg *RunCfg, tm Timing, pools *relayPools, keyCountOnly bool) attemptOutcome {
	outcomes := make([]LinkOutcome, len(ps.hops))
	hopQBER := make([]float64, len(ps.hops))
	for idx, hop := range ps.hops {
		outcomes[idx] = hop.quantumPhase()
		hopQBER[idx] = outcomes[idx].QBER
	}
	ps.state = Combining

	viable := true
	for _, out := range outcomes {
		if out.Sifted < cfg.MinSifted {
			viable = false
			break
		}
	}

	stn := cfg.NodeMode == ModeSTN
	if stn && pools.isRefreshing(ps.relays) {
		// the relay is spending this round reconciling its pool;
		// no stall credit, the pair is not failing to make progress
		ps.state = AwaitingLinkKeys
		return attemptOutcome{}
	}

	var bits int
	var qber float64
	if viable {
		if stn {
			bits, qber = combineSTN(outcomes, tm.STNEfficiency)
		} else {
			bits, qber = combineTN(outcomes)
		}
		if bits < cfg.MinSifted {
			viable = false
		}
	}

	if !viable {
		ps.state = AwaitingLinkKeys
		if keyCountOnly {
			ps.stalls++
			if ps.stalls >= stallLimit {
				ps.state = Stalled
			}
		}
		return attemptOutcome{}
	}

	ps.stalls = 0
	ps.keys++
	ps.state = KeyReady
	if stn {
		pools.consume(ps.path)
	}

	return attemptOutcome{completed: true, bits: bits, qber: qber, hopQBER: hopQBER}
}
