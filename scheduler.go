package qkdnet

// scheduler.go holds the round scheduler.  Rounds execute as
// self-rescheduling events on an evtm.EventManager: each event runs the
// quantum phase on every active pair's links, attempts relay combination,
// records outcomes, advances the simulated clock by one round duration, and
// schedules the next round unless a termination condition has fired.

import (
	"fmt"
	"math"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"golang.org/x/exp/slices"
)

// An Experiment binds one immutable run configuration to one topology and
// holds all the mutable state of the run.  Experiments share nothing, so
// batch sweeps may run them concurrently.
type Experiment struct {
	Cfg  RunCfg
	Topo *Topology

	timing   Timing
	sessions []*pairSession
	pools    *relayPools
	tracker  *Tracker

	// round-robin service order over session indices
	serviceOrder []int

	rounds  int
	elapsed float64 // simulated ms
	done    bool
}

// CreateExperiment validates the configuration, derives timing, discovers
// each pair's path, and assembles the run.  The returned warnings are
// advisory (e.g. a low quantum-round count); a non-nil error means the run
// must not begin.
func CreateExperiment(cfg RunCfg, topo *Topology) (*Experiment, []string, error) {
	warnings, err := cfg.Validate()
	if err != nil {
		return nil, nil, err
	}

	ex := new(Experiment)
	ex.Cfg = cfg
	ex.Topo = topo
	ex.timing = DeriveTiming(&cfg, len(topo.Pairs))

	sources := make([]string, 0, len(topo.Pairs))
	for _, pair := range topo.Pairs {
		sources = append(sources, pair.Source)
	}
	ex.tracker = CreateTracker(&cfg, sources)

	poolDepth := 0
	if cfg.NodeMode == ModeSTN {
		poolDepth = ex.tracker.km.J
	}
	ex.pools = createRelayPools(topo, poolDepth)

	pr := createPairRouter(topo)
	routed := 0
	for idx, pair := range topo.Pairs {
		pathNodes, found := pr.route(pair)
		if !found {
			// boxed in by other pairs' user nodes; the pair can never
			// generate a key but the rest of the network still runs
			warnings = append(warnings,
				fmt.Sprintf("no path from %s to %s, pair excluded", pair.Source, pair.Dest))
			ex.sessions = append(ex.sessions, &pairSession{pair: pair, state: Stalled})
			ex.serviceOrder = append(ex.serviceOrder, idx)
			continue
		}
		ses := createPairSession(pair, pathNodes, topo, &ex.Cfg)
		ex.sessions = append(ex.sessions, ses)
		ex.serviceOrder = append(ex.serviceOrder, idx)
		routed++
	}
	if routed == 0 {
		return nil, nil, fmt.Errorf("no user pair has a usable path in topology %q", topo.Name)
	}

	return ex, warnings, nil
}

// Timing exposes the derived phase durations of the run
func (ex *Experiment) Timing() Timing {
	return ex.timing
}

// keyCountOnly reports whether the stall check applies: termination keyed
// on key counts with no time bound to fall back on
func (ex *Experiment) keyCountOnly() bool {
	return ex.Cfg.KeysEnabled() && !ex.Cfg.TimeEnabled()
}

// terminated evaluates the run's stopping conditions.  Simulated time is a
// floor, not a mid-round cutoff: the check runs between rounds, so the
// round that crosses the target completes in full.
func (ex *Experiment) terminated() bool {
	if ex.done {
		return true
	}

	if ex.Cfg.TimeEnabled() && ex.elapsed >= ex.Cfg.SimTime*1000.0 {
		ex.done = true
		return true
	}

	active := 0
	reached := 0
	for _, ses := range ex.sessions {
		if ses.state == Stalled {
			continue
		}
		active++
		if ex.Cfg.KeysEnabled() && ses.keys >= ex.Cfg.SimKeys {
			reached++
		}
	}

	if active == 0 {
		// every pair stalled out
		ex.done = true
		return true
	}
	if ex.Cfg.KeysEnabled() && reached == active {
		ex.done = true
		return true
	}
	return false
}

// runRound executes one globally synchronized round across all pairs
func (ex *Experiment) runRound() {
	keyCountOnly := ex.keyCountOnly()
	served := make([]int, 0, len(ex.serviceOrder))

	for _, idx := range ex.serviceOrder {
		ses := ex.sessions[idx]
		if ses.state == Stalled {
			continue
		}
		if ex.Cfg.KeysEnabled() && ses.keys >= ex.Cfg.SimKeys {
			// target met; leave remaining rounds to the others
			continue
		}

		out := ses.attempt(&ex.Cfg, ex.timing, ex.pools, keyCountOnly)
		served = append(served, idx)

		if out.completed {
			rec := KeyRecord{
				Pair:    ses.pair.Source,
				Bits:    out.bits,
				Time:    ex.elapsed + ex.timing.RoundTime,
				QBER:    out.qber,
				HopQBER: out.hopQBER,
			}
			ex.tracker.RecordKey(rec, len(ses.relays))
		}
	}

	ex.pools.endRound()

	// pairs served this round rotate to the back of the service order
	for _, idx := range served {
		pos := slices.Index(ex.serviceOrder, idx)
		ex.serviceOrder = append(slices.Delete(ex.serviceOrder, pos, pos+1), idx)
	}

	ex.elapsed += ex.timing.RoundTime
	ex.rounds++
}

// executeRound is the event handler driving the run; context is the Experiment
func executeRound(evtMgr *evtm.EventManager, context any, data any) any {
	ex := context.(*Experiment)
	ex.runRound()

	if !ex.terminated() {
		evtMgr.Schedule(ex, nil, executeRound, vrtime.SecondsToTime(ex.timing.RoundTime/1000.0))
	}
	return nil
}

// Run drives the experiment to completion on its own event manager and
// returns the final results record
func (ex *Experiment) Run() *Results {
	evtMgr := evtm.New()
	return ex.RunWith(evtMgr)
}

// RunWith drives the experiment on a caller-supplied event manager
func (ex *Experiment) RunWith(evtMgr *evtm.EventManager) *Results {
	if !ex.terminated() {
		evtMgr.Schedule(ex, nil, executeRound, vrtime.SecondsToTime(0.0))
		// the largest limit whose tick conversion does not overflow int64;
		// math.MaxFloat64 overflows in vrtime.SecondsToTicks and makes
		// Run return before dispatching any event
		evtMgr.Run(float64(math.MaxInt64 / vrtime.TicksPerSecond))
	}
	return ex.results()
}
