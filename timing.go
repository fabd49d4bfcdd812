package qkdnet

// timing.go derives the durations of the quantum phase, the classical phase,
// and the simulator round from a run configuration.  All values are in
// milliseconds and fixed once per run.

import "math"

// photon source model: a 1 GHz pulse source expressed per millisecond,
// with a 10^-3 probability that a pulse yields a usable qubit
const (
	photonPulseRate = 1e9 / 1000.0
	validPhotonProb = 1e-3

	// usable qubits generated per millisecond
	validGenRate = photonPulseRate * validPhotonProb
)

// A Timing holds the phase durations governing a run
type Timing struct {
	// time to generate and measure N qubits
	QuantumTime float64

	// time allotted to reconciliation and relay combination
	ClassicTime float64

	// simulated time consumed by one scheduler round
	RoundTime float64

	// classic-phase length that gives the bottleneck STN 100% utilization
	IdealClassicTime float64

	// min(1, ClassicTime/IdealClassicTime): the fraction of STN
	// reconciliation work that fits in an undersized classical phase
	STNEfficiency float64
}

// DeriveTiming computes phase durations for a run over numPairs user pairs.
//
// The classical phase, when not configured explicitly, is sized so the
// single most-constrained STN never idles: the expected sifted yield per
// round, N*(px^2+(1-px)^2) bits, divided by a per-bit reconciliation rate.
// We take that rate to be the valid-qubit rate scaled by the same sift
// fraction, so one pair's reconciliation takes exactly as long as its
// quantum phase; a bottleneck STN serving k pairs must fit k-1 additional
// reconciliations into the phase, hence the (numPairs-1) factor.
func DeriveTiming(cfg *RunCfg, numPairs int) Timing {
	var tm Timing
	tm.QuantumTime = float64(cfg.QuantumRounds) / validGenRate

	expectedSifted := float64(cfg.QuantumRounds) * cfg.siftFraction()
	reconRate := validGenRate * cfg.siftFraction()
	perPairClassic := expectedSifted / reconRate

	tm.IdealClassicTime = perPairClassic
	if numPairs > 1 {
		tm.IdealClassicTime = perPairClassic * float64(numPairs-1)
	}

	if cfg.ClassicTime > Disabled {
		tm.ClassicTime = cfg.ClassicTime
	} else {
		tm.ClassicTime = tm.IdealClassicTime
	}

	tm.STNEfficiency = 1.0
	if tm.IdealClassicTime > 0 && tm.ClassicTime < tm.IdealClassicTime {
		tm.STNEfficiency = tm.ClassicTime / tm.IdealClassicTime
	}

	// a round can never be shorter than the quantum phase
	if cfg.RoundTime > Disabled {
		tm.RoundTime = math.Max(cfg.RoundTime, tm.QuantumTime)
	} else {
		tm.RoundTime = math.Max(tm.QuantumTime, tm.ClassicTime)
	}
	return tm
}
