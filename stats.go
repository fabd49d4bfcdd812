package qkdnet

// stats.go holds the finite-key rate equations and the statistics
// aggregator.  The aggregator is purely additive: accumulators are extended
// as keys complete and never rolled back.

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// security parameters of the finite-key analysis
const (
	epsSec   = 1e-30
	epsAbort = 1e-10
	epsPrime = 1e-10
)

// keyMath holds the quantities of the finite-key analysis that depend only
// on N, Q, and px, computed once per run
type keyMath struct {
	n, q, px float64

	n0       float64
	delta    float64
	keyLenTN float64

	// end-to-end keys an STN pool supports before the pool must be
	// refreshed by a full reconciliation with the neighbor
	J int
}

// binaryEntropy is h(p) = -p*log2(p) - (1-p)*log2(1-p).  Outside (0,1) the
// expression is undefined; NaN is returned and callers clamp the resulting
// key length at zero.
func binaryEntropy(p float64) float64 {
	if p <= 0.0 || p >= 1.0 {
		return math.NaN()
	}
	return -(p * math.Log2(p)) - ((1.0 - p) * math.Log2(1.0-p))
}

// createKeyMath evaluates the chain of finite-key quantities for the run
func createKeyMath(cfg *RunCfg) *keyMath {
	km := new(keyMath)
	km.n = float64(cfg.QuantumRounds)
	km.q = cfg.LinkNoise
	km.px = cfg.ProbXBasis

	n := km.n
	px := km.px

	beta := math.Sqrt(math.Log(2.0/epsAbort) / (2.0 * n))
	denom := 1.0 - (2.0 * px * (1.0 - px)) - beta
	nTilde := n * denom
	betaPrime := math.Sqrt(math.Log(2.0/epsAbort) / (2.0 * nTilde))
	m0 := nTilde * (((px * px) / denom) - betaPrime)
	km.n0 = nTilde * (1.0 - ((px * px) / denom) - betaPrime)
	mu := math.Sqrt(((km.n0 + m0) / (km.n0 * m0)) * ((m0 + 1.0) / m0) * math.Log(2.0/epsPrime))
	bigN0 := n * denom * (1.0 - (2.0 * betaPrime))
	km.delta = math.Sqrt(((bigN0 + 2.0) / (m0 * bigN0)) * math.Log(2.0/(epsSec*epsSec)))

	entropyTN := binaryEntropy(km.q + mu)
	km.keyLenTN = (km.n0 * (1.0 - entropyTN)) - (km.n0 * entropyTN) - (2.0 * math.Log(2.0/epsPrime))
	if math.IsNaN(km.keyLenTN) || km.keyLenTN < 0.0 {
		km.keyLenTN = 0.0
	}

	j := (km.keyLenTN - math.Log2(n)) / math.Log2(n)
	if math.IsNaN(j) || j < 0.0 {
		j = 0.0
	}
	km.J = int(j)

	return km
}

// parityErrorWeight is w(q): the probability that an odd number of the p+1
// hop keys on a path with p relays carries a flipped bit, so the XOR-combined
// end-to-end bit is wrong
func (km *keyMath) parityErrorWeight(p int) float64 {
	binom := distuv.Binomial{N: float64(p + 1), P: km.q}
	wq := 0.0
	lim := int(math.Ceil(float64(p+1) / 2.0))
	for i := 0; i < lim; i++ {
		wq += binom.Prob(float64(2*i + 1))
	}
	return wq
}

// keyLength returns the secret bits extractable from one end-to-end key over
// a path with p relays, under the given relay semantics.  Never negative.
func (km *keyMath) keyLength(p int, mode string) float64 {
	if mode != ModeSTN {
		return km.keyLenTN
	}

	entropySTN := binaryEntropy(km.parityErrorWeight(p) + km.delta)
	keyLen := (km.n0 * (1.0 - entropySTN)) - (km.n0 * entropySTN) - (2.0 * math.Log(1.0/epsSec))
	if math.IsNaN(keyLen) || keyLen < 0.0 {
		keyLen = 0.0
	}
	return keyLen
}

// keyCost returns the qubit cost per secret key bit for a path with p
// relays.  Infinite when the key length vanishes.
func (km *keyMath) keyCost(p int, mode string) float64 {
	keyLen := km.keyLength(p, mode)
	if keyLen == 0.0 {
		return math.Inf(1)
	}

	if mode == ModeSTN {
		j := float64(km.J)
		if j == 0.0 {
			return math.Inf(1)
		}
		return ((2.0 * j * km.n) + (float64(2*p+2) * km.n)) / (j * keyLen)
	}
	return (float64(2*p+2) * km.n) / keyLen
}

// A KeyRecord describes one completed end-to-end key.  Immutable once
// created; owned by the Tracker for the remainder of the run.
type KeyRecord struct {
	// source-user name of the owning pair
	Pair string `json:"pair" yaml:"pair"`

	// bit length after relay combination
	Bits int `json:"bits" yaml:"bits"`

	// simulated time (ms) at which the key completed
	Time float64 `json:"time" yaml:"time"`

	// end-to-end QBER after relay combination
	QBER float64 `json:"qber" yaml:"qber"`

	// per-hop QBER estimates contributing to the key
	HopQBER []float64 `json:"hopqber" yaml:"hopqber"`
}

// pairStats accumulates per-pair metrics
type pairStats struct {
	keys      int
	keyBits   int64
	keyRate   float64
	totalCost float64
	costKeys  int
	avgCost   float64
	qberSum   float64
	qberWt    int
	lastKeyAt float64
}

// A Tracker accumulates per-round and per-run metrics into the final
// Results record.  No retries or failure states; purely additive.
type Tracker struct {
	km   *keyMath
	mode string

	finishedKeys int
	totalBits    int64
	totalCost    float64
	costKeys     int
	avgKeyRate   float64
	avgCost      float64
	qberSum      float64
	qberWt       int

	byPair  map[string]*pairStats
	records []KeyRecord
}

// CreateTracker is a constructor
func CreateTracker(cfg *RunCfg, sources []string) *Tracker {
	trk := new(Tracker)
	trk.km = createKeyMath(cfg)
	trk.mode = cfg.NodeMode
	trk.byPair = make(map[string]*pairStats)
	for _, src := range sources {
		trk.byPair[src] = &pairStats{}
	}
	return trk
}

// RecordKey folds one completed end-to-end key into the accumulators.
// p is the number of relays on the pair's path.  Every relay-completed key
// is counted; the secret-rate and cost accumulators only move when the
// finite-key analysis extracts a positive secret length at these parameters.
func (trk *Tracker) RecordKey(rec KeyRecord, p int) {
	keyLen := trk.km.keyLength(p, trk.mode)
	rate := keyLen / trk.km.n

	trk.finishedKeys++
	trk.totalBits += int64(rec.Bits)
	trk.avgKeyRate += (rate - trk.avgKeyRate) / float64(trk.finishedKeys)
	for _, qber := range rec.HopQBER {
		trk.qberSum += qber
		trk.qberWt++
	}

	ps := trk.byPair[rec.Pair]
	if ps == nil {
		ps = &pairStats{}
		trk.byPair[rec.Pair] = ps
	}
	ps.keys++
	ps.keyBits += int64(rec.Bits)
	ps.keyRate += (rate - ps.keyRate) / float64(ps.keys)
	for _, qber := range rec.HopQBER {
		ps.qberSum += qber
		ps.qberWt++
	}
	ps.lastKeyAt = rec.Time

	if keyLen > 0.0 {
		cost := trk.km.keyCost(p, trk.mode)
		if !math.IsInf(cost, 1) {
			trk.totalCost += cost
			trk.costKeys++
			trk.avgCost += (cost - trk.avgCost) / float64(trk.costKeys)
			ps.totalCost += cost
			ps.costKeys++
			ps.avgCost += (cost - ps.avgCost) / float64(ps.costKeys)
		}
	}

	trk.records = append(trk.records, rec)
}

// PairKeys returns the completed-key count for the named pair
func (trk *Tracker) PairKeys(src string) int {
	ps := trk.byPair[src]
	if ps == nil {
		return 0
	}
	return ps.keys
}

// averageQBER is the running hop-weighted mean of disclosed QBER estimates
func (trk *Tracker) averageQBER() float64 {
	if trk.qberWt == 0 {
		return 0.0
	}
	return trk.qberSum / float64(trk.qberWt)
}
