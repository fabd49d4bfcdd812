package qkdnet

import (
	"testing"

	"github.com/iti/rngstream"
	"github.com/stretchr/testify/require"
)

func testLinkChannel(t *testing.T, cfg RunCfg, noise float64) *linkChannel {
	t.Helper()
	lnk := &Link{NodeA: "a0", NodeB: "b0", Noise: noise}
	return createLinkChannel(lnk, &cfg)
}

func TestQuantumPhaseSiftFraction(t *testing.T) {
	cfg := DefaultRunCfg()
	cfg.Name = "sift"
	cfg.QuantumRounds = 100000
	cfg.ProbXBasis = 0.2

	lc := testLinkChannel(t, cfg, 0.0)
	out := lc.quantumPhase()

	// expected survivor fraction is px^2 + (1-px)^2 = 0.68
	frac := float64(out.Sifted) / float64(cfg.QuantumRounds)
	require.InDelta(t, 0.68, frac, 0.02)
}

func TestQuantumPhaseNoiselessLink(t *testing.T) {
	cfg := DefaultRunCfg()
	cfg.Name = "clean"
	cfg.QuantumRounds = 10000

	lc := testLinkChannel(t, cfg, 0.0)
	for round := 0; round < 5; round++ {
		out := lc.quantumPhase()
		require.Positive(t, out.Sifted)
		require.Zero(t, out.Errors)
		require.Zero(t, out.QBER)
	}
}

func TestQuantumPhaseNoisyLink(t *testing.T) {
	cfg := DefaultRunCfg()
	cfg.Name = "noisy"
	cfg.QuantumRounds = 100000
	cfg.ProbXBasis = 0.5

	lc := testLinkChannel(t, cfg, 0.5)
	out := lc.quantumPhase()

	// half of the sifted bits flip, and the disclosed estimate tracks that
	require.InDelta(t, 0.5, float64(out.Errors)/float64(out.Sifted), 0.02)
	require.InDelta(t, 0.5, out.QBER, 0.05)
}

func TestQuantumPhaseReplayable(t *testing.T) {
	cfg := DefaultRunCfg()
	cfg.Name = "replay"
	cfg.QuantumRounds = 50000
	cfg.Seed = 7

	// the same master seed and construction order replays exactly
	rngstream.SetRngStreamMasterSeed(uint64(cfg.Seed))
	first := testLinkChannel(t, cfg, 0.05)
	firstRun := make([]LinkOutcome, 10)
	for round := range firstRun {
		firstRun[round] = first.quantumPhase()
	}

	rngstream.SetRngStreamMasterSeed(uint64(cfg.Seed))
	second := testLinkChannel(t, cfg, 0.05)
	for round := range firstRun {
		require.Equal(t, firstRun[round], second.quantumPhase())
	}

	// a different master seed diverges
	rngstream.SetRngStreamMasterSeed(99)
	other := testLinkChannel(t, cfg, 0.05)
	same := true
	for round := range firstRun {
		if firstRun[round] != other.quantumPhase() {
			same = false
		}
	}
	require.False(t, same)
}

func TestBinomialDraw(t *testing.T) {
	rng := rngstream.New("binomial-test")

	require.Zero(t, binomialDraw(rng, 0, 0.5))
	require.Zero(t, binomialDraw(rng, 100, 0.0))
	require.Equal(t, 100, binomialDraw(rng, 100, 1.0))

	// the exact path stays in bounds
	for trial := 0; trial < 100; trial++ {
		draw := binomialDraw(rng, 1000, 0.3)
		require.GreaterOrEqual(t, draw, 0)
		require.LessOrEqual(t, draw, 1000)
	}

	// the approximate path stays in bounds and near the mean
	n := 1000000
	sum := 0
	for trial := 0; trial < 50; trial++ {
		draw := binomialDraw(rng, n, 0.25)
		require.GreaterOrEqual(t, draw, 0)
		require.LessOrEqual(t, draw, n)
		sum += draw
	}
	mean := float64(sum) / 50.0
	require.InDelta(t, 0.25, mean/float64(n), 0.005)
}
