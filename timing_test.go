package qkdnet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveTimingDefaults(t *testing.T) {
	cfg := DefaultRunCfg()
	tm := DeriveTiming(&cfg, 1)

	// 10^7 qubits at 10^6 usable qubits per second
	require.InDelta(t, 1e4, tm.QuantumTime, 1e-9)

	// one pair reconciles in exactly one quantum phase
	require.InDelta(t, tm.QuantumTime, tm.IdealClassicTime, 1e-9)
	require.Equal(t, 1.0, tm.STNEfficiency)
	require.InDelta(t, tm.QuantumTime, tm.RoundTime, 1e-9)
}

func TestDeriveTimingMultiPair(t *testing.T) {
	cfg := DefaultRunCfg()
	tm := DeriveTiming(&cfg, 4)

	// a bottleneck relay serving 4 pairs fits 3 extra reconciliations
	require.InDelta(t, 3.0*tm.QuantumTime, tm.IdealClassicTime, 1e-6)
	require.Equal(t, 1.0, tm.STNEfficiency)

	// the derived round covers the longer phase
	require.InDelta(t, tm.ClassicTime, tm.RoundTime, 1e-9)
}

func TestDeriveTimingClassicOverride(t *testing.T) {
	cfg := DefaultRunCfg()
	cfg.ClassicTime = 5000.0

	tm := DeriveTiming(&cfg, 4)
	require.Equal(t, 5000.0, tm.ClassicTime)

	// an undersized classical phase discounts STN throughput
	require.InDelta(t, 5000.0/tm.IdealClassicTime, tm.STNEfficiency, 1e-9)
	require.Less(t, tm.STNEfficiency, 1.0)
}

func TestRoundTimeFloor(t *testing.T) {
	cfg := DefaultRunCfg()

	// a configured round shorter than the quantum phase is stretched
	cfg.RoundTime = 1.0
	tm := DeriveTiming(&cfg, 1)
	require.InDelta(t, tm.QuantumTime, tm.RoundTime, 1e-9)

	// a longer configured round is honored
	cfg.RoundTime = 2.0 * tm.QuantumTime
	tm = DeriveTiming(&cfg, 1)
	require.InDelta(t, 2.0*tm.QuantumTime, tm.RoundTime, 1e-9)
}
