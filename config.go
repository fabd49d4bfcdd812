package qkdnet

// config.go holds the run configuration struct, its serialization, and its
// validation.  A RunCfg is constructed once per run and never mutated during
// simulation; parameter sweeps build a fresh RunCfg per combination.

import (
	"encoding/json"
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

// node operating modes for relays
const (
	ModeTN  = "TN"
	ModeSTN = "STN"
)

// Disabled marks an optional float/int parameter as unset
const Disabled = -1

// below this many quantum rounds the per-round QBER estimate gets noisy;
// flagged as a warning, not an error
const minQuantumRounds = 10000

// A RunCfg holds every tunable parameter of one simulation run.
// Times are in milliseconds except SimTime, which is in seconds as on
// the command line.
type RunCfg struct {
	// identifier used to name RNG streams and output files
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// relay semantics, ModeTN or ModeSTN
	NodeMode string `json:"nodemode" yaml:"nodemode"`

	// simulated seconds to run, Disabled to turn off
	SimTime float64 `json:"simtime" yaml:"simtime"`

	// per-pair key target, Disabled to turn off
	SimKeys int `json:"simkeys" yaml:"simkeys"`

	// number of quantum-phase rounds N per simulator round
	QuantumRounds int `json:"quantumrounds" yaml:"quantumrounds"`

	// simulator round duration in ms, Disabled to derive from the phases
	RoundTime float64 `json:"roundtime" yaml:"roundtime"`

	// classical phase duration in ms, Disabled to derive from the
	// STN bottleneck equation
	ClassicTime float64 `json:"classictime" yaml:"classictime"`

	// link noise Q, the per-bit flip probability
	LinkNoise float64 `json:"linknoise" yaml:"linknoise"`

	// probability px of choosing the X basis in a quantum round
	ProbXBasis float64 `json:"probxbasis" yaml:"probxbasis"`

	// sifted bits a hop must produce for a round to count
	MinSifted int `json:"minsifted,omitempty" yaml:"minsifted,omitempty"`

	// seed for the RNG master state, also mixed into stream names.
	// Callers set the master seed before constructing the experiment;
	// stream creation order is deterministic, so runs replay exactly.
	Seed int64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// DefaultRunCfg returns the stock configuration, matching the command-line
// defaults of cmd/qkdsim
func DefaultRunCfg() RunCfg {
	return RunCfg{
		Name:          "qkd",
		NodeMode:      ModeTN,
		SimTime:       1e7,
		SimKeys:       Disabled,
		QuantumRounds: 1e7,
		RoundTime:     Disabled,
		ClassicTime:   Disabled,
		LinkNoise:     0.02,
		ProbXBasis:    0.2,
		MinSifted:     1,
		Seed:          1,
	}
}

// WriteToFile stores the RunCfg struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (cfg *RunCfg) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*cfg)
	} else {
		bytes, merr = json.MarshalIndent(*cfg, "", "\t")
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

// ReadRunCfg deserializes a byte slice holding a representation of a RunCfg
// struct.  If the dict argument is empty the bytes are read from the named file.
func ReadRunCfg(filename string, useYAML bool, dict []byte) (*RunCfg, error) {
	var err error

	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := RunCfg{}
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

// TimeEnabled reports whether the run has a simulated-time target
func (cfg *RunCfg) TimeEnabled() bool {
	return cfg.SimTime > Disabled
}

// KeysEnabled reports whether the run has a per-pair key-count target
func (cfg *RunCfg) KeysEnabled() bool {
	return cfg.SimKeys > Disabled
}

// Validate rejects configurations the engine cannot run and returns
// advisory warnings for ones it can run but shouldn't be trusted with.
// A run must not begin when the returned error is non-nil.
func (cfg *RunCfg) Validate() ([]string, error) {
	if cfg.NodeMode != ModeTN && cfg.NodeMode != ModeSTN {
		return nil, fmt.Errorf("node mode %q is not %s or %s", cfg.NodeMode, ModeTN, ModeSTN)
	}
	if !cfg.TimeEnabled() && !cfg.KeysEnabled() {
		return nil, fmt.Errorf("neither simtime nor simkeys is enabled, run would never terminate")
	}
	if cfg.KeysEnabled() && cfg.SimKeys == 0 {
		return nil, fmt.Errorf("simkeys target of 0 is not meaningful")
	}
	if cfg.QuantumRounds < 1 {
		return nil, fmt.Errorf("quantumrounds must be positive, got %d", cfg.QuantumRounds)
	}
	if cfg.LinkNoise < 0.0 || cfg.LinkNoise > 1.0 {
		return nil, fmt.Errorf("linknoise %g outside [0,1]", cfg.LinkNoise)
	}
	if cfg.ProbXBasis <= 0.0 || cfg.ProbXBasis >= 1.0 {
		return nil, fmt.Errorf("probxbasis %g outside (0,1)", cfg.ProbXBasis)
	}
	if cfg.MinSifted < 0 {
		return nil, fmt.Errorf("minsifted must be non-negative, got %d", cfg.MinSifted)
	}

	var warnings []string
	if cfg.QuantumRounds < minQuantumRounds {
		warnings = append(warnings,
			fmt.Sprintf("quantumrounds %d below %d, QBER estimates will be high variance",
				cfg.QuantumRounds, minQuantumRounds))
	}
	return warnings, nil
}

// siftFraction is the expected fraction of quantum rounds surviving sifting,
// px^2 + (1-px)^2
func (cfg *RunCfg) siftFraction() float64 {
	px := cfg.ProbXBasis
	return px*px + (1.0-px)*(1.0-px)
}
