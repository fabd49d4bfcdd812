// Package qkdnet simulates quantum key distribution over multi-hop
// networks, comparing trusted-node (TN) and simple-trusted-node (STN)
// relay architectures for end-to-end secure-key rate and reliability.
//
// The engine is round based: each simulator round runs a quantum phase on
// every link of every active user pair's path, attempts relay combination
// under the configured semantics, and advances the simulated clock by one
// round duration.  Topologies, run configurations, and results are
// pointer-free structs serialized to yaml or json; front ends, persistence,
// and sweep orchestration sit outside the engine.
package qkdnet

// qkdnet.go bundles the file-level entry points that assemble a run from
// its serialized inputs

import (
	"errors"
	"path"
)

// useYAMLExt selects the codec from a file name extension
func useYAMLExt(filename string) bool {
	ext := path.Ext(filename)
	return ext == ".yaml" || ext == ".yml"
}

// LoadTopoCfg reads a topology description, selecting yaml or json from
// the file extension
func LoadTopoCfg(topoFile string) (*TopoCfg, error) {
	empty := make([]byte, 0)
	return ReadTopoCfg(topoFile, useYAMLExt(topoFile), empty)
}

// LoadRunCfg reads a run configuration, selecting yaml or json from the
// file extension
func LoadRunCfg(cfgFile string) (*RunCfg, error) {
	empty := make([]byte, 0)
	return ReadRunCfg(cfgFile, useYAMLExt(cfgFile), empty)
}

// LoadExperiment reads a topology and a run configuration from files and
// assembles the Experiment.  The returned warnings are advisory.
func LoadExperiment(topoFile, cfgFile string) (*Experiment, []string, error) {
	tc, err1 := LoadTopoCfg(topoFile)
	cfg, err2 := LoadRunCfg(cfgFile)
	if err := ReportErrs([]error{err1, err2}); err != nil {
		return nil, nil, err
	}

	topo, err := CreateTopology(tc, cfg.LinkNoise)
	if err != nil {
		return nil, nil, err
	}
	return CreateExperiment(*cfg, topo)
}

// ReportErrs joins the non-nil members of errs; nil when all are nil
func ReportErrs(errs []error) error {
	return errors.Join(errs...)
}
