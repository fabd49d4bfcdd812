package qkdnet

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadExperiment(t *testing.T) {
	dir := t.TempDir()
	topoFile := filepath.Join(dir, "topo.yaml")
	cfgFile := filepath.Join(dir, "run.yaml")

	require.NoError(t, DumbbellTopoCfg(2).WriteToFile(topoFile))

	cfg := DefaultRunCfg()
	cfg.Name = "from-files"
	cfg.SimTime = Disabled
	cfg.SimKeys = 1
	require.NoError(t, cfg.WriteToFile(cfgFile))

	ex, warnings, err := LoadExperiment(topoFile, cfgFile)
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, "from-files", ex.Cfg.Name)
	require.Len(t, ex.Topo.Pairs, 2)

	res := ex.Run()
	require.Equal(t, 2, res.FinishedKeys)
}

func TestLoadExperimentMissingFiles(t *testing.T) {
	dir := t.TempDir()
	_, _, err := LoadExperiment(
		filepath.Join(dir, "absent-topo.yaml"),
		filepath.Join(dir, "absent-run.yaml"))
	require.Error(t, err)
}

func TestRunCfgFileRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultRunCfg()
	cfg.Name = "roundtrip"
	cfg.NodeMode = ModeSTN
	cfg.Seed = 17

	for _, fname := range []string{"run.yaml", "run.json"} {
		full := filepath.Join(dir, fname)
		require.NoError(t, cfg.WriteToFile(full))

		read, err := LoadRunCfg(full)
		require.NoError(t, err)
		require.Equal(t, cfg, *read)
	}
}
