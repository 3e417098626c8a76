package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethpir/statepir/config"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

const validYAML = `
lane: mainnet-storage
version: 1
snapshot:
  state: /data/state.bin
  buckets: /data/buckets.idx
  hints: /data/hints.bin
  crs: /data/crs.bin
`

func TestLoadAndValidateYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "mainnet.yaml", validYAML)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "mainnet-storage", cfg.Lane)
	require.NoError(t, cfg.Validate())
	require.NotEmpty(t, cfg.HashOfConfigFile())
}

func TestSnapshotMismatchDetectsEdits(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "mainnet.yaml", validYAML)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	mismatch, err := cfg.SnapshotMismatch()
	require.NoError(t, err)
	require.False(t, mismatch)

	require.NoError(t, os.WriteFile(path, []byte(validYAML+"\n# touched\n"), 0o644))

	mismatch, err = cfg.SnapshotMismatch()
	require.NoError(t, err)
	require.True(t, mismatch)
}

func TestValidateRejectsMissingLane(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "bad.yaml", `
version: 1
snapshot:
  state: /data/state.bin
  hints: /data/hints.bin
`)
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	require.Error(t, cfg.Validate())
}

func TestLoadDirAndUniqueLaneCheck(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", validYAML)
	writeConfig(t, dir, "b.yaml", validYAML)

	cfgs, err := config.LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, cfgs, 2)
	require.Error(t, cfgs.Validate(), "duplicate lane name across files should fail validation")
}
