package server_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethpir/statepir/config"
	"github.com/ethpir/statepir/hint"
	"github.com/ethpir/statepir/indexmeta"
	"github.com/ethpir/statepir/record"
	"github.com/ethpir/statepir/server"
	"github.com/ethpir/statepir/stemindex"
	"github.com/ethpir/statepir/uri"
	"github.com/stretchr/testify/require"
)

// writeLaneFixture builds a small, fully valid on-disk lane (state.bin,
// stem index, hint table) and returns a config.Config pointing at it.
func writeLaneFixture(t *testing.T, name string, n int) *config.Config {
	t.Helper()
	dir := t.TempDir()

	hdr := record.NewHeader(uint64(n), 777, 1, [32]byte{9})
	buf := hdr.Marshal()
	values := make([][hint.ValueSize]byte, n)
	for i := 0; i < n; i++ {
		var rec record.StorageRecord
		rec.Address[0] = byte(i)
		rec.Slot[0] = byte(i >> 8)
		rec.Value[0] = byte(i)
		rec.Value[1] = byte(i >> 8)
		values[i] = rec.Value
		buf = append(buf, rec.Marshal()...)
	}
	statePath := filepath.Join(dir, "state.bin")
	require.NoError(t, os.WriteFile(statePath, buf, 0o644))

	entries := make([]stemindex.Entry, 0, n)
	for i := 0; i < n; i++ {
		var e stemindex.Entry
		e.Stem[0] = byte(i)
		e.Start = uint32(i)
		e.Count = 1
		entries = append(entries, e)
	}
	stemIdx, err := stemindex.Build(entries, indexmeta.Meta{})
	require.NoError(t, err)
	stemBuf, err := stemIdx.Marshal()
	require.NoError(t, err)
	stemsPath := filepath.Join(dir, "stems.bin")
	require.NoError(t, os.WriteFile(stemsPath, stemBuf, 0o644))

	table, err := hint.Build(uint64(n), func(i uint64) [hint.ValueSize]byte { return values[i] })
	require.NoError(t, err)
	hintsPath := filepath.Join(dir, "hints.bin")
	require.NoError(t, os.WriteFile(hintsPath, table.Marshal(), 0o644))

	version := uint64(config.Version)
	bucketed := false
	return &config.Config{
		Lane:    name,
		Version: &version,
		Snapshot: config.Snapshot{
			State: uri.New(statePath),
			Stems: uri.New(stemsPath),
			Hints: uri.New(hintsPath),
		},
		Bucketed: &bucketed,
	}
}

func TestOpenLaneAndMultiLaneRegistry(t *testing.T) {
	cfg := writeLaneFixture(t, "test-lane", 20)

	l, err := server.OpenLane(context.Background(), cfg)
	require.NoError(t, err)
	defer l.Close()

	require.Equal(t, "test-lane", l.Name())
	require.EqualValues(t, 20, l.Count())
	require.EqualValues(t, 777, l.BlockNumber())
	require.NotNil(t, l.Stems())
	require.Nil(t, l.Buckets())

	multi := server.NewMultiLane()
	require.NoError(t, multi.Add(l))
	require.True(t, multi.Has("test-lane"))

	got, err := multi.Get("test-lane")
	require.NoError(t, err)
	require.Same(t, l, got)

	_, err = multi.Get("missing")
	require.Error(t, err)
	var laneErr *server.LaneUnknown
	require.ErrorAs(t, err, &laneErr)

	require.Equal(t, []string{"test-lane"}, multi.Names())
	require.NoError(t, multi.Close())
}

func TestMultiLaneRejectsDuplicateAdd(t *testing.T) {
	cfg := writeLaneFixture(t, "dup-lane", 4)
	l1, err := server.OpenLane(context.Background(), cfg)
	require.NoError(t, err)
	defer l1.Close()

	l2, err := server.OpenLane(context.Background(), cfg)
	require.NoError(t, err)
	defer l2.Close()

	multi := server.NewMultiLane()
	require.NoError(t, multi.Add(l1))
	require.Error(t, multi.Add(l2))

	require.NoError(t, multi.ReplaceOrAdd(l2))
	got, err := multi.Get("dup-lane")
	require.NoError(t, err)
	require.Same(t, l2, got)
}
