package delta_test

import (
	"testing"

	"github.com/ethpir/statepir/delta"
	"github.com/ethpir/statepir/hint"
	"github.com/stretchr/testify/require"
)

func TestFrameMarshalUnmarshalRoundTrip(t *testing.T) {
	f := delta.DeltaFrame{
		BlockNumber: 42,
		Entries: []delta.DeltaEntry{
			{BucketID: 1, OldValue: [32]byte{0}, NewValue: [32]byte{1}},
			{BucketID: 99, OldValue: [32]byte{8}, NewValue: [32]byte{9, 9}},
		},
	}
	buf := f.Marshal()

	got, n, err := delta.Unmarshal(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, f, got)
}

func TestUnmarshalRejectsBadMagic(t *testing.T) {
	_, _, err := delta.Unmarshal(make([]byte, 16))
	require.ErrorIs(t, err, delta.ErrBadMagic)
}

func TestCoalesceKeepsEarliestOldAndLatestNewPerBucket(t *testing.T) {
	frames := []delta.DeltaFrame{
		{BlockNumber: 1, Entries: []delta.DeltaEntry{{BucketID: 5, OldValue: [32]byte{0}, NewValue: [32]byte{1}}}},
		{BlockNumber: 2, Entries: []delta.DeltaEntry{
			{BucketID: 5, OldValue: [32]byte{1}, NewValue: [32]byte{2}},
			{BucketID: 6, OldValue: [32]byte{0}, NewValue: [32]byte{6}},
		}},
	}
	out := delta.Coalesce(frames)
	require.EqualValues(t, 2, out.BlockNumber)
	require.Len(t, out.Entries, 2)

	byBucket := make(map[uint32]delta.DeltaEntry)
	for _, e := range out.Entries {
		byBucket[e.BucketID] = e
	}
	require.Equal(t, [32]byte{0}, byBucket[5].OldValue)
	require.Equal(t, [32]byte{2}, byBucket[5].NewValue)
	require.Equal(t, [32]byte{6}, byBucket[6].NewValue)
}

func TestCatalogSmallestCovering(t *testing.T) {
	cat := delta.Catalog{Ranges: []delta.Range{
		{BlockStart: 0, BlockEnd: 1000, ByteStart: 0, ByteEnd: 100},
		{BlockStart: 900, BlockEnd: 1000, ByteStart: 100, ByteEnd: 110},
	}}
	r, err := cat.SmallestCovering(950, 990)
	require.NoError(t, err)
	require.Equal(t, int64(900), r.BlockStart)
}

func TestCatalogReportsGap(t *testing.T) {
	cat := delta.Catalog{Ranges: []delta.Range{
		{BlockStart: 0, BlockEnd: 100, ByteStart: 0, ByteEnd: 10},
	}}
	_, err := cat.SmallestCovering(50, 500)
	require.ErrorIs(t, err, delta.ErrDeltaGap)
}

func TestApplyToHintTableKeepsParityConsistent(t *testing.T) {
	const n = 64
	values := make([][32]byte, n)
	for i := range values {
		values[i][0] = byte(i)
	}
	valueOf := func(i uint64) [32]byte { return values[i] }

	table, err := hint.Build(n, valueOf)
	require.NoError(t, err)

	h, ok, err := table.HintFor(10)
	require.NoError(t, err)
	require.True(t, ok)
	var before [32]byte
	copy(before[:], table.Hints[h][:])

	oldVal := values[10]
	newVal := [32]byte{1, 2, 3}
	frame := delta.DeltaFrame{
		BlockNumber: 1,
		Entries:     []delta.DeltaEntry{{BucketID: 10, OldValue: oldVal, NewValue: newVal}},
	}

	require.NoError(t, delta.ApplyToHintTable(table, frame))

	var diff [32]byte
	for i := range diff {
		diff[i] = oldVal[i] ^ newVal[i]
	}
	var want [32]byte
	for i := range want {
		want[i] = before[i] ^ diff[i]
	}
	require.Equal(t, want, table.Hints[h])
}
