package stemindex_test

import (
	"testing"

	"github.com/ethpir/statepir/indexmeta"
	"github.com/ethpir/statepir/stemindex"
	"github.com/stretchr/testify/require"
)

func TestKeccak256StemHasherDeterministic(t *testing.T) {
	var hasher stemindex.Keccak256StemHasher
	addr := []byte{1, 2, 3, 4}
	var slot [32]byte
	slot[0] = 0xAB

	s1, sub1 := stemindex.Split(hasher, addr, slot)
	s2, sub2 := stemindex.Split(hasher, addr, slot)
	require.Equal(t, s1, s2)
	require.Equal(t, sub1, sub2)
	require.Equal(t, byte(0), sub1)
}

func TestSplitSubindexIsLastSlotByte(t *testing.T) {
	var hasher stemindex.Keccak256StemHasher
	var slot [32]byte
	slot[31] = 0x42
	_, sub := stemindex.Split(hasher, []byte{9}, slot)
	require.Equal(t, byte(0x42), sub)
}

func stemOf(b byte) stemindex.Stem {
	var s stemindex.Stem
	s[0] = b
	return s
}

func TestBuildRejectsDuplicateStems(t *testing.T) {
	entries := []stemindex.Entry{
		{Stem: stemOf(1), Start: 0, Count: 3},
		{Stem: stemOf(1), Start: 3, Count: 1},
	}
	_, err := stemindex.Build(entries, indexmeta.Meta{})
	require.Error(t, err)
}

func TestLookupAllEntries(t *testing.T) {
	entries := make([]stemindex.Entry, 0, 50)
	var start uint32
	for i := 0; i < 50; i++ {
		entries = append(entries, stemindex.Entry{Stem: stemOf(byte(i)), Start: start, Count: 4})
		start += 4
	}
	idx, err := stemindex.Build(entries, indexmeta.Meta{})
	require.NoError(t, err)

	for i, e := range entries {
		got, err := idx.Lookup(e.Stem, 2)
		require.NoError(t, err, "entry %d", i)
		require.Equal(t, e.Start+2, got)
	}
}

func TestLookupRejectsSubindexOutOfRange(t *testing.T) {
	entries := []stemindex.Entry{{Stem: stemOf(1), Start: 0, Count: 2}}
	idx, err := stemindex.Build(entries, indexmeta.Meta{})
	require.NoError(t, err)

	_, err = idx.Lookup(stemOf(1), 2)
	require.Error(t, err)
}

func TestLookupMissingStem(t *testing.T) {
	entries := []stemindex.Entry{{Stem: stemOf(1), Start: 0, Count: 1}}
	idx, err := stemindex.Build(entries, indexmeta.Meta{})
	require.NoError(t, err)

	_, err = idx.Lookup(stemOf(99), 0)
	require.ErrorIs(t, err, stemindex.ErrNotFound)
}

func TestMarshalOpenRoundTrip(t *testing.T) {
	entries := []stemindex.Entry{
		{Stem: stemOf(1), Start: 0, Count: 2},
		{Stem: stemOf(5), Start: 2, Count: 1},
		{Stem: stemOf(9), Start: 3, Count: 10},
	}
	var meta indexmeta.Meta
	require.NoError(t, meta.AddString(indexmeta.KeyKind, "stem"))

	idx, err := stemindex.Build(entries, meta)
	require.NoError(t, err)

	buf, err := idx.Marshal()
	require.NoError(t, err)

	got, err := stemindex.Open(buf)
	require.NoError(t, err)

	for _, e := range entries {
		v, err := got.Lookup(e.Stem, 0)
		require.NoError(t, err)
		require.Equal(t, e.Start, v)
	}
	kind, ok := got.Metadata.GetString(indexmeta.KeyKind)
	require.True(t, ok)
	require.Equal(t, "stem", kind)
}
