package bucketindex_test

import (
	"testing"

	"github.com/ethpir/statepir/bucketindex"
	"github.com/ethpir/statepir/indexmeta"
	"github.com/stretchr/testify/require"
)

type rec struct {
	address, slot [1]byte
}

func buildSorted(t *testing.T, n int) []rec {
	t.Helper()
	recs := make([]rec, 0, n)
	for i := 0; i < 4096 && len(recs) < n; i++ {
		recs = append(recs, rec{address: [1]byte{byte(i)}, slot: [1]byte{byte(i >> 8)}})
	}
	for len(recs) < n {
		recs = append(recs, recs[len(recs)%len(recs)])
	}
	// Sort by bucket id so Build's single pass invariant holds.
	bucketOf := func(r rec) uint32 { return bucketindex.BucketID(r.address[:], r.slot[:]) }
	for i := 1; i < len(recs); i++ {
		for j := i; j > 0 && bucketOf(recs[j-1]) > bucketOf(recs[j]); j-- {
			recs[j-1], recs[j] = recs[j], recs[j-1]
		}
	}
	return recs
}

func TestBuildPartitionsAllRecords(t *testing.T) {
	recs := buildSorted(t, 200)
	idx, err := bucketindex.Build(
		uint64(len(recs)),
		func(i uint64) []byte { return recs[i].address[:] },
		func(i uint64) []byte { return recs[i].slot[:] },
		indexmeta.Meta{},
	)
	require.NoError(t, err)

	var total uint32
	for _, b := range idx.Buckets {
		total += b.Count
	}
	require.Equal(t, uint32(len(recs)), total)
}

func TestLookupMatchesBucketID(t *testing.T) {
	recs := buildSorted(t, 64)
	idx, err := bucketindex.Build(
		uint64(len(recs)),
		func(i uint64) []byte { return recs[i].address[:] },
		func(i uint64) []byte { return recs[i].slot[:] },
		indexmeta.Meta{},
	)
	require.NoError(t, err)

	for _, r := range recs {
		b := idx.Lookup(r.address[:], r.slot[:])
		require.Greater(t, b.Count, uint32(0))
	}
}

func TestMarshalOpenRoundTrip(t *testing.T) {
	recs := buildSorted(t, 32)
	var meta indexmeta.Meta
	require.NoError(t, meta.AddString(indexmeta.KeyLane, "mainnet"))

	idx, err := bucketindex.Build(
		uint64(len(recs)),
		func(i uint64) []byte { return recs[i].address[:] },
		func(i uint64) []byte { return recs[i].slot[:] },
		meta,
	)
	require.NoError(t, err)

	buf, err := idx.Marshal()
	require.NoError(t, err)

	got, err := bucketindex.Open(buf)
	require.NoError(t, err)
	require.Equal(t, idx.Buckets, got.Buckets)

	lane, ok := got.Metadata.GetString(indexmeta.KeyLane)
	require.True(t, ok)
	require.Equal(t, "mainnet", lane)
}

func TestOpenRejectsBadMagic(t *testing.T) {
	_, err := bucketindex.Open(make([]byte, 64))
	require.Error(t, err)
}

func TestBucketIDIsStableAndWithinRange(t *testing.T) {
	id := bucketindex.BucketID([]byte{1, 2, 3}, []byte{4, 5, 6})
	require.Less(t, id, uint32(bucketindex.NumBuckets))
	again := bucketindex.BucketID([]byte{1, 2, 3}, []byte{4, 5, 6})
	require.Equal(t, id, again)
}
