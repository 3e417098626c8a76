package hint_test

import (
	"testing"

	"github.com/ethpir/statepir/hint"
	"github.com/stretchr/testify/require"
)

func values(n int) [][hint.ValueSize]byte {
	vs := make([][hint.ValueSize]byte, n)
	for i := range vs {
		vs[i][0] = byte(i)
		vs[i][1] = byte(i >> 8)
	}
	return vs
}

func TestBuildRecoversEveryValue(t *testing.T) {
	const n = 2000
	vs := values(n)
	valueOf := func(i uint64) [hint.ValueSize]byte { return vs[i] }

	table, err := hint.Build(uint64(n), valueOf)
	require.NoError(t, err)
	require.NotEmpty(t, table.Hints)

	for target := uint64(0); target < n; target += 97 {
		h, ok, err := table.HintFor(target)
		require.NoError(t, err)
		require.True(t, ok, "target %d should be covered by some hint", target)

		subset, err := table.Subset(h)
		require.NoError(t, err)

		var recovered [hint.ValueSize]byte
		copy(recovered[:], table.Hints[h][:])
		for _, idx := range subset {
			if idx == target {
				continue
			}
			v := valueOf(idx)
			for i := range recovered {
				recovered[i] ^= v[i]
			}
		}
		require.Equal(t, vs[target], recovered, "target %d", target)
	}
}

func TestTargetSubsetSizeAndHintCountScaleWithN(t *testing.T) {
	require.Equal(t, 0, hint.TargetSubsetSize(0))
	small := hint.TargetSubsetSize(100)
	big := hint.TargetSubsetSize(1_000_000)
	require.Greater(t, big, small)

	require.Greater(t, hint.TargetHintCount(1_000_000), uint32(0))
}

func TestBuildEmptyDatabase(t *testing.T) {
	table, err := hint.Build(0, func(uint64) [hint.ValueSize]byte { return [hint.ValueSize]byte{} })
	require.NoError(t, err)
	require.Empty(t, table.Hints)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	const n = 500
	vs := values(n)
	valueOf := func(i uint64) [hint.ValueSize]byte { return vs[i] }

	table, err := hint.Build(n, valueOf)
	require.NoError(t, err)

	buf := table.Marshal()
	reopened, err := hint.Open(buf)
	require.NoError(t, err)

	require.Equal(t, table.Seed, reopened.Seed)
	require.Equal(t, table.N, reopened.N)
	require.Equal(t, table.SubsetSize, reopened.SubsetSize)
	require.Equal(t, table.Hints, reopened.Hints)
}

func TestOpenRejectsBadMagic(t *testing.T) {
	_, err := hint.Open(make([]byte, 64))
	require.Error(t, err)
}
