package hintset_test

import (
	"testing"

	"github.com/ethpir/statepir/hintset"
	"github.com/ethpir/statepir/indexmeta"
	"github.com/stretchr/testify/require"
)

func TestBuilderSealOpenRoundTrip(t *testing.T) {
	b := hintset.NewBuilder()
	covered := []uint64{0, 1, 2, 100, 100_000, 7}
	for _, idx := range covered {
		b.Add(idx)
	}
	// Adding a duplicate should not break Has.
	b.Add(100)

	var meta indexmeta.Meta
	require.NoError(t, meta.AddString(indexmeta.KeyKind, "coverage"))

	sealed, err := b.Seal(meta)
	require.NoError(t, err)

	set, err := hintset.Open(sealed)
	require.NoError(t, err)

	for _, idx := range covered {
		require.True(t, set.Has(idx), "index %d should be covered", idx)
	}
	require.False(t, set.Has(999_999))

	kind, ok := set.Metadata.GetString(indexmeta.KeyKind)
	require.True(t, ok)
	require.Equal(t, "coverage", kind)
}

func TestEmptySetHasNothing(t *testing.T) {
	b := hintset.NewBuilder()
	sealed, err := b.Seal(indexmeta.Meta{})
	require.NoError(t, err)

	set, err := hintset.Open(sealed)
	require.NoError(t, err)
	require.False(t, set.Has(0))
}

func TestOpenRejectsBadMagic(t *testing.T) {
	_, err := hintset.Open(make([]byte, 32))
	require.Error(t, err)
}
