package ethcrypto_test

import (
	"testing"

	"github.com/ethpir/statepir/ethcrypto"
	"github.com/stretchr/testify/require"
)

func TestKeccak256Deterministic(t *testing.T) {
	a := ethcrypto.Keccak256([]byte("address"), []byte("slot"))
	b := ethcrypto.Keccak256([]byte("address"), []byte("slot"))
	require.Equal(t, a, b)
	require.Len(t, a, ethcrypto.HashLength)
}

func TestKeccak256HashIsOverConcatenatedInput(t *testing.T) {
	a := ethcrypto.Keccak256Hash([]byte("ab"))
	b := ethcrypto.Keccak256Hash([]byte("a"), []byte("b"))
	require.Equal(t, a, b, "hashing is over the concatenation, not the slice boundaries")

	c := ethcrypto.Keccak256Hash([]byte("ba"))
	require.NotEqual(t, a, c)
}

func TestNewKeccak256Reset(t *testing.T) {
	h := ethcrypto.NewKeccak256()
	h.Write([]byte("hello"))
	first := h.Sum(nil)
	h.Reset()
	h.Write([]byte("hello"))
	second := h.Sum(nil)
	require.Equal(t, first, second)
}
