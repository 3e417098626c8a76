// Package prf implements the deterministic pseudo-random function this
// module uses to select the record subset each hint parities over (C4) and
// to re-derive that same subset on the client at query time (C7). Both
// sides must produce bit-identical output from the same seed, including in
// a WASM build of the client, which rules out anything that isn't a plain
// keyed block cipher run in counter mode — no OS entropy, no goroutines,
// no package-level mutable state.
//
// The construction is modeled on the retrieval pack's AES-CTR-DRBG sketch
// (a keyed AES block cipher advanced over a big-endian counter), stripped
// of everything that sketch needs for a general-purpose secure RNG
// (reseeding, key rotation, entropy pools) and specialized into a seeded,
// repeatable index generator.
package prf

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// SeedSize is the width in bytes of a hint seed (AES-128 key).
const SeedSize = 16

// Seed keys the subset-generation streams. One seed is shared by every
// hint of a table; Subset tells hints apart by using the hint index as the
// CTR nonce.
type Seed [SeedSize]byte

// Stream produces a deterministic byte keystream from a seed and a 16-byte
// nonce (conventionally the hint index, zero-extended). It is the
// counter-mode core shared by Subset and any other caller that needs raw
// PRF output (e.g. correction-vector blinding).
type Stream struct {
	ctr cipher.Stream
}

// NewStream constructs a keystream for the given seed and nonce. The nonce
// doubles as the AES-CTR initial counter value, so distinct nonces under
// the same seed yield independent streams.
func NewStream(seed Seed, nonce [aes.BlockSize]byte) (*Stream, error) {
	block, err := aes.NewCipher(seed[:])
	if err != nil {
		return nil, fmt.Errorf("prf: building AES cipher: %w", err)
	}
	return &Stream{ctr: cipher.NewCTR(block, nonce[:])}, nil
}

// Read fills b with keystream bytes. It never returns an error; the
// signature matches io.Reader for convenience at call sites.
func (s *Stream) Read(b []byte) (int, error) {
	for i := range b {
		b[i] = 0
	}
	s.ctr.XORKeyStream(b, b)
	return len(b), nil
}

// Uint64 draws one uint64 from the stream.
func (s *Stream) Uint64() uint64 {
	var buf [8]byte
	s.Read(buf[:])
	return binary.BigEndian.Uint64(buf[:])
}

// Subset deterministically selects `size` distinct indices in [0, n) from
// the keystream seeded by (seed, hintIndex). It draws 4 bytes (a big-endian
// 32-bit value) at a time, reduces modulo n, and rejects repeats, continuing until `size` distinct
// values have been produced. Because the stream is a deterministic
// function of (seed, hintIndex), the server at build time and the client
// at query time compute the identical set without exchanging it.
//
// size must be <= n; callers are expected to have sized hints against N
// (see hint.TargetSubsetSize), so this is asserted rather than recovered
// from.
func Subset(seed Seed, hintIndex uint32, n uint64, size int) ([]uint64, error) {
	if n == 0 {
		return nil, fmt.Errorf("prf: subset over empty universe")
	}
	if int64(size) > int64(n) {
		return nil, fmt.Errorf("prf: subset size %d exceeds universe %d", size, n)
	}

	var nonce [aes.BlockSize]byte
	binary.BigEndian.PutUint32(nonce[:4], hintIndex)

	stream, err := NewStream(seed, nonce)
	if err != nil {
		return nil, err
	}

	seen := make(map[uint64]struct{}, size)
	out := make([]uint64, 0, size)

	// Bounded by construction: in the worst case (size == n) every draw
	// must eventually land on the one remaining unseen value, and the
	// expected number of draws to exhaust a size-n universe is O(n log n).
	// We cap attempts generously to avoid spinning forever on a
	// degenerate (size == n, tiny n) input under a bad seed; production
	// inputs have n in the hundred-thousands and size ~= sqrt(n).
	maxAttempts := size*64 + 1024
	var draw [4]byte
	for attempts := 0; len(out) < size; attempts++ {
		if attempts >= maxAttempts {
			return nil, fmt.Errorf("prf: failed to draw %d distinct indices from universe %d after %d attempts", size, n, attempts)
		}
		stream.Read(draw[:])
		idx := uint64(binary.BigEndian.Uint32(draw[:])) % n
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	return out, nil
}

// Contains reports whether target is a member of the subset produced by
// Subset(seed, hintIndex, n, size), for a caller that only needs a yes/no
// answer on one target index — this is the client's hint-membership check
// (C7 step 1). It calls Subset, materializing the full subset, and scans
// it for target; the saving versus Subset is only the caller-side scan.
func Contains(seed Seed, hintIndex uint32, n uint64, size int, target uint64) (bool, error) {
	subset, err := Subset(seed, hintIndex, n, size)
	if err != nil {
		return false, err
	}
	for _, idx := range subset {
		if idx == target {
			return true, nil
		}
	}
	return false, nil
}
