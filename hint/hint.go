// Package hint implements C4: the XOR-parity hint table that lets a client
// recover any database index's value from a single server response without
// the server learning which index was requested.
//
// For hint h, AES-128-CTR(seed, nonce=h) (see package prf) selects a subset
// S_h of approximately sqrt(N) distinct record indices; hint[h] is the
// XOR of those indices' values. At query time the client finds a hint whose
// subset contains its target, asks the server to XOR-sweep that subset with
// one index flipped, and recovers the target value by XORing the response
// against its own copy of hint[h].
//
// Build resamples the master seed and doubles the hint count if a coverage
// test shows some index is a member of no hint's subset, using the same
// sealed-set membership structure (package hintset) the teacher's
// bucketteer grounds.
package hint

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ethpir/statepir/hintset"
	"github.com/ethpir/statepir/indexmeta"
	"github.com/ethpir/statepir/prf"
)

// Magic identifies a serialized hint table, the blob a lane's CRS-analogue
// endpoint serves: the client downloads this once, keeps its own copy, and
// never again sends the seed or the parities back to the server.
var Magic = [8]byte{'h', 'i', 'n', 't', 't', 'b', 'l', '1'}

// ValueSize is the width in bytes of one hint parity (matches
// record.StorageRecord.Value).
const ValueSize = 32

// CoverageFactor scales the starting hint count above the bare minimum
// √N. Tuned, not derived: 3x √N hints cover most indices, but for N in the
// hundreds or more a first draw usually leaves a few indices uncovered, and
// Build then retries with a larger hint count.
const CoverageFactor = 3.0

// TargetSubsetSize returns the per-hint subset size for a database of n
// records: ceil(sqrt(n)), the spec's "subset size ≈ √N".
func TargetSubsetSize(n uint64) int {
	if n == 0 {
		return 0
	}
	return int(math.Ceil(math.Sqrt(float64(n))))
}

// TargetHintCount returns the number of hints to build for a database of n
// records, M ≈ N/√N · c = √N · c.
func TargetHintCount(n uint64) uint32 {
	subsetSize := TargetSubsetSize(n)
	if subsetSize == 0 {
		return 0
	}
	return uint32(math.Ceil(float64(subsetSize) * CoverageFactor))
}

// Table is a built hint table: a seed, the subset size every hint was
// drawn with, and the M XOR parities themselves.
type Table struct {
	Seed       prf.Seed
	N          uint64
	SubsetSize int
	Hints      [][ValueSize]byte
}

// maxResamples bounds how many times Build will draw a fresh seed before
// giving up. Since the hint count doubles on every failed attempt, a few
// attempts suffice in practice.
const maxResamples = 8

// Build constructs a hint table over n records, drawing values via valueOf.
// It verifies full coverage (every index in [0, n) is a member of at least
// one hint's subset); if coverage fails it draws a fresh seed and doubles
// the hint count, up to maxResamples attempts in all.
func Build(n uint64, valueOf func(index uint64) [ValueSize]byte) (*Table, error) {
	if n == 0 {
		return &Table{}, nil
	}
	subsetSize := TargetSubsetSize(n)
	m := TargetHintCount(n)

	for attempt := 0; attempt < maxResamples; attempt++ {
		seed, err := randomSeed()
		if err != nil {
			return nil, err
		}
		table, covered, err := buildWithSeed(seed, n, subsetSize, m, valueOf)
		if err != nil {
			return nil, err
		}
		if covered {
			return table, nil
		}
		if attempt < maxResamples-1 {
			m *= 2
		}
	}
	return nil, fmt.Errorf("hint: failed to reach full coverage after %d resamples (n=%d, M=%d)", maxResamples, n, m)
}

func buildWithSeed(seed prf.Seed, n uint64, subsetSize int, m uint32, valueOf func(uint64) [ValueSize]byte) (*Table, bool, error) {
	hints := make([][ValueSize]byte, m)
	builder := hintset.NewBuilder()

	for h := uint32(0); h < m; h++ {
		subset, err := prf.Subset(seed, h, n, subsetSize)
		if err != nil {
			return nil, false, fmt.Errorf("hint: drawing subset for hint %d: %w", h, err)
		}
		var parity [ValueSize]byte
		for _, idx := range subset {
			v := valueOf(idx)
			for i := range parity {
				parity[i] ^= v[i]
			}
			builder.Add(idx)
		}
		hints[h] = parity
	}

	covered, err := checkCoverage(builder, n)
	if err != nil {
		return nil, false, err
	}

	return &Table{Seed: seed, N: n, SubsetSize: subsetSize, Hints: hints}, covered, nil
}

func checkCoverage(builder *hintset.Builder, n uint64) (bool, error) {
	sealed, err := builder.Seal(indexmeta.Meta{})
	if err != nil {
		return false, fmt.Errorf("hint: sealing coverage set: %w", err)
	}
	set, err := hintset.Open(sealed)
	if err != nil {
		return false, fmt.Errorf("hint: reopening coverage set: %w", err)
	}
	for i := uint64(0); i < n; i++ {
		if !set.Has(i) {
			return false, nil
		}
	}
	return true, nil
}

func randomSeed() (prf.Seed, error) {
	var s prf.Seed
	if _, err := rand.Read(s[:]); err != nil {
		return s, fmt.Errorf("hint: drawing random seed: %w", err)
	}
	return s, nil
}

// HintFor finds a hint in the table whose subset contains target, returning
// its index and membership true, or ok=false if none is found (the client's
// cold-query fallback path, spec.md §4.7 step 1).
func (t *Table) HintFor(target uint64) (hintIndex uint32, ok bool, err error) {
	for h := uint32(0); h < uint32(len(t.Hints)); h++ {
		member, err := prf.Contains(t.Seed, h, t.N, t.SubsetSize, target)
		if err != nil {
			return 0, false, err
		}
		if member {
			return h, true, nil
		}
	}
	return 0, false, nil
}

// Subset re-derives the record-index subset for hint h. Both client and
// server call this against the same (Seed, N, SubsetSize) to agree on which
// indices a query touches without exchanging the set itself.
func (t *Table) Subset(h uint32) ([]uint64, error) {
	return prf.Subset(t.Seed, h, t.N, t.SubsetSize)
}

// Marshal serializes the table to its wire/disk form: magic, seed, N,
// subset size, hint count, then the flat parity array. This is the blob a
// lane's CRS-analogue endpoint serves a client on first contact.
func (t *Table) Marshal() []byte {
	buf := make([]byte, 8+len(t.Seed)+8+8+4+len(t.Hints)*ValueSize)
	off := 0
	off += copy(buf[off:], Magic[:])
	off += copy(buf[off:], t.Seed[:])
	binary.LittleEndian.PutUint64(buf[off:], t.N)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(t.SubsetSize))
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(t.Hints)))
	off += 4
	for _, h := range t.Hints {
		off += copy(buf[off:], h[:])
	}
	return buf
}

// Open parses a table from its Marshal form.
func Open(buf []byte) (*Table, error) {
	var seed prf.Seed
	head := 8 + len(seed) + 8 + 8 + 4
	if len(buf) < head {
		return nil, fmt.Errorf("hint: short table: %d bytes", len(buf))
	}
	var magic [8]byte
	copy(magic[:], buf[:8])
	if magic != Magic {
		return nil, fmt.Errorf("hint: bad magic")
	}
	off := 8
	copy(seed[:], buf[off:off+len(seed)])
	off += len(seed)
	n := binary.LittleEndian.Uint64(buf[off:])
	off += 8
	subsetSize := int(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	m := binary.LittleEndian.Uint32(buf[off:])
	off += 4

	want := off + int(m)*ValueSize
	if len(buf) < want {
		return nil, fmt.Errorf("hint: short parity array: have %d bytes, want %d", len(buf)-off, int(m)*ValueSize)
	}
	hints := make([][ValueSize]byte, m)
	for i := range hints {
		copy(hints[i][:], buf[off:off+ValueSize])
		off += ValueSize
	}
	return &Table{Seed: seed, N: n, SubsetSize: subsetSize, Hints: hints}, nil
}
