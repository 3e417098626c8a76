// Package hintset implements the sealed, queryable index-set format used by
// the hint table builder (C4) to run its coverage self-test: after
// generating M hints, the build verifies that every database index is a
// member of at least one hint's PRF-selected subset before persisting the
// table, resampling the seed otherwise (spec.md §4.4).
//
// The format and search strategy are adapted directly from the teacher's
// bucketteer package: a 2-byte-prefix-sharded table of sorted, deduplicated
// uint64s, sealed once and queried with Has. bucketteer shards by the first
// two bytes of a 64-byte content signature; since our members are plain
// uint64 database indices with no inherent entropy in their high bits, each
// index is first run through xxHash64 (the same non-cryptographic hash the
// teacher's own compactindexsized uses for bucket assignment) to get a
// well-distributed value to shard and compare on.
package hintset

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/ethpir/statepir/indexmeta"
)

var Magic = [8]byte{'h', 'n', 't', 's', 'e', 't', '0', '1'}

const numPrefixes = 1 << 16

// Hash maps a database index to the 64-bit value this package shards and
// searches on.
func Hash(index uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], index)
	return xxhash.Sum64(b[:])
}

func prefixOf(h uint64) uint16 {
	return uint16(h >> 48)
}

// Builder accumulates indices before sealing them into a queryable Set.
// Not safe for concurrent use.
type Builder struct {
	buckets [numPrefixes][]uint64
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Add records that index is covered by some hint.
func (b *Builder) Add(index uint64) {
	h := Hash(index)
	b.buckets[prefixOf(h)] = append(b.buckets[prefixOf(h)], h)
}

// Seal sorts and deduplicates every shard and serializes the result.
func (b *Builder) Seal(meta indexmeta.Meta) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(Magic[:])

	metaBytes, err := meta.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("hintset: marshaling metadata: %w", err)
	}
	var metaLen [4]byte
	binary.LittleEndian.PutUint32(metaLen[:], uint32(len(metaBytes)))
	buf.Write(metaLen[:])
	buf.Write(metaBytes)

	for prefix := 0; prefix < numPrefixes; prefix++ {
		entries := dedupSorted(b.buckets[prefix])
		var count [4]byte
		binary.LittleEndian.PutUint32(count[:], uint32(len(entries)))
		buf.Write(count[:])
		for _, h := range entries {
			var v [8]byte
			binary.LittleEndian.PutUint64(v[:], h)
			buf.Write(v[:])
		}
	}
	return buf.Bytes(), nil
}

func dedupSorted(in []uint64) []uint64 {
	sorted := append([]uint64(nil), in...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}

// Set is a sealed, read-only view over a Builder's output.
type Set struct {
	Metadata *indexmeta.Meta
	shards   [numPrefixes][]uint64
}

// Open parses a sealed hint-set from a full in-memory buffer.
func Open(buf []byte) (*Set, error) {
	if len(buf) < 8+4 {
		return nil, fmt.Errorf("hintset: short file: %d bytes", len(buf))
	}
	if !bytes.Equal(buf[:8], Magic[:]) {
		return nil, fmt.Errorf("hintset: bad magic")
	}
	metaLen := binary.LittleEndian.Uint32(buf[8:12])
	off := 12 + int(metaLen)
	if off > len(buf) {
		return nil, fmt.Errorf("hintset: metadata length %d overruns file", metaLen)
	}
	meta := new(indexmeta.Meta)
	if err := meta.UnmarshalBinary(buf[12:off]); err != nil {
		return nil, fmt.Errorf("hintset: unmarshaling metadata: %w", err)
	}

	s := &Set{Metadata: meta}
	for prefix := 0; prefix < numPrefixes; prefix++ {
		if off+4 > len(buf) {
			return nil, fmt.Errorf("hintset: truncated shard table at prefix %d", prefix)
		}
		count := binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
		want := off + int(count)*8
		if want > len(buf) {
			return nil, fmt.Errorf("hintset: truncated shard %d", prefix)
		}
		shard := make([]uint64, count)
		for i := range shard {
			o := off + i*8
			shard[i] = binary.LittleEndian.Uint64(buf[o : o+8])
		}
		s.shards[prefix] = shard
		off = want
	}
	return s, nil
}

// Has reports whether index was recorded as covered.
func (s *Set) Has(index uint64) bool {
	h := Hash(index)
	shard := s.shards[prefixOf(h)]
	i := sort.Search(len(shard), func(i int) bool { return shard[i] >= h })
	return i < len(shard) && shard[i] == h
}
