// Package bucketindex implements C2: the fixed 2^18-way bucket partition
// over state.bin's sorted record array. A client hashes (address, slot) to
// an 18-bit bucket id and looks up a (start, count) range in this index to
// learn which database indices to PIR-query.
//
// The on-disk shape is modeled directly on the teacher's
// compactindexsized.Header / BucketHeader: an 8-byte magic, a length-
// prefixed metadata tail (indexmeta.Meta) carrying kind/lane/snapshot
// identity, and a flat table of fixed-width bucket descriptors that can be
// read with a single seek + read, with no further hashing or search
// required once the bucket id is known.
package bucketindex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ethpir/statepir/ethcrypto"
	"github.com/ethpir/statepir/indexmeta"
)

// NumBuckets is the fixed bucket count, 2^18, per the spec's bucket_id
// derivation (first 18 bits of keccak256(address || slot)).
const NumBuckets = 1 << 18

// Magic identifies a bucket index file.
var Magic = [8]byte{'b', 'k', 't', 'i', 'd', 'x', '0', '1'}

const descriptorSize = 8 // start uint32 + count uint32

// BucketID hashes (address, slot) down to its 18-bit bucket, taking the
// top 18 bits of keccak256(address || slot). This is the spec's canonical
// bucket assignment; unlike the teacher's compactindexsized, it is pinned
// to keccak256, not xxHash, since the bucket id here is a cryptographic
// commitment the client and server must agree on without negotiation.
func BucketID(address, slot []byte) uint32 {
	h := ethcrypto.Keccak256(address, slot)
	// First 18 bits, big-endian: top three bytes, shifted down to 18 bits.
	v := uint32(h[0])<<16 | uint32(h[1])<<8 | uint32(h[2])
	return v >> (24 - 18)
}

// Bucket describes one bucket's contiguous record range: [Start, Start+Count).
type Bucket struct {
	Start uint32
	Count uint32
}

// Index is a fully-loaded bucket index (2^18 descriptors, a few MiB — small
// enough to keep resident rather than mmap'd and randomly accessed one
// descriptor at a time).
type Index struct {
	Metadata *indexmeta.Meta
	Buckets  [NumBuckets]Bucket
}

// Build constructs a bucket index from a record stream that is already
// sorted by keccak256(address||slot) (the caller, typically the offline
// build pipeline, is responsible for that invariant; see record.VerifyOrder).
// addressOf and slotOf extract the address and slot of record index i; n is
// the total record count.
func Build(n uint64, addressOf, slotOf func(i uint64) []byte, meta indexmeta.Meta) (*Index, error) {
	idx := &Index{Metadata: &meta}

	var i uint64
	for b := uint32(0); b < NumBuckets; b++ {
		start := i
		for i < n && BucketID(addressOf(i), slotOf(i)) == b {
			i++
		}
		idx.Buckets[b] = Bucket{Start: uint32(start), Count: uint32(i - start)}
	}
	if i != n {
		return nil, fmt.Errorf("bucketindex: records not fully partitioned: consumed %d of %d (records not sorted by bucket id?)", i, n)
	}
	return idx, nil
}

// Lookup returns the bucket descriptor for (address, slot).
func (idx *Index) Lookup(address, slot []byte) Bucket {
	return idx.Buckets[BucketID(address, slot)]
}

// Marshal serializes the index to its on-disk form: magic, metadata tail
// length-prefixed, then the flat 2^18-entry descriptor table.
func (idx *Index) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(Magic[:])

	meta := idx.Metadata
	if meta == nil {
		meta = new(indexmeta.Meta)
	}
	metaBytes, err := meta.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("bucketindex: marshaling metadata: %w", err)
	}
	var metaLen [4]byte
	binary.LittleEndian.PutUint32(metaLen[:], uint32(len(metaBytes)))
	buf.Write(metaLen[:])
	buf.Write(metaBytes)

	descriptors := make([]byte, NumBuckets*descriptorSize)
	for b, bucket := range idx.Buckets {
		off := b * descriptorSize
		binary.LittleEndian.PutUint32(descriptors[off:off+4], bucket.Start)
		binary.LittleEndian.PutUint32(descriptors[off+4:off+8], bucket.Count)
	}
	buf.Write(descriptors)
	return buf.Bytes(), nil
}

// Open parses a bucket index from a full in-memory buffer. Bucket indices
// are small enough (a few MiB) to always be loaded whole rather than
// accessed through an io.ReaderAt one descriptor at a time.
func Open(buf []byte) (*Index, error) {
	if len(buf) < 8+4 {
		return nil, fmt.Errorf("bucketindex: short file: %d bytes", len(buf))
	}
	if !bytes.Equal(buf[:8], Magic[:]) {
		return nil, fmt.Errorf("bucketindex: bad magic")
	}
	metaLen := binary.LittleEndian.Uint32(buf[8:12])
	off := 12 + int(metaLen)
	if off > len(buf) {
		return nil, fmt.Errorf("bucketindex: metadata length %d overruns file", metaLen)
	}
	meta := new(indexmeta.Meta)
	if err := meta.UnmarshalBinary(buf[12:off]); err != nil {
		return nil, fmt.Errorf("bucketindex: unmarshaling metadata: %w", err)
	}

	want := off + NumBuckets*descriptorSize
	if len(buf) < want {
		return nil, fmt.Errorf("bucketindex: short descriptor table: have %d bytes, want %d", len(buf)-off, NumBuckets*descriptorSize)
	}

	idx := &Index{Metadata: meta}
	for b := 0; b < NumBuckets; b++ {
		o := off + b*descriptorSize
		idx.Buckets[b] = Bucket{
			Start: binary.LittleEndian.Uint32(buf[o : o+4]),
			Count: binary.LittleEndian.Uint32(buf[o+4 : o+8]),
		}
	}
	return idx, nil
}

// WriteTo streams Marshal's output to w, satisfying io.WriterTo for callers
// writing directly to a file during build.
func (idx *Index) WriteTo(w io.Writer) (int64, error) {
	buf, err := idx.Marshal()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(buf)
	return int64(n), err
}
