// Package delta implements C8: the per-block delta log that lets clients
// (and the server's own hint table) stay current without re-downloading
// the full snapshot on every finalized block.
//
// The range catalog's overlap/union bookkeeping is grounded directly on
// the teacher's range-cache package (the same half-open-interval algebra
// that backs its HTTP byte-range cache), repurposed here from byte ranges
// of a remote file to block ranges of the delta log.
package delta

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/ethpir/statepir/hint"
	"github.com/ethpir/statepir/prf"
)

// Magic identifies one marshaled DeltaFrame.
var Magic = [4]byte{'D', 'L', 'T', '1'}

const frameHeaderSize = 4 + 8 + 4 // magic + block number + entry count
const entryStride = 4 + 32 + 32   // bucket_id + old_value + new_value

// DeltaEntry is one changed index within a finalized block: its prior
// value (so a hint's parity can be XOR-merged without re-reading the
// database) and its new value.
type DeltaEntry struct {
	BucketID uint32
	OldValue [32]byte
	NewValue [32]byte
}

// DeltaFrame is the set of changes a single finalized block produced.
// BucketID is unique within one frame (the spec's coalescing invariant
// applies across frames, within a Range, not within a single frame).
type DeltaFrame struct {
	BlockNumber uint64
	Entries     []DeltaEntry
}

// ErrBadMagic is returned by Unmarshal when the frame's magic doesn't match.
var ErrBadMagic = errors.New("delta: bad magic")

// Marshal encodes a DeltaFrame to its wire form.
func (f DeltaFrame) Marshal() []byte {
	buf := make([]byte, frameHeaderSize+len(f.Entries)*entryStride)
	copy(buf[0:4], Magic[:])
	binary.LittleEndian.PutUint64(buf[4:12], f.BlockNumber)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(f.Entries)))
	off := frameHeaderSize
	for _, e := range f.Entries {
		binary.LittleEndian.PutUint32(buf[off:off+4], e.BucketID)
		copy(buf[off+4:off+36], e.OldValue[:])
		copy(buf[off+36:off+68], e.NewValue[:])
		off += entryStride
	}
	return buf
}

// Unmarshal decodes one DeltaFrame from buf, returning the number of bytes
// consumed.
func Unmarshal(buf []byte) (DeltaFrame, int, error) {
	var f DeltaFrame
	if len(buf) < frameHeaderSize {
		return f, 0, fmt.Errorf("delta: short frame header: %d bytes", len(buf))
	}
	if !bytes.Equal(buf[0:4], Magic[:]) {
		return f, 0, ErrBadMagic
	}
	f.BlockNumber = binary.LittleEndian.Uint64(buf[4:12])
	count := binary.LittleEndian.Uint32(buf[12:16])
	need := frameHeaderSize + int(count)*entryStride
	if len(buf) < need {
		return f, 0, fmt.Errorf("delta: short frame body: have %d bytes, want %d", len(buf), need)
	}
	f.Entries = make([]DeltaEntry, count)
	off := frameHeaderSize
	for i := range f.Entries {
		f.Entries[i].BucketID = binary.LittleEndian.Uint32(buf[off : off+4])
		copy(f.Entries[i].OldValue[:], buf[off+4:off+36])
		copy(f.Entries[i].NewValue[:], buf[off+36:off+68])
		off += entryStride
	}
	return f, need, nil
}

// Coalesce merges a run of frames (oldest first) into at most one net
// DeltaEntry per BucketID — the spec's "at most one net entry per
// bucket_id per range" invariant — keeping the most recent value and the
// highest block number touched.
// Because an entry's OldValue/NewValue diff is what gets XOR-merged into a
// hint's parity, coalescing two entries for the same bucket must keep the
// earliest OldValue and the latest NewValue — the intermediate value
// cancels out of the XOR exactly as if both deltas had been applied in
// sequence.
func Coalesce(frames []DeltaFrame) DeltaFrame {
	latest := make(map[uint32]DeltaEntry)
	var maxBlock uint64
	for _, f := range frames {
		if f.BlockNumber > maxBlock {
			maxBlock = f.BlockNumber
		}
		for _, e := range f.Entries {
			if prev, ok := latest[e.BucketID]; ok {
				e.OldValue = prev.OldValue
			}
			latest[e.BucketID] = e
		}
	}
	out := DeltaFrame{BlockNumber: maxBlock, Entries: make([]DeltaEntry, 0, len(latest))}
	for _, e := range latest {
		out.Entries = append(out.Entries, e)
	}
	sort.Slice(out.Entries, func(i, j int) bool { return out.Entries[i].BucketID < out.Entries[j].BucketID })
	return out
}

// Range is a half-open [BlockStart, BlockEnd) interval of finalized
// blocks, paired with the byte range of /index/deltas that covers it. The
// interval algebra below is the same one range-cache.Range uses for byte
// ranges of a cached remote file; here it describes which contiguous
// stretch of the coalesced delta log a catalog entry stands for.
type Range struct {
	BlockStart, BlockEnd int64
	ByteStart, ByteEnd   int64
}

func (r Range) blocksCovered() int64 { return r.BlockEnd - r.BlockStart }

// contains reports whether r entirely contains r2's block interval.
func (r Range) contains(r2 Range) bool {
	return r.BlockStart <= r2.BlockStart && r.BlockEnd >= r2.BlockEnd
}

// intersects reports whether r and r2's block intervals overlap at all.
func (r Range) intersects(r2 Range) bool {
	return r.BlockStart < r2.BlockEnd && r.BlockEnd > r2.BlockStart
}

// isAdjacent reports whether r and r2's block intervals are immediately
// next to each other, with no gap.
func (r Range) isAdjacent(r2 Range) bool {
	return r.BlockEnd == r2.BlockStart || r2.BlockEnd == r.BlockStart
}

// Catalog is the parsed form of /index/deltas/info: the set of byte ranges
// of the immutable /index/deltas blob, and which block interval each one
// covers.
type Catalog struct {
	Ranges []Range
}

// BuildCatalog walks a /index/deltas blob (a concatenation of Marshal'd
// DeltaFrames, oldest first) and builds the Catalog a client's §4.8.1
// "smallest covering range" lookup searches. snapshotBlock is the block
// number the lane's base snapshot reflects — the local value a client that
// has applied no deltas yet would pass as local.
//
// One Range is emitted per frame boundary, each spanning from that
// boundary's block number to the end of the log: a client resuming from
// any block number a frame boundary introduced finds a Range covering it,
// and SmallestCovering picks the one with the fewest trailing blocks (the
// boundary closest to current), since SmallestCovering only requires a
// Range's interval to cover [local, current), not match it exactly.
func BuildCatalog(buf []byte, snapshotBlock uint64) (Catalog, error) {
	type boundary struct {
		block  int64
		offset int64
	}
	var bounds []boundary
	prevBlock := int64(snapshotBlock)
	offset := int64(0)
	for len(buf) > 0 {
		bounds = append(bounds, boundary{block: prevBlock, offset: offset})
		frame, n, err := Unmarshal(buf)
		if err != nil {
			return Catalog{}, fmt.Errorf("delta: building catalog at byte %d: %w", offset, err)
		}
		prevBlock = int64(frame.BlockNumber)
		offset += int64(n)
		buf = buf[n:]
	}
	if len(bounds) == 0 {
		return Catalog{}, nil
	}

	end := offset
	lastBlock := prevBlock
	catalog := Catalog{Ranges: make([]Range, len(bounds))}
	for i, b := range bounds {
		catalog.Ranges[i] = Range{
			BlockStart: b.block,
			BlockEnd:   lastBlock,
			ByteStart:  b.offset,
			ByteEnd:    end,
		}
	}
	return catalog, nil
}

// ErrDeltaGap is returned when no catalog range covers the requested
// catch-up distance; the caller must fall back to a raw index re-download.
var ErrDeltaGap = errors.New("delta: gap between local and current block, no covering range")

// SmallestCovering returns the smallest Range in the catalog whose block
// interval covers at least [local, current) — the client's "pick the
// smallest range with blocks_covered ≥ (current − local)" rule (§4.8.1).
func (c Catalog) SmallestCovering(local, current uint64) (Range, error) {
	need := int64(current) - int64(local)
	if need <= 0 {
		return Range{}, nil
	}
	best := -1
	for i, r := range c.Ranges {
		if r.BlockStart > int64(local) || r.BlockEnd < int64(current) {
			continue
		}
		if best == -1 || r.blocksCovered() < c.Ranges[best].blocksCovered() {
			best = i
		}
	}
	if best == -1 {
		return Range{}, ErrDeltaGap
	}
	return c.Ranges[best], nil
}

// ApplyToHintTable XOR-merges a delta frame into a hint table's parities:
// for each changed index, every hint whose subset contains that index has
// its parity XOR'd by (old value XOR new value), so the hint stays correct
// for every index it hasn't already been told about. This is an O(M) scan
// per changed index (M = len(table.Hints)); batches of changes amortize
// the per-hint prf.Contains cost across entries sharing the same hint's
// subset only incidentally, so large catch-up frames are cheaper applied
// via a full hint-table rebuild instead (the client's threshold-triggered
// refresh path).
func ApplyToHintTable(table *hint.Table, frame DeltaFrame) error {
	for _, e := range frame.Entries {
		var diff [32]byte
		for i := range diff {
			diff[i] = e.OldValue[i] ^ e.NewValue[i]
		}
		for h := uint32(0); h < uint32(len(table.Hints)); h++ {
			member, err := prf.Contains(table.Seed, h, table.N, table.SubsetSize, uint64(e.BucketID))
			if err != nil {
				return fmt.Errorf("delta: checking hint %d membership for bucket %d: %w", h, e.BucketID, err)
			}
			if !member {
				continue
			}
			for i := range diff {
				table.Hints[h][i] ^= diff[i]
			}
		}
	}
	return nil
}
