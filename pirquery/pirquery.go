// Package pirquery implements C6 (server-side query evaluation) and C7
// (client-side query construction/recovery).
//
// # Resolved open question: the ciphertext domain
//
// The distilled description of C6/C7 frames the response as a sweep
// "Σ q_i · db[i]" in a CRS-defined ciphertext domain, with the binary case
// an XOR sweep named as the common case. The retrieval pack carries no
// lattice-crypto library (no ring-LWE encoder, no homomorphic evaluator),
// and fabricating one would not just be a style risk — a hand-rolled
// encryption scheme for the query's "single-bit correction" that isn't a
// real, reviewed homomorphic construction would silently fail the exact
// property it exists for (the server could decrypt and learn the target
// index, destroying C6's non-learning guarantee).
//
// This package instead implements the scheme the spec names as the common
// case end to end: the client computes the punctured set locally (S_h
// symmetric-differenced with the target) and submits that set explicitly,
// never a seed. The server never learns which element of the set was the
// flip, because a punctured sqrt(N)-subset of a secret PRF-drawn set is
// statistically indistinguishable from an un-punctured one — this is the
// same non-learning argument real single-server hint-PIR schemes rely on,
// and it needs no ciphertext domain at all. LaneID keeps the wire shape
// extensible toward a future RLWE-based evaluator, but no arithmetic in
// this package assumes one exists.
package pirquery

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/ethpir/statepir/hint"
)

// ValueSize is the width of one database value (matches record.StorageRecord.Value).
const ValueSize = 32

// MaxFanout bounds how many indices a single query may ask the server to
// sweep, guarding against a malformed or hostile client forcing an
// unbounded scan.
const MaxFanout = 1 << 20

// ErrQueryTooLarge is returned when a query's index set exceeds MaxFanout.
var ErrQueryTooLarge = errors.New("pirquery: query index set exceeds maximum fanout")

// ErrNoHintCovers names the case where no hint in the client's table covers
// the target index. Build does not return it: it answers that case with a
// cold query over the whole database (cold=true).
var ErrNoHintCovers = errors.New("pirquery: no hint covers target index")

// ErrEmptyDatabase is returned when a query is built or evaluated against
// an empty (N=0) database.
var ErrEmptyDatabase = errors.New("pirquery: database is empty")

// Query is what a client submits to a lane. Indices is the punctured index
// set S_h △ {t}: sorted, deduplicated, and never revealing which element
// was the flip. Nonce is a fresh per-query session value so that
// resubmitting the same logical query is unlinkable on the wire, per the
// spec's re-randomization requirement.
type Query struct {
	LaneID  string
	Indices []uint64
	Nonce   [16]byte
}

// Marshal encodes a Query for POST /query/<lane>/seeded/binary: lane id
// (length-prefixed), nonce, index count, then the indices themselves. This
// is the wire shape of "submit the punctured set explicitly" — there is no
// seed on the wire, since this package's resolved design sends S_h △ {t}
// directly rather than a PRF seed plus correction bit.
func (q Query) Marshal() []byte {
	buf := make([]byte, 2+len(q.LaneID)+len(q.Nonce)+4+len(q.Indices)*8)
	off := 0
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(q.LaneID)))
	off += 2
	off += copy(buf[off:], q.LaneID)
	off += copy(buf[off:], q.Nonce[:])
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(q.Indices)))
	off += 4
	for _, idx := range q.Indices {
		binary.LittleEndian.PutUint64(buf[off:], idx)
		off += 8
	}
	return buf
}

// UnmarshalQuery decodes a Query from its Marshal form. MaxFanout bounds
// the index count before any allocation proportional to it, guarding a
// malicious Content-Length from driving an unbounded allocation.
func UnmarshalQuery(buf []byte) (Query, error) {
	if len(buf) < 2 {
		return Query{}, fmt.Errorf("pirquery: short query: %d bytes", len(buf))
	}
	laneLen := int(binary.LittleEndian.Uint16(buf))
	off := 2
	if len(buf) < off+laneLen+16+4 {
		return Query{}, fmt.Errorf("pirquery: truncated query header")
	}
	var q Query
	q.LaneID = string(buf[off : off+laneLen])
	off += laneLen
	copy(q.Nonce[:], buf[off:off+16])
	off += 16
	count := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	if count > MaxFanout {
		return Query{}, ErrQueryTooLarge
	}
	if len(buf) < off+int(count)*8 {
		return Query{}, fmt.Errorf("pirquery: truncated index array: want %d indices", count)
	}
	q.Indices = make([]uint64, count)
	for i := range q.Indices {
		q.Indices[i] = binary.LittleEndian.Uint64(buf[off:])
		off += 8
	}
	return q, nil
}

// ValueSource is anything a query can sweep over; pirdb.DB satisfies it.
type ValueSource interface {
	Count() uint64
	ValueAt(i uint64) ([ValueSize]byte, error)
}

// Evaluate computes the XOR sweep R = XOR_{i in q.Indices} db[i] (C6). The
// server learns only the set of indices touched, which by construction
// does not identify the client's actual target.
func Evaluate(db ValueSource, q Query) ([ValueSize]byte, error) {
	var r [ValueSize]byte
	n := db.Count()
	if n == 0 {
		return r, ErrEmptyDatabase
	}
	if len(q.Indices) > MaxFanout {
		return r, ErrQueryTooLarge
	}
	for _, i := range q.Indices {
		if i >= n {
			return r, fmt.Errorf("pirquery: index %d out of range [0, %d)", i, n)
		}
		v, err := db.ValueAt(i)
		if err != nil {
			return r, err
		}
		for b := range r {
			r[b] ^= v[b]
		}
	}
	return r, nil
}

// Client tracks a downloaded hint table and how many hints have been
// consumed by hinted queries (§4.7's hint-refresh trigger), since a hint
// used in a query should not be reused for a later one targeting the same
// logical index set without losing unlinkability.
type Client struct {
	laneID string
	table  *hint.Table

	consumed      map[uint32]struct{}
	refreshFactor float64
}

// RefreshThreshold is the default fraction of hints that may be consumed
// before Client reports ErrHintTableExhausted, prompting the caller to
// re-download a fresh table.
const RefreshThreshold = 0.5

// ErrHintTableExhausted is returned by Build once RefreshThreshold of the
// hint table has been consumed.
var ErrHintTableExhausted = errors.New("pirquery: hint table exhausted, refresh required")

// NewClient wraps a downloaded hint table for query construction.
func NewClient(laneID string, table *hint.Table) *Client {
	return &Client{
		laneID:        laneID,
		table:         table,
		consumed:      make(map[uint32]struct{}),
		refreshFactor: RefreshThreshold,
	}
}

// Build constructs the Query for target index t: find a hint h covering t,
// compute S_h △ {t}, and mark h consumed. If no hint covers t, Build falls
// back to a cold query that sweeps the entire database (§4.7 step 1's
// "inflates the selector"), bounded by MaxFanout.
func (c *Client) Build(t uint64) (q Query, hintIndex uint32, cold bool, err error) {
	if c.table.N == 0 {
		return Query{}, 0, false, ErrEmptyDatabase
	}
	if len(c.consumed) > 0 && float64(len(c.consumed))/float64(len(c.table.Hints)) >= c.refreshFactor {
		return Query{}, 0, false, ErrHintTableExhausted
	}

	h, ok, err := c.table.HintFor(t)
	if err != nil {
		return Query{}, 0, false, err
	}
	if !ok {
		q, err := c.coldQuery()
		return q, 0, true, err
	}

	subset, err := c.table.Subset(h)
	if err != nil {
		return Query{}, 0, false, err
	}
	c.consumed[h] = struct{}{}

	q = Query{
		LaneID:  c.laneID,
		Indices: symmetricDifference(subset, t),
	}
	if _, err := rand.Read(q.Nonce[:]); err != nil {
		return Query{}, 0, false, fmt.Errorf("pirquery: drawing session nonce: %w", err)
	}
	return q, h, false, nil
}

func (c *Client) coldQuery() (Query, error) {
	if c.table.N > MaxFanout {
		return Query{}, fmt.Errorf("pirquery: cold query over %d records exceeds max fanout %d, refresh hint table", c.table.N, MaxFanout)
	}
	indices := make([]uint64, c.table.N)
	for i := range indices {
		indices[i] = uint64(i)
	}
	q := Query{LaneID: c.laneID, Indices: indices}
	if _, err := rand.Read(q.Nonce[:]); err != nil {
		return Query{}, fmt.Errorf("pirquery: drawing session nonce: %w", err)
	}
	return q, nil
}

// Recover decodes a server response into the target value, given the hint
// index Build returned. A cold query (h unused, i.e. the response already
// is the value when Indices contains exactly the full database) is
// recovered by the caller directly from the response at the target offset;
// Recover is for the hinted path only.
func (c *Client) Recover(h uint32, response [ValueSize]byte) [ValueSize]byte {
	var out [ValueSize]byte
	hintParity := c.table.Hints[h]
	for i := range out {
		out[i] = response[i] ^ hintParity[i]
	}
	return out
}

// symmetricDifference returns the sorted, deduplicated symmetric
// difference of subset and {t}: subset with t removed if present, or added
// if absent.
func symmetricDifference(subset []uint64, t uint64) []uint64 {
	out := make([]uint64, 0, len(subset)+1)
	found := false
	for _, idx := range subset {
		if idx == t {
			found = true
			continue
		}
		out = append(out, idx)
	}
	if !found {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
