package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/ethpir/statepir/bucketindex"
	"github.com/ethpir/statepir/stemindex"
)

// IndexResolver downloads and caches whichever sparse index (C2 bucket
// index or C3 stem index) a lane addresses by, and turns an (address, slot)
// pair into the database index or indices a Client should query — the
// client-side half of §4.2/§4.3's lookup, kept separate from Client itself
// since not every caller needs address/slot resolution (some already know
// the target index, e.g. a range scan).
type IndexResolver struct {
	staticBase string
	lane       string
	hc         *http.Client

	mu      sync.Mutex
	buckets *bucketindex.Index
	stems   *stemindex.Index
}

// NewIndexResolver wraps the same staticBase/lane a Client was built
// against; it performs no network I/O until first use.
func NewIndexResolver(staticBase, lane string, hc *http.Client) *IndexResolver {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &IndexResolver{staticBase: staticBase, lane: lane, hc: hc}
}

func (r *IndexResolver) fetch(ctx context.Context, path string) ([]byte, error) {
	url := r.staticBase + path + "?lane=" + r.lane
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("client: building request for %s: %w", url, err)
	}
	resp, err := r.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("client: %s returned %d: %s", url, resp.StatusCode, body)
	}
	return io.ReadAll(resp.Body)
}

// Buckets returns the lane's bucket index, downloading and caching it on
// first call.
func (r *IndexResolver) Buckets(ctx context.Context) (*bucketindex.Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buckets != nil {
		return r.buckets, nil
	}
	buf, err := r.fetch(ctx, "/index/raw")
	if err != nil {
		return nil, err
	}
	idx, err := bucketindex.Open(buf)
	if err != nil {
		return nil, fmt.Errorf("client: parsing bucket index: %w", err)
	}
	r.buckets = idx
	return idx, nil
}

// Stems returns the lane's stem index, downloading and caching it on first
// call.
func (r *IndexResolver) Stems(ctx context.Context) (*stemindex.Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stems != nil {
		return r.stems, nil
	}
	buf, err := r.fetch(ctx, "/index/stems")
	if err != nil {
		return nil, err
	}
	idx, err := stemindex.Open(buf)
	if err != nil {
		return nil, fmt.Errorf("client: parsing stem index: %w", err)
	}
	r.stems = idx
	return idx, nil
}

// ResolveStem returns the exact database index holding (address, slot) on
// a stem-addressed lane. Unlike bucket addressing this is unambiguous: a
// stem owns a dense, subindex-ordered range, so Lookup alone identifies
// the record.
func (r *IndexResolver) ResolveStem(ctx context.Context, address []byte, slot [32]byte) (uint64, error) {
	idx, err := r.Stems(ctx)
	if err != nil {
		return 0, err
	}
	stem, subindex := stemindex.Split(stemindex.Keccak256StemHasher{}, address, slot)
	i, err := idx.Lookup(stem, subindex)
	if err != nil {
		return 0, fmt.Errorf("client: resolving stem: %w", err)
	}
	return uint64(i), nil
}

// ResolveBucketCandidates returns every database index sharing (address,
// slot)'s bucket on a bucket-addressed lane. There is no server-side
// collision resolution: when Count > 1 the caller must PIR-query each
// candidate independently (Client.Get once per index, so the server never
// learns which of the candidates was the real target) and identify its own
// record by whatever it already knows about the expected value; lanes that
// need exact disambiguation without that out-of-band knowledge should ship
// a direct address-to-index table in metadata instead of a bucket index.
func (r *IndexResolver) ResolveBucketCandidates(ctx context.Context, address, slot []byte) ([]uint64, error) {
	idx, err := r.Buckets(ctx)
	if err != nil {
		return nil, err
	}
	b := idx.Lookup(address, slot)
	candidates := make([]uint64, b.Count)
	for i := range candidates {
		candidates[i] = uint64(b.Start) + uint64(i)
	}
	return candidates, nil
}
