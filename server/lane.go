package server

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ethpir/statepir/artifact"
	"github.com/ethpir/statepir/bucketindex"
	"github.com/ethpir/statepir/config"
	"github.com/ethpir/statepir/delta"
	"github.com/ethpir/statepir/hint"
	"github.com/ethpir/statepir/pirdb"
	"github.com/ethpir/statepir/stemindex"
	"github.com/ethpir/statepir/uri"
)

// Lane bundles one named PIR database with its indices, hint table, and
// delta catalog — everything C9 needs to answer requests for it. This is
// the generalization of the teacher's per-epoch bundle (a Solana epoch's
// CAR + index set) to a per-lane bundle (one logical PIR database, e.g.
// "mainnet-storage" or "mainnet-balances").
type Lane struct {
	mu sync.RWMutex

	name    string
	config  *config.Config
	db      *pirdb.DB
	buckets *bucketindex.Index
	stems   *stemindex.Index
	hints   *hint.Table
	catalog delta.Catalog
	bcast   *deltaBroadcaster
}

// Name returns the lane's identity, the path segment clients address it
// by (/query/<lane>/..., /crs/<lane>, ...).
func (l *Lane) Name() string { return l.name }

// Count returns N, the number of records in the lane's database.
func (l *Lane) Count() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.db.Count()
}

// BlockNumber returns the block number the lane's snapshot (plus any
// applied deltas) currently reflects.
func (l *Lane) BlockNumber() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.db.Header().BlockNumber
}

// DB returns the lane's database, for C6 query evaluation.
func (l *Lane) DB() *pirdb.DB {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.db
}

// HintTable returns the lane's current hint table, for a client's initial
// /crs/<lane> download and for C8's ApplyToHintTable.
func (l *Lane) HintTable() *hint.Table {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hints
}

// Buckets returns the lane's bucket index, or nil for a non-bucketed
// (stem-addressed) lane.
func (l *Lane) Buckets() *bucketindex.Index {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.buckets
}

// Stems returns the lane's stem index, or nil for a bucketed lane.
func (l *Lane) Stems() *stemindex.Index {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stems
}

// Catalog returns the lane's delta range catalog.
func (l *Lane) Catalog() delta.Catalog {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.catalog
}

// Config returns the config.Config the lane was loaded from.
func (l *Lane) Config() *config.Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// ApplyDelta merges a coalesced delta frame into the lane's hint table and
// pushes it to any open /ws/deltas subscribers.
func (l *Lane) ApplyDelta(frame delta.DeltaFrame) error {
	l.mu.Lock()
	err := delta.ApplyToHintTable(l.hints, frame)
	l.mu.Unlock()
	if err != nil {
		return err
	}
	l.broadcaster().Publish(frame)
	return nil
}

// broadcaster lazily creates the lane's delta-push fan-out, since most
// lanes in a test or batch setting never open a websocket subscriber.
func (l *Lane) broadcaster() *deltaBroadcaster {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.bcast == nil {
		l.bcast = newDeltaBroadcaster()
	}
	return l.bcast
}

// Close releases the lane's underlying database artifact.
func (l *Lane) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}

// OpenLane opens every artifact a lane's config names: the database, its
// bucket or stem index (whichever the config's Bucketed flag selects), the
// hint table, and the delta catalog built from /index/deltas/info's shape.
func OpenLane(ctx context.Context, cfg *config.Config) (*Lane, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("server: lane %q: %w", cfg.Lane, err)
	}

	db, err := pirdb.Open(ctx, cfg.Snapshot.State)
	if err != nil {
		return nil, fmt.Errorf("server: lane %q: opening database: %w", cfg.Lane, err)
	}

	l := &Lane{name: cfg.Lane, config: cfg, db: db}

	bucketed := cfg.Bucketed == nil || *cfg.Bucketed
	if bucketed {
		buf, err := readWhole(ctx, cfg.Snapshot.Buckets)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("server: lane %q: reading bucket index: %w", cfg.Lane, err)
		}
		idx, err := bucketindex.Open(buf)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("server: lane %q: parsing bucket index: %w", cfg.Lane, err)
		}
		l.buckets = idx
	} else if !cfg.Snapshot.Stems.IsZero() {
		buf, err := readWhole(ctx, cfg.Snapshot.Stems)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("server: lane %q: reading stem index: %w", cfg.Lane, err)
		}
		idx, err := stemindex.Open(buf)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("server: lane %q: parsing stem index: %w", cfg.Lane, err)
		}
		l.stems = idx
	}

	hintBuf, err := readWhole(ctx, cfg.Snapshot.Hints)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("server: lane %q: reading hint table: %w", cfg.Lane, err)
	}
	table, err := hint.Open(hintBuf)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("server: lane %q: parsing hint table: %w", cfg.Lane, err)
	}
	l.hints = table

	if !cfg.Snapshot.Deltas.IsZero() {
		deltaBuf, err := readWhole(ctx, cfg.Snapshot.Deltas)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("server: lane %q: reading delta log: %w", cfg.Lane, err)
		}
		catalog, err := delta.BuildCatalog(deltaBuf, db.Header().BlockNumber)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("server: lane %q: building delta catalog: %w", cfg.Lane, err)
		}
		l.catalog = catalog
	}

	return l, nil
}

// readWhole opens and fully reads an artifact, for the index/hint blobs
// that are always loaded whole into memory rather than accessed by range.
func readWhole(ctx context.Context, loc uri.URI) ([]byte, error) {
	if loc.IsZero() {
		return nil, fmt.Errorf("server: empty artifact location")
	}
	rac, err := artifact.Open(ctx, loc)
	if err != nil {
		return nil, err
	}
	defer rac.Close()

	size, err := artifact.Size(rac)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := rac.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}
