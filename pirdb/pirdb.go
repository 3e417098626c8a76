// Package pirdb implements C5: the packed, read-only database a lane
// serves PIR queries against. Records are laid out index-major (the same
// order bucketindex and stemindex address into) and the whole artifact is
// opened read-only via package artifact, mmap'd when local, so that the
// server sweeps over data the kernel pages in on demand rather than one
// this process holds resident.
package pirdb

import (
	"context"
	"fmt"

	"github.com/ethpir/statepir/artifact"
	"github.com/ethpir/statepir/record"
	"github.com/ethpir/statepir/uri"
)

// DB is an opened, index-addressable record database.
type DB struct {
	file *record.File
	rac  artifact.ReaderAtCloser
}

// Open opens the state snapshot at loc (local path or HTTP URL) and
// validates its StateHeader.
func Open(ctx context.Context, loc uri.URI) (*DB, error) {
	rac, err := artifact.Open(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("pirdb: opening %q: %w", loc, err)
	}
	f, err := record.Open(rac)
	if err != nil {
		rac.Close()
		return nil, fmt.Errorf("pirdb: parsing header of %q: %w", loc, err)
	}
	return &DB{file: f, rac: rac}, nil
}

// Close releases the underlying artifact (unmaps a local file, closes a
// remote connection).
func (db *DB) Close() error {
	return db.rac.Close()
}

// Count returns the number of records in the database, N in spec terms.
func (db *DB) Count() uint64 {
	return db.file.Count()
}

// Header returns the database's parsed StateHeader.
func (db *DB) Header() *record.StateHeader {
	return db.file.Header
}

// ValueAt returns the 32-byte value of the record at index i, the unit C6's
// XOR sweep operates over.
func (db *DB) ValueAt(i uint64) ([32]byte, error) {
	rec, err := db.file.At(i)
	if err != nil {
		return [32]byte{}, err
	}
	return rec.Value, nil
}

// RecordAt returns the full record at index i, used by build tooling and
// cold-query fallbacks that need the address/slot alongside the value.
func (db *DB) RecordAt(i uint64) (record.StorageRecord, error) {
	return db.file.At(i)
}
