// Package record implements the C1 component: parsing and validating
// state.bin, the fixed-layout snapshot of Ethereum (address, slot, value)
// triples this entire module is built over.
//
// The format mirrors the teacher's compactindexsized: a small fixed magic
// header followed by a flat array of fixed-stride entries, read zero-copy
// off an io.ReaderAt (typically an mmap'd file). Validation is strict at
// build time and skipped at serve time, on the same "warm up the page
// cache, trust the file" posture compactindexsized.Open takes.
package record

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic identifies a state.bin file.
var Magic = [4]byte{'P', 'I', 'R', '2'}

const (
	// HeaderSize is the fixed width of the StateHeader in bytes.
	HeaderSize = 64
	// Size is the fixed width of one StorageRecord in bytes.
	Size = 84

	addressSize = 20
	slotSize    = 32
	valueSize   = 32

	currentVersion   = uint16(1)
	currentEntrySize = uint16(Size)
)

// FormatError reports that state.bin's header failed a structural check:
// bad magic, unsupported version, or a mismatched entry size.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string { return "record: format error: " + e.Reason }

// OrderError reports that the record at index I is not correctly ordered
// relative to the record before it, discovered during the build-time
// strict-sort validation pass.
type OrderError struct {
	Index int
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("record: entries out of order at index %d", e.Index)
}

// StateHeader is the 64-byte fixed header at the start of state.bin.
type StateHeader struct {
	Version     uint16
	EntrySize   uint16
	EntryCount  uint64
	BlockNumber uint64
	ChainID     uint64
	BlockHash   [32]byte
}

// ParseHeader reads and validates the 64-byte header from buf. buf must be
// at least HeaderSize bytes; only the first HeaderSize bytes are consulted.
func ParseHeader(buf []byte) (*StateHeader, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("record: short header: %d bytes, want %d: %w", len(buf), HeaderSize, ErrShortBuffer)
	}
	if !bytes.Equal(buf[:4], Magic[:]) {
		return nil, &FormatError{Reason: "bad magic"}
	}
	h := &StateHeader{
		Version:     binary.LittleEndian.Uint16(buf[4:6]),
		EntrySize:   binary.LittleEndian.Uint16(buf[6:8]),
		EntryCount:  binary.LittleEndian.Uint64(buf[8:16]),
		BlockNumber: binary.LittleEndian.Uint64(buf[16:24]),
		ChainID:     binary.LittleEndian.Uint64(buf[24:32]),
	}
	copy(h.BlockHash[:], buf[32:64])

	if h.Version != currentVersion {
		return nil, &FormatError{Reason: fmt.Sprintf("unsupported version %d", h.Version)}
	}
	if h.EntrySize != currentEntrySize {
		return nil, &FormatError{Reason: fmt.Sprintf("unexpected entry size %d, want %d", h.EntrySize, currentEntrySize)}
	}
	return h, nil
}

// Marshal serializes the header back to its 64-byte on-disk form.
func (h *StateHeader) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[:4], Magic[:])
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	binary.LittleEndian.PutUint16(buf[6:8], h.EntrySize)
	binary.LittleEndian.PutUint64(buf[8:16], h.EntryCount)
	binary.LittleEndian.PutUint64(buf[16:24], h.BlockNumber)
	binary.LittleEndian.PutUint64(buf[24:32], h.ChainID)
	copy(buf[32:64], h.BlockHash[:])
	return buf
}

// NewHeader builds a header for a fresh build, stamping the current
// format's version and entry size.
func NewHeader(entryCount, blockNumber, chainID uint64, blockHash [32]byte) *StateHeader {
	return &StateHeader{
		Version:     currentVersion,
		EntrySize:   currentEntrySize,
		EntryCount:  entryCount,
		BlockNumber: blockNumber,
		ChainID:     chainID,
		BlockHash:   blockHash,
	}
}

// StorageRecord is one (address, slot, value) triple, 84 bytes packed.
type StorageRecord struct {
	Address [addressSize]byte
	Slot    [slotSize]byte
	Value   [valueSize]byte
}

// Unmarshal decodes one 84-byte record from buf.
func Unmarshal(buf []byte) (StorageRecord, error) {
	var r StorageRecord
	if len(buf) < Size {
		return r, fmt.Errorf("record: short entry: %d bytes, want %d: %w", len(buf), Size, ErrShortBuffer)
	}
	copy(r.Address[:], buf[0:20])
	copy(r.Slot[:], buf[20:52])
	copy(r.Value[:], buf[52:84])
	return r, nil
}

// Marshal encodes the record to its 84-byte on-disk form.
func (r StorageRecord) Marshal() []byte {
	buf := make([]byte, Size)
	copy(buf[0:20], r.Address[:])
	copy(buf[20:52], r.Slot[:])
	copy(buf[52:84], r.Value[:])
	return buf
}

// Less reports whether r sorts before other under the database's canonical
// order (ascending keccak256(address || slot), computed by the caller and
// passed in — record itself stays hash-agnostic so it has no dependency on
// ethcrypto).
func Less(rKey, otherKey []byte) bool {
	return bytes.Compare(rKey, otherKey) < 0
}

// File is a parsed, validated view over a whole state.bin stream: header
// plus zero-copy access to individual records via ReaderAt.
type File struct {
	Header *StateHeader
	stream io.ReaderAt
}

// Open parses the header from stream and returns a File for record access.
// It does not validate ordering; call VerifyOrder separately (build time
// only; the spec explicitly skips this at serve time for startup speed).
func Open(stream io.ReaderAt) (*File, error) {
	var hdr [HeaderSize]byte
	n, err := stream.ReadAt(hdr[:], 0)
	if n < HeaderSize {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("record: reading header: %w", err)
	}
	h, err := ParseHeader(hdr[:])
	if err != nil {
		return nil, err
	}
	return &File{Header: h, stream: stream}, nil
}

// At returns the record at index i, reading it directly off the backing
// stream (an mmap'd file, at serve time).
func (f *File) At(i uint64) (StorageRecord, error) {
	if i >= f.Header.EntryCount {
		return StorageRecord{}, fmt.Errorf("record: index %d out of range [0, %d)", i, f.Header.EntryCount)
	}
	var buf [Size]byte
	off := int64(HeaderSize) + int64(i)*int64(Size)
	n, err := f.stream.ReadAt(buf[:], off)
	if n < Size {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return StorageRecord{}, fmt.Errorf("record: reading entry %d: %w", i, err)
	}
	return Unmarshal(buf[:])
}

// Count returns the number of records in the file.
func (f *File) Count() uint64 { return f.Header.EntryCount }

// VerifyOrder walks every adjacent pair of records under the given key
// function (normally keccak256(address||slot)) and returns the first
// OrderError it finds, or nil if the file is correctly sorted. Build-time
// only: O(N) keccak hashes over potentially hundreds of millions of
// records is not something the serve path should ever pay for.
func VerifyOrder(f *File, keyOf func(StorageRecord) []byte) error {
	if f.Header.EntryCount == 0 {
		return nil
	}
	prevKey := []byte(nil)
	for i := uint64(0); i < f.Header.EntryCount; i++ {
		rec, err := f.At(i)
		if err != nil {
			return err
		}
		key := keyOf(rec)
		if prevKey != nil && bytes.Compare(prevKey, key) >= 0 {
			return &OrderError{Index: int(i)}
		}
		prevKey = key
	}
	return nil
}

// ErrShortBuffer is returned by decode paths fed a truncated byte slice.
var ErrShortBuffer = errors.New("record: short buffer")
