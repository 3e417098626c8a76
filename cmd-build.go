package main

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/ethpir/statepir/bucketindex"
	"github.com/ethpir/statepir/ethcrypto"
	"github.com/ethpir/statepir/hint"
	"github.com/ethpir/statepir/indexmeta"
	"github.com/ethpir/statepir/record"
	"github.com/ethpir/statepir/stemindex"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
)

// newCmd_Build builds a lane's immutable snapshot artifacts (state.bin,
// its sparse index, and its hint table) from a CSV source of
// address,slot,value triples, the offline half of the lifecycle spec.md's
// DATA MODEL section describes ("snapshot build, one-shot, immutable").
func newCmd_Build() *cli.Command {
	var lane string
	var inPath string
	var outDir string
	var bucketed bool
	var blockNumber uint64
	var chainID uint64
	var blockHashHex string

	return &cli.Command{
		Name:        "build",
		Usage:       "Build a lane's state.bin, sparse index, and hint table from a CSV snapshot.",
		Description: "Reads address,slot,value triples (one per line, hex-encoded, no 0x prefix) and emits the immutable artifacts one lane serves.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "lane", Required: true, Destination: &lane},
			&cli.StringFlag{Name: "in", Usage: "CSV file of address,slot,value hex triples", Required: true, Destination: &inPath},
			&cli.StringFlag{Name: "out", Usage: "Output directory for state.bin/buckets.bin|stems.bin/hints.bin", Required: true, Destination: &outDir},
			&cli.BoolFlag{Name: "bucketed", Usage: "Build a bucket index instead of a stem index", Destination: &bucketed},
			&cli.Uint64Flag{Name: "block-number", Destination: &blockNumber},
			&cli.Uint64Flag{Name: "chain-id", Value: 1, Destination: &chainID},
			&cli.StringFlag{Name: "block-hash", Usage: "32-byte block hash, hex-encoded", Destination: &blockHashHex},
		},
		Action: func(c *cli.Context) error {
			records, err := readCSVRecords(inPath)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			sortRecords(records, bucketed)

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return cli.Exit(err.Error(), 1)
			}

			var blockHash [32]byte
			if blockHashHex != "" {
				b, err := hex.DecodeString(blockHashHex)
				if err != nil {
					return cli.Exit(fmt.Sprintf("invalid --block-hash: %s", err), 1)
				}
				copy(blockHash[:], b)
			}

			statePath, err := writeStateFile(outDir, records, blockNumber, chainID, blockHash)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			var indexPath string
			if bucketed {
				indexPath, err = writeBucketIndex(outDir, lane, records)
			} else {
				indexPath, err = writeStemIndex(outDir, lane, records)
			}
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			hintsPath, err := writeHintTable(outDir, records)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			klog.Infof("lane %q built: %d records, state=%s index=%s hints=%s",
				lane, len(records), statePath, indexPath, hintsPath)
			return nil
		},
	}
}

func readCSVRecords(path string) ([]record.StorageRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("build: opening %q: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = 3

	var out []record.StorageRecord
	bar := progressbar.Default(-1, "reading records")
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("build: reading %q: %w", path, err)
		}
		var rec record.StorageRecord
		if err := decodeHexField(row[0], rec.Address[:]); err != nil {
			return nil, fmt.Errorf("build: address field: %w", err)
		}
		if err := decodeHexField(row[1], rec.Slot[:]); err != nil {
			return nil, fmt.Errorf("build: slot field: %w", err)
		}
		if err := decodeHexField(row[2], rec.Value[:]); err != nil {
			return nil, fmt.Errorf("build: value field: %w", err)
		}
		out = append(out, rec)
		_ = bar.Add(1)
	}
	klog.Infof("read %s records from %q", humanize.Comma(int64(len(out))), path)
	return out, nil
}

// sortRecords orders records into the layout the chosen index needs.
// Bucket lanes (§4.2) address by bucket_id, the top bits of
// keccak256(address||slot), so a global sort on that hash is the
// database's canonical order. Stem lanes (§4.3) address a record by
// Entry.Start+subindex: two records sharing a stem (same address and
// slot[0:31]) must land in adjacent database indices ordered by
// subindex, which keccak256(address||slot) does not provide — it
// avalanches, so same-stem records scatter across the hash order. Stem
// lanes are therefore sorted stem-major: by stem, then by subindex
// within the stem.
func sortRecords(records []record.StorageRecord, bucketed bool) {
	if bucketed {
		sort.Slice(records, func(i, j int) bool {
			return record.Less(
				ethcrypto.Keccak256(records[i].Address[:], records[i].Slot[:]),
				ethcrypto.Keccak256(records[j].Address[:], records[j].Slot[:]),
			)
		})
		return
	}

	hasher := stemindex.Keccak256StemHasher{}
	type keyedRecord struct {
		rec      record.StorageRecord
		stem     stemindex.Stem
		subindex byte
	}
	keyed := make([]keyedRecord, len(records))
	for i, rec := range records {
		stem, subindex := stemindex.Split(hasher, rec.Address[:], rec.Slot)
		keyed[i] = keyedRecord{rec: rec, stem: stem, subindex: subindex}
	}
	sort.Slice(keyed, func(i, j int) bool {
		if c := bytes.Compare(keyed[i].stem[:], keyed[j].stem[:]); c != 0 {
			return c < 0
		}
		return keyed[i].subindex < keyed[j].subindex
	})
	for i, k := range keyed {
		records[i] = k.rec
	}
}

func decodeHexField(field string, dst []byte) error {
	field = strings.TrimPrefix(strings.TrimSpace(field), "0x")
	b, err := hex.DecodeString(field)
	if err != nil {
		return err
	}
	if len(b) > len(dst) {
		return fmt.Errorf("field %q is %d bytes, want at most %d", field, len(b), len(dst))
	}
	copy(dst[len(dst)-len(b):], b)
	return nil
}

func writeStateFile(outDir string, records []record.StorageRecord, blockNumber, chainID uint64, blockHash [32]byte) (string, error) {
	path := outDir + "/state.bin"
	hdr := record.NewHeader(uint64(len(records)), blockNumber, chainID, blockHash)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("build: creating %q: %w", path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if _, err := w.Write(hdr.Marshal()); err != nil {
		return "", err
	}
	for _, rec := range records {
		if _, err := w.Write(rec.Marshal()); err != nil {
			return "", err
		}
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	info, _ := f.Stat()
	if info != nil {
		klog.Infof("wrote %s (%s)", path, humanize.Bytes(uint64(info.Size())))
	}
	return path, nil
}

func writeBucketIndex(outDir, lane string, records []record.StorageRecord) (string, error) {
	n := uint64(len(records))
	idx, err := bucketindex.Build(n,
		func(i uint64) []byte { return records[i].Address[:] },
		func(i uint64) []byte { return records[i].Slot[:] },
		laneMeta(lane, "bucketindex"),
	)
	if err != nil {
		return "", fmt.Errorf("build: building bucket index: %w", err)
	}
	path := outDir + "/buckets.bin"
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("build: creating %q: %w", path, err)
	}
	defer f.Close()
	if _, err := idx.WriteTo(f); err != nil {
		return "", fmt.Errorf("build: writing %q: %w", path, err)
	}
	return path, nil
}

// writeStemIndex builds the stem index over records, which sortRecords has
// already laid out stem-major: every stem's records occupy one contiguous
// run, so a single left-to-right pass detecting stem boundaries is enough
// to produce each Entry{Stem, Start, Count}.
func writeStemIndex(outDir, lane string, records []record.StorageRecord) (string, error) {
	hasher := stemindex.Keccak256StemHasher{}
	var entries []stemindex.Entry
	var runStem stemindex.Stem
	var runStart uint32
	haveRun := false

	flush := func(end uint32) error {
		if !haveRun {
			return nil
		}
		count := end - runStart
		if count == 0 || count > 256 {
			return fmt.Errorf("build: stem %x spans %d records, want 1-256", runStem, count)
		}
		entries = append(entries, stemindex.Entry{Stem: runStem, Start: runStart, Count: uint16(count)})
		return nil
	}

	for i, rec := range records {
		stem, _ := stemindex.Split(hasher, rec.Address[:], rec.Slot)
		if !haveRun || stem != runStem {
			if err := flush(uint32(i)); err != nil {
				return "", err
			}
			runStem = stem
			runStart = uint32(i)
			haveRun = true
		}
	}
	if err := flush(uint32(len(records))); err != nil {
		return "", err
	}

	idx, err := stemindex.Build(entries, laneMeta(lane, "stemindex"))
	if err != nil {
		return "", fmt.Errorf("build: building stem index: %w", err)
	}
	buf, err := idx.Marshal()
	if err != nil {
		return "", fmt.Errorf("build: marshaling stem index: %w", err)
	}
	path := outDir + "/stems.bin"
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", fmt.Errorf("build: writing %q: %w", path, err)
	}
	return path, nil
}

// laneMeta builds the self-describing key-value tail every on-disk index
// format embeds, so a reader can tell a bucket index from a stem index (and
// which lane it belongs to) before parsing the rest of the header.
func laneMeta(lane, kind string) indexmeta.Meta {
	var m indexmeta.Meta
	_ = m.Add(indexmeta.KeyLane, []byte(lane))
	_ = m.Add(indexmeta.KeyKind, []byte(kind))
	return m
}

func writeHintTable(outDir string, records []record.StorageRecord) (string, error) {
	bar := progressbar.Default(-1, "building hint table")
	table, err := hint.Build(uint64(len(records)), func(i uint64) [hint.ValueSize]byte {
		_ = bar.Add(1)
		return records[i].Value
	})
	if err != nil {
		return "", fmt.Errorf("build: building hint table: %w", err)
	}
	path := outDir + "/hints.bin"
	if err := os.WriteFile(path, table.Marshal(), 0o644); err != nil {
		return "", fmt.Errorf("build: writing %q: %w", path, err)
	}
	klog.Infof("hint table: %d hints, subset size %d", len(table.Hints), table.SubsetSize)
	return path, nil
}
