package pirdb_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethpir/statepir/pirdb"
	"github.com/ethpir/statepir/record"
	"github.com/ethpir/statepir/uri"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T, n int) string {
	t.Helper()
	hdr := record.NewHeader(uint64(n), 12345, 1, [32]byte{1, 2, 3})
	buf := hdr.Marshal()
	for i := 0; i < n; i++ {
		var rec record.StorageRecord
		rec.Address[0] = byte(i)
		rec.Slot[0] = byte(i >> 8)
		rec.Value[0] = byte(i)
		rec.Value[1] = byte(i >> 8)
		buf = append(buf, rec.Marshal()...)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "state.bin")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestOpenAndReadRecords(t *testing.T) {
	path := writeFixture(t, 10)

	db, err := pirdb.Open(context.Background(), uri.New(path))
	require.NoError(t, err)
	defer db.Close()

	require.EqualValues(t, 10, db.Count())
	require.EqualValues(t, 12345, db.Header().BlockNumber)

	v, err := db.ValueAt(7)
	require.NoError(t, err)
	require.Equal(t, byte(7), v[0])

	rec, err := db.RecordAt(3)
	require.NoError(t, err)
	require.Equal(t, byte(3), rec.Address[0])
}

func TestValueAtOutOfRange(t *testing.T) {
	path := writeFixture(t, 2)

	db, err := pirdb.Open(context.Background(), uri.New(path))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ValueAt(99)
	require.Error(t, err)
}
