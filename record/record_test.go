package record_test

import (
	"bytes"
	"testing"

	"github.com/ethpir/statepir/record"
	"github.com/stretchr/testify/require"
)

func buildFile(t *testing.T, recs []record.StorageRecord) *bytes.Reader {
	t.Helper()
	hdr := record.NewHeader(uint64(len(recs)), 12345, 1, [32]byte{0xAA})
	buf := bytes.NewBuffer(hdr.Marshal())
	for _, r := range recs {
		buf.Write(r.Marshal())
	}
	return bytes.NewReader(buf.Bytes())
}

func rec(addrByte, slotByte byte) record.StorageRecord {
	var r record.StorageRecord
	r.Address[0] = addrByte
	r.Slot[0] = slotByte
	r.Value[0] = addrByte ^ slotByte
	return r
}

func TestParseHeaderRejectsBadMagic(t *testing.T) {
	buf := make([]byte, record.HeaderSize)
	_, err := record.ParseHeader(buf)
	var fe *record.FormatError
	require.ErrorAs(t, err, &fe)
}

func TestHeaderRoundTrip(t *testing.T) {
	h := record.NewHeader(10, 99, 1, [32]byte{1, 2, 3})
	got, err := record.ParseHeader(h.Marshal())
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestOpenAndAt(t *testing.T) {
	recs := []record.StorageRecord{rec(1, 1), rec(2, 2), rec(3, 3)}
	f, err := record.Open(buildFile(t, recs))
	require.NoError(t, err)
	require.Equal(t, uint64(3), f.Count())

	got, err := f.At(1)
	require.NoError(t, err)
	require.Equal(t, recs[1], got)

	_, err = f.At(3)
	require.Error(t, err)
}

func TestVerifyOrderAcceptsSortedFile(t *testing.T) {
	recs := []record.StorageRecord{rec(1, 1), rec(2, 2), rec(3, 3)}
	f, err := record.Open(buildFile(t, recs))
	require.NoError(t, err)

	keyOf := func(r record.StorageRecord) []byte {
		return append(append([]byte{}, r.Address[:]...), r.Slot[:]...)
	}
	require.NoError(t, record.VerifyOrder(f, keyOf))
}

func TestVerifyOrderRejectsUnsortedFile(t *testing.T) {
	recs := []record.StorageRecord{rec(3, 3), rec(1, 1), rec(2, 2)}
	f, err := record.Open(buildFile(t, recs))
	require.NoError(t, err)

	keyOf := func(r record.StorageRecord) []byte {
		return append(append([]byte{}, r.Address[:]...), r.Slot[:]...)
	}
	err = record.VerifyOrder(f, keyOf)
	var oe *record.OrderError
	require.ErrorAs(t, err, &oe)
	require.Equal(t, 1, oe.Index)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	r := rec(7, 9)
	got, err := record.Unmarshal(r.Marshal())
	require.NoError(t, err)
	require.Equal(t, r, got)
}
