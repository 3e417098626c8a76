package pirquery_test

import (
	"testing"

	"github.com/ethpir/statepir/hint"
	"github.com/ethpir/statepir/pirquery"
	"github.com/stretchr/testify/require"
)

type memDB struct {
	values [][pirquery.ValueSize]byte
}

func (m *memDB) Count() uint64 { return uint64(len(m.values)) }

func (m *memDB) ValueAt(i uint64) ([pirquery.ValueSize]byte, error) {
	return m.values[i], nil
}

func buildMemDB(n int) *memDB {
	db := &memDB{values: make([][pirquery.ValueSize]byte, n)}
	for i := range db.values {
		db.values[i][0] = byte(i)
		db.values[i][1] = byte(i >> 8)
	}
	return db
}

func TestHintedQueryRoundTrip(t *testing.T) {
	const n = 500
	db := buildMemDB(n)
	valueOf := func(i uint64) [hint.ValueSize]byte { return db.values[i] }

	table, err := hint.Build(n, valueOf)
	require.NoError(t, err)

	client := pirquery.NewClient("lane-0", table)

	for target := uint64(0); target < n; target += 37 {
		q, h, cold, err := client.Build(target)
		require.NoError(t, err)
		require.False(t, cold)
		require.Equal(t, "lane-0", q.LaneID)
		require.NotEmpty(t, q.Indices)

		resp, err := pirquery.Evaluate(db, q)
		require.NoError(t, err)

		recovered := client.Recover(h, resp)
		require.Equal(t, db.values[target], recovered, "target %d", target)
	}
}

func TestColdQueryWhenNoHintCovers(t *testing.T) {
	const n = 8
	db := buildMemDB(n)
	table := &hint.Table{N: n, SubsetSize: 0, Hints: nil}

	client := pirquery.NewClient("lane-0", table)
	q, _, cold, err := client.Build(3)
	require.NoError(t, err)
	require.True(t, cold)
	require.Len(t, q.Indices, n)

	resp, err := pirquery.Evaluate(db, q)
	require.NoError(t, err)

	var want [pirquery.ValueSize]byte
	for _, v := range db.values {
		for i := range want {
			want[i] ^= v[i]
		}
	}
	require.Equal(t, want, resp)
}

func TestEvaluateRejectsOutOfRangeIndex(t *testing.T) {
	db := buildMemDB(4)
	_, err := pirquery.Evaluate(db, pirquery.Query{Indices: []uint64{99}})
	require.Error(t, err)
}

func TestEvaluateRejectsEmptyDatabase(t *testing.T) {
	db := buildMemDB(0)
	_, err := pirquery.Evaluate(db, pirquery.Query{})
	require.ErrorIs(t, err, pirquery.ErrEmptyDatabase)
}

func TestQueryMarshalUnmarshalRoundTrip(t *testing.T) {
	q := pirquery.Query{
		LaneID:  "mainnet-storage",
		Indices: []uint64{1, 2, 3, 1000000},
	}
	copy(q.Nonce[:], []byte("0123456789abcdef"))

	buf := q.Marshal()
	got, err := pirquery.UnmarshalQuery(buf)
	require.NoError(t, err)
	require.Equal(t, q, got)
}

func TestUnmarshalQueryRejectsOversizedFanout(t *testing.T) {
	q := pirquery.Query{LaneID: "x"}
	buf := q.Marshal()
	// Overwrite the index count field with something beyond MaxFanout.
	off := 2 + len(q.LaneID) + 16
	buf[off] = 0xff
	buf[off+1] = 0xff
	buf[off+2] = 0xff
	buf[off+3] = 0xff
	_, err := pirquery.UnmarshalQuery(buf)
	require.ErrorIs(t, err, pirquery.ErrQueryTooLarge)
}
