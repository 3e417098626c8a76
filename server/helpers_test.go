package server_test

import (
	"testing"

	"github.com/ethpir/statepir/pirquery"
	"github.com/ethpir/statepir/server"
)

func buildClientQuery(t *testing.T, l *server.Lane, target uint64) (pirquery.Query, uint32, bool, error) {
	t.Helper()
	client := pirquery.NewClient(l.Name(), l.HintTable())
	return client.Build(target)
}

func recoverClientValue(t *testing.T, l *server.Lane, hintIdx uint32, resp [pirquery.ValueSize]byte) [pirquery.ValueSize]byte {
	t.Helper()
	client := pirquery.NewClient(l.Name(), l.HintTable())
	return client.Recover(hintIdx, resp)
}
