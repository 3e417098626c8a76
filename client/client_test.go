package client_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethpir/statepir/client"
	"github.com/ethpir/statepir/config"
	"github.com/ethpir/statepir/hint"
	"github.com/ethpir/statepir/indexmeta"
	"github.com/ethpir/statepir/record"
	"github.com/ethpir/statepir/server"
	"github.com/ethpir/statepir/stemindex"
	"github.com/ethpir/statepir/uri"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

// buildLane writes a small on-disk stem-addressed lane and opens it,
// mirroring server_test's fixture helper since both packages need one.
func buildLane(t *testing.T, name string, n int) *server.Lane {
	t.Helper()
	dir := t.TempDir()

	hdr := record.NewHeader(uint64(n), 555, 1, [32]byte{3})
	buf := hdr.Marshal()
	entries := make([]stemindex.Entry, 0, n)
	for i := 0; i < n; i++ {
		var rec record.StorageRecord
		rec.Address[0] = byte(i)
		rec.Value[0] = byte(i)
		rec.Value[1] = byte(i >> 8)
		buf = append(buf, rec.Marshal()...)

		var e stemindex.Entry
		e.Stem[0] = byte(i)
		e.Start = uint32(i)
		e.Count = 1
		entries = append(entries, e)
	}
	statePath := filepath.Join(dir, "state.bin")
	require.NoError(t, os.WriteFile(statePath, buf, 0o644))

	stemIdx, err := stemindex.Build(entries, indexmeta.Meta{})
	require.NoError(t, err)
	stemBuf, err := stemIdx.Marshal()
	require.NoError(t, err)
	stemsPath := filepath.Join(dir, "stems.bin")
	require.NoError(t, os.WriteFile(stemsPath, stemBuf, 0o644))

	table, err := hint.Build(uint64(n), func(i uint64) [hint.ValueSize]byte {
		var rec record.StorageRecord
		rec.Value[0] = byte(i)
		rec.Value[1] = byte(i >> 8)
		return rec.Value
	})
	require.NoError(t, err)
	hintsPath := filepath.Join(dir, "hints.bin")
	require.NoError(t, os.WriteFile(hintsPath, table.Marshal(), 0o644))

	version := uint64(config.Version)
	bucketed := false
	cfg := &config.Config{
		Lane:    name,
		Version: &version,
		Snapshot: config.Snapshot{
			State: uri.New(statePath),
			Stems: uri.New(stemsPath),
			Hints: uri.New(hintsPath),
		},
		Bucketed: &bucketed,
	}

	l, err := server.OpenLane(context.Background(), cfg)
	require.NoError(t, err)
	return l
}

func TestClientGetRoundTrip(t *testing.T) {
	l := buildLane(t, "c-lane", 150)
	defer l.Close()

	multi := server.NewMultiLane()
	require.NoError(t, multi.Add(l))

	srv, err := server.NewServer(multi)
	require.NoError(t, err)

	static := httptest.NewServer(srv.Mux())
	defer static.Close()

	ln := fasthttputil.NewInmemoryListener()
	fs := &fasthttp.Server{Handler: srv.QueryHandler()}
	go fs.Serve(ln)
	defer ln.Close()

	hc := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				if addr == "lane:80" || addr == "lane" {
					return ln.Dial()
				}
				return (&net.Dialer{}).DialContext(ctx, network, addr)
			},
		},
	}

	c, err := client.New(context.Background(), static.URL, "http://lane", "c-lane", hc)
	require.NoError(t, err)

	for target := uint64(0); target < 150; target += 23 {
		got, err := c.Get(context.Background(), target)
		require.NoError(t, err)

		var want [32]byte
		want[0] = byte(target)
		want[1] = byte(target >> 8)
		require.Equal(t, want, got, "target %d", target)
	}
}

func TestNewRejectsUnknownLane(t *testing.T) {
	multi := server.NewMultiLane()
	srv, err := server.NewServer(multi)
	require.NoError(t, err)
	static := httptest.NewServer(srv.Mux())
	defer static.Close()

	_, err = client.New(context.Background(), static.URL, static.URL, "nope", nil)
	require.Error(t, err)
}
