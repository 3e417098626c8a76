package server_test

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/ethpir/statepir/pirquery"
	"github.com/ethpir/statepir/server"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

// serveQueryHandler runs srv's fasthttp query handler against an in-memory
// listener and returns an *http.Client dialed against it, the documented
// way to exercise a fasthttp.RequestHandler without a real TCP socket.
func serveQueryHandler(t *testing.T, srv *server.Server) *http.Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	fs := &fasthttp.Server{Handler: srv.QueryHandler()}
	go fs.Serve(ln)
	t.Cleanup(func() { ln.Close() })

	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return ln.Dial()
			},
		},
	}
}

func TestQueryHandlerRoundTrip(t *testing.T) {
	cfg := writeLaneFixture(t, "q-lane", 200)
	l, err := server.OpenLane(context.Background(), cfg)
	require.NoError(t, err)
	defer l.Close()

	multi := server.NewMultiLane()
	require.NoError(t, multi.Add(l))

	srv, err := server.NewServer(multi)
	require.NoError(t, err)
	client := serveQueryHandler(t, srv)

	for target := uint64(0); target < 200; target += 31 {
		q, hintIdx, cold, err := buildClientQuery(t, l, target)
		require.NoError(t, err)
		require.False(t, cold)

		resp, err := client.Post("http://lane/query/q-lane/seeded/binary", "application/octet-stream", bytes.NewReader(q.Marshal()))
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var r [pirquery.ValueSize]byte
		copy(r[:], body)

		recovered := recoverClientValue(t, l, hintIdx, r)
		rec, err := l.DB().RecordAt(target)
		require.NoError(t, err)
		require.Equal(t, rec.Value, recovered, "target %d", target)
	}
}

func TestQueryHandlerRejectsUnknownLane(t *testing.T) {
	multi := server.NewMultiLane()
	srv, err := server.NewServer(multi)
	require.NoError(t, err)
	client := serveQueryHandler(t, srv)

	q := pirquery.Query{LaneID: "nope"}
	resp, err := client.Post("http://lane/query/nope/seeded/binary", "application/octet-stream", bytes.NewReader(q.Marshal()))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQueryHandlerRejectsGet(t *testing.T) {
	multi := server.NewMultiLane()
	srv, err := server.NewServer(multi)
	require.NoError(t, err)
	client := serveQueryHandler(t, srv)

	resp, err := client.Get("http://lane/query/x/seeded/binary")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
