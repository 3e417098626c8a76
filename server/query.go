package server

import (
	"context"
	"runtime"
	"strconv"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/ethpir/statepir/metrics"
	"github.com/ethpir/statepir/pirquery"
	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"
	"k8s.io/klog/v2"
)

// Server is the C9 public endpoint layer: a fasthttp handler for the hot
// /query/*/seeded/binary path and a net/http mux (static.go) for
// everything byte-range or JSON shaped, both dispatching against the same
// MultiLane registry.
type Server struct {
	lanes *MultiLane

	// queryWorkers bounds the concurrent CPU-bound XOR sweeps in flight to
	// the physical core count, per §5's fixed-size worker pool; requests
	// beyond capacity queue on the channel send rather than spawning
	// unbounded goroutines.
	queryWorkers chan struct{}

	// nonces is a short-TTL dedup cache keyed by (lane, nonce) so a
	// replayed query body doesn't get evaluated twice, grounded on the
	// teacher's cmd-rpc.go bigcache.DefaultConfig bookkeeping cache.
	nonces *bigcache.BigCache
}

// queryWorkerPoolSize mirrors the teacher's epoch-search-concurrency
// default of one worker per physical core.
func queryWorkerPoolSize() int {
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	return n
}

// NewServer wires a Server against an already-populated lane registry.
func NewServer(lanes *MultiLane) (*Server, error) {
	conf := bigcache.DefaultConfig(5 * time.Minute)
	nonces, err := bigcache.New(context.Background(), conf)
	if err != nil {
		return nil, err
	}
	return &Server{
		lanes:        lanes,
		queryWorkers: make(chan struct{}, queryWorkerPoolSize()),
		nonces:       nonces,
	}, nil
}

// QueryHandler returns the fasthttp handler for POST
// /query/<lane>/seeded/binary. It is kept as a plain func(*fasthttp.RequestCtx)
// so callers can compose it with fasthttp.CompressHandler or a router,
// mirroring newRPCHandler_fast's shape.
func (s *Server) QueryHandler() fasthttp.RequestHandler {
	return func(c *fasthttp.RequestCtx) {
		start := time.Now()
		metrics.RequestsByEndpoint.WithLabelValues("/query").Inc()
		status := s.handleQuery(c)
		metrics.StatusCode.WithLabelValues(strconv.Itoa(status)).Inc()
		metrics.EndpointToCode.WithLabelValues("/query", strconv.Itoa(status)).Inc()
		outcome := "success"
		if status >= 400 {
			outcome = "failure"
		}
		metrics.EndpointToSuccessOrFailure.WithLabelValues("/query", outcome).Inc()
		klog.V(3).Infof("query request took %s (status %d)", time.Since(start), status)
	}
}

func (s *Server) handleQuery(c *fasthttp.RequestCtx) int {
	if !c.IsPost() {
		c.SetStatusCode(fasthttp.StatusMethodNotAllowed)
		return fasthttp.StatusMethodNotAllowed
	}
	if c.Request.Header.ContentLength() > queryMaxBodyBytes {
		c.SetStatusCode(fasthttp.StatusRequestEntityTooLarge)
		return fasthttp.StatusRequestEntityTooLarge
	}

	lane, ok := laneFromQueryPath(string(c.Path()))
	if !ok {
		return writeErr(c, &QueryMalformed{Reason: "path must be /query/<lane>/seeded/binary"})
	}

	q, err := pirquery.UnmarshalQuery(c.PostBody())
	if err != nil {
		return writeErr(c, &QueryMalformed{Reason: err.Error()})
	}
	if q.LaneID != "" && q.LaneID != lane {
		return writeErr(c, &QueryMalformed{Reason: "lane id in body does not match path"})
	}

	l, err := s.lanes.Get(lane)
	if err != nil {
		return writeErr(c, err)
	}

	if s.seenNonce(lane, q.Nonce) {
		return writeErr(c, &QueryMalformed{Reason: "duplicate query nonce"})
	}

	s.queryWorkers <- struct{}{}
	defer func() { <-s.queryWorkers }()

	isCold := len(q.Indices) == int(l.Count())
	timer := time.Now()
	resp, err := pirquery.Evaluate(l.DB(), q)
	metrics.QueryLatencyHistogram.WithLabelValues(lane, boolLabel(isCold)).Observe(time.Since(timer).Seconds())
	metrics.QueryFanoutHistogram.WithLabelValues(lane).Observe(float64(len(q.Indices)))
	if err != nil {
		return writeErr(c, &QueryMalformed{Reason: err.Error()})
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.Write(resp[:])

	c.SetContentType("application/octet-stream")
	c.SetStatusCode(fasthttp.StatusOK)
	c.SetBody(buf.Bytes())
	return fasthttp.StatusOK
}

// queryMaxBodyBytes bounds a query's wire size: MaxFanout indices at 8
// bytes each, plus a small header, rounded up generously.
const queryMaxBodyBytes = pirquery.MaxFanout*8 + 4096

func (s *Server) seenNonce(lane string, nonce [16]byte) bool {
	key := lane + ":" + string(nonce[:])
	if _, err := s.nonces.Get(key); err == nil {
		return true
	}
	_ = s.nonces.Set(key, []byte{1})
	return false
}

// laneFromQueryPath extracts <lane> from /query/<lane>/seeded/binary.
func laneFromQueryPath(path string) (string, bool) {
	const prefix = "/query/"
	const suffix = "/seeded/binary"
	if len(path) <= len(prefix)+len(suffix) {
		return "", false
	}
	if path[:len(prefix)] != prefix {
		return "", false
	}
	rest := path[len(prefix):]
	if len(rest) <= len(suffix) || rest[len(rest)-len(suffix):] != suffix {
		return "", false
	}
	return rest[:len(rest)-len(suffix)], true
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func writeErr(c *fasthttp.RequestCtx, err error) int {
	code := StatusCode(err)
	c.SetContentType("application/json")
	c.SetStatusCode(code)
	c.SetBodyString(`{"error":"` + err.Error() + `"}`)
	return code
}
