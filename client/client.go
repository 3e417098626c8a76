// Package client implements the C7 client side end to end: download a
// lane's hint table over HTTP, build a query for a target database index,
// submit it to the lane's query endpoint, and recover the value.
//
// It is the one package in this module that runs outside the serving
// process, so every call takes a context and every failure is wrapped with
// enough detail for an operator to tell a network fault from a malformed
// response, the same posture the teacher's CAR-fetching client code takes
// toward its upstream gateway.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ethpir/statepir/hint"
	"github.com/ethpir/statepir/pirquery"
	jsoniter "github.com/json-iterator/go"
	"github.com/jellydator/ttlcache/v3"
	"k8s.io/klog/v2"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrColdQueryUnsupported is returned by Get when the downloaded hint table
// has no hint covering the target index. The server's cold-query fallback
// sweeps the entire database into a single XOR, which only recovers one
// record's value when the lane has exactly one record; for any real lane
// the fix is a fresh hint table, not a bigger sweep, so this client treats
// the cold path as a signal to refresh rather than a usable response.
var ErrColdQueryUnsupported = fmt.Errorf("client: no hint covers target index, call Refresh and retry")

// sessionTTL bounds how long a downloaded hint table is trusted before Get
// forces a re-download, the session-TTL cache SPEC_FULL.md's domain-stack
// section calls for: a hint table served by a lane that has since rotated
// its snapshot should not be used indefinitely just because no query has
// exhausted RefreshThreshold yet.
const sessionTTL = 10 * time.Minute

// Client is a single lane's PIR client: a locally-held copy of the lane's
// hint table plus the two base URLs the lane is served from (the static
// mux serving /crs, and the fasthttp mux serving /query). The hint table
// is cached behind a TTL so a long-lived client process periodically
// re-syncs with the lane even if it never trips a hint-exhaustion refresh.
type Client struct {
	lane       string
	staticBase string
	queryBase  string
	hc         *http.Client

	// buildMu serializes pirquery.Client.Build/Recover, which mutate
	// consumed-hint bookkeeping with no locking of their own; the network
	// round trip in submit runs outside this lock.
	buildMu sync.Mutex
	cache   *ttlcache.Cache[string, *pirquery.Client]
}

const cacheKey = "hints"

// crsEnvelope mirrors server.handleCRS's JSON response shape.
type crsEnvelope struct {
	Lane        string `json:"lane"`
	EntryCount  uint64 `json:"entry_count"`
	ShardConfig struct {
		SubsetSize int `json:"subset_size"`
		HintCount  int `json:"hint_count"`
	} `json:"shard_config"`
	CRS string `json:"crs"`
}

// New downloads lane's hint table from staticBase and returns a Client
// ready to build queries against queryBase. staticBase and queryBase are
// the respective base URLs of ListenAndServeStatic and ListenAndServeQuery
// (commonly the same host on two different ports). A nil hc defaults to
// http.DefaultClient.
func New(ctx context.Context, staticBase, queryBase, lane string, hc *http.Client) (*Client, error) {
	if hc == nil {
		hc = http.DefaultClient
	}
	c := &Client{
		lane:       lane,
		staticBase: staticBase,
		queryBase:  queryBase,
		hc:         hc,
		cache: ttlcache.New[string, *pirquery.Client](
			ttlcache.WithTTL[string, *pirquery.Client](sessionTTL),
			ttlcache.WithDisableTouchOnHit[string, *pirquery.Client](),
		),
	}
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Refresh re-downloads the lane's hint table, discarding any consumed-hint
// bookkeeping from the previous table and resetting the session TTL. Call
// it in response to pirquery.ErrHintTableExhausted or
// ErrColdQueryUnsupported, or let Get call it automatically once sessionTTL
// elapses.
func (c *Client) Refresh(ctx context.Context) error {
	table, err := c.fetchHintTable(ctx)
	if err != nil {
		return err
	}
	c.cache.Set(cacheKey, pirquery.NewClient(c.lane, table), ttlcache.DefaultTTL)
	klog.V(2).Infof("client: refreshed hint table for lane %q (%d hints)", c.lane, len(table.Hints))
	return nil
}

// pirClient returns the cached pirquery.Client, transparently refreshing it
// if the session TTL has elapsed.
func (c *Client) pirClient(ctx context.Context) (*pirquery.Client, error) {
	item := c.cache.Get(cacheKey)
	if item == nil || item.IsExpired() {
		if err := c.Refresh(ctx); err != nil {
			return nil, err
		}
		item = c.cache.Get(cacheKey)
	}
	return item.Value(), nil
}

func (c *Client) fetchHintTable(ctx context.Context) (*hint.Table, error) {
	url := c.staticBase + "/crs/" + c.lane
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("client: building CRS request: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("client: %s returned %d: %s", url, resp.StatusCode, body)
	}

	var env crsEnvelope
	if err := jsonAPI.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("client: decoding CRS envelope: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(env.CRS)
	if err != nil {
		return nil, fmt.Errorf("client: decoding CRS payload: %w", err)
	}
	table, err := hint.Open(raw)
	if err != nil {
		return nil, fmt.Errorf("client: parsing hint table: %w", err)
	}
	return table, nil
}

// Get retrieves the value at database index target without revealing
// target to the server. It returns ErrColdQueryUnsupported if the current
// hint table has no coverage for target; the caller should Refresh and
// retry.
func (c *Client) Get(ctx context.Context, target uint64) ([pirquery.ValueSize]byte, error) {
	pir, err := c.pirClient(ctx)
	if err != nil {
		return [pirquery.ValueSize]byte{}, err
	}

	c.buildMu.Lock()
	q, hintIndex, cold, err := pir.Build(target)
	c.buildMu.Unlock()
	if err != nil {
		return [pirquery.ValueSize]byte{}, fmt.Errorf("client: building query: %w", err)
	}
	if cold {
		return [pirquery.ValueSize]byte{}, ErrColdQueryUnsupported
	}

	resp, err := c.submit(ctx, q)
	if err != nil {
		return [pirquery.ValueSize]byte{}, err
	}

	c.buildMu.Lock()
	recovered := pir.Recover(hintIndex, resp)
	c.buildMu.Unlock()
	return recovered, nil
}

func (c *Client) submit(ctx context.Context, q pirquery.Query) ([pirquery.ValueSize]byte, error) {
	var out [pirquery.ValueSize]byte
	url := c.queryBase + "/query/" + c.lane + "/seeded/binary"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(q.Marshal()))
	if err != nil {
		return out, fmt.Errorf("client: building query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.hc.Do(req)
	if err != nil {
		return out, fmt.Errorf("client: submitting query to %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(pirquery.ValueSize)+1))
	if err != nil {
		return out, fmt.Errorf("client: reading query response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("client: query rejected, status %d: %s", resp.StatusCode, body)
	}
	if len(body) != pirquery.ValueSize {
		return out, fmt.Errorf("client: query response is %d bytes, want %d", len(body), pirquery.ValueSize)
	}
	copy(out[:], body)
	return out, nil
}
