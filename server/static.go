// Static endpoints: /health, /info, /crs/<lane>, /metadata/<lane>,
// /index/raw, /index/stems, /index/deltas/info, /index/deltas. These serve
// immutable mmap'd bytes or small JSON envelopes, so they run on a plain
// net/http mux rather than the fasthttp path reserved for /query/*,
// grounded on http-range.go's Range-request handling for the byte-range
// cases and replyJSON's jsoniter envelope for the JSON ones.
package server

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethpir/statepir/metrics"
	jsoniter "github.com/json-iterator/go"
	"k8s.io/klog/v2"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Mux builds the net/http handler serving every static endpoint.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.withMetrics("/health", s.handleHealth))
	mux.HandleFunc("/info", s.withMetrics("/info", s.handleInfo))
	mux.HandleFunc("/crs/", s.withMetrics("/crs", s.handleCRS))
	mux.HandleFunc("/metadata/", s.withMetrics("/metadata", s.handleMetadata))
	mux.HandleFunc("/index/raw", s.withMetrics("/index/raw", s.handleIndexRaw))
	mux.HandleFunc("/index/stems", s.withMetrics("/index/stems", s.handleIndexStems))
	mux.HandleFunc("/index/deltas/info", s.withMetrics("/index/deltas/info", s.handleDeltasInfo))
	mux.HandleFunc("/index/deltas", s.withMetrics("/index/deltas", s.handleDeltasRange))
	mux.HandleFunc("/ws/deltas", s.WSHandler())
	return mux
}

func (s *Server) withMetrics(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.RequestsByEndpoint.WithLabelValues(endpoint).Inc()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		metrics.StatusCode.WithLabelValues(strconv.Itoa(rec.status)).Inc()
		metrics.EndpointToCode.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
		outcome := "success"
		if rec.status >= 400 {
			outcome = "failure"
		}
		metrics.EndpointToSuccessOrFailure.WithLabelValues(endpoint, outcome).Inc()
		klog.V(4).Infof("%s %s took %s (status %d)", r.Method, r.URL.Path, time.Since(start), rec.status)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSONErr(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusCode(err))
	_ = jsonAPI.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := jsonAPI.NewEncoder(w).Encode(v); err != nil {
		klog.Errorf("server: encoding JSON response: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type laneHealth struct {
		Entries     uint64 `json:"entries"`
		BlockNumber uint64 `json:"block_number"`
	}
	lanes := make(map[string]laneHealth)
	for _, name := range s.lanes.Names() {
		l, err := s.lanes.Get(name)
		if err != nil {
			continue
		}
		lanes[name] = laneHealth{Entries: l.Count(), BlockNumber: l.BlockNumber()}
	}
	status := "ok"
	if len(lanes) == 0 {
		status = "degraded"
	}
	writeJSON(w, map[string]any{"status": status, "lanes": lanes})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"version":    GitVersion,
		"lanes":      s.lanes.Names(),
		"started_at": startedAt.Format(time.RFC3339),
	})
}

// GitVersion defaults to "dev" and startedAt is stamped when the package is
// initialized; nothing in the CLI overrides either.
var (
	GitVersion = "dev"
	startedAt  = time.Now()
)

func (s *Server) handleCRS(w http.ResponseWriter, r *http.Request) {
	lane := strings.TrimPrefix(r.URL.Path, "/crs/")
	l, err := s.lanes.Get(lane)
	if err != nil {
		writeJSONErr(w, err)
		return
	}
	table := l.HintTable()
	writeJSON(w, map[string]any{
		"lane":        lane,
		"entry_count": l.Count(),
		"shard_config": map[string]any{
			"subset_size": table.SubsetSize,
			"hint_count":  len(table.Hints),
		},
		"crs": base64.StdEncoding.EncodeToString(table.Marshal()),
	})
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	lane := strings.TrimPrefix(r.URL.Path, "/metadata/")
	l, err := s.lanes.Get(lane)
	if err != nil {
		writeJSONErr(w, err)
		return
	}
	header := l.DB().Header()
	writeJSON(w, map[string]any{
		"lane":              lane,
		"entryCount":        l.Count(),
		"snapshotBlock":     header.BlockNumber,
		"snapshotBlockHash": base64.StdEncoding.EncodeToString(header.BlockHash[:]),
		"chainId":           header.ChainID,
		"bucketed":          l.Buckets() != nil,
	})
}

// laneFromQuery resolves the lane a lane-less static endpoint applies to:
// the "lane" query parameter if given, or the sole registered lane when
// exactly one is being served (the common single-lane deployment spec.md
// describes before this expansion generalized to multi-lane).
func (s *Server) laneFromQuery(r *http.Request) (*Lane, error) {
	if name := r.URL.Query().Get("lane"); name != "" {
		return s.lanes.Get(name)
	}
	names := s.lanes.Names()
	if len(names) == 1 {
		return s.lanes.Get(names[0])
	}
	return nil, &QueryMalformed{Reason: "multiple lanes served, specify ?lane="}
}

func (s *Server) handleIndexRaw(w http.ResponseWriter, r *http.Request) {
	l, err := s.laneFromQuery(r)
	if err != nil {
		writeJSONErr(w, err)
		return
	}
	if l.Buckets() == nil {
		writeJSONErr(w, &QueryMalformed{Reason: "lane is not bucket-addressed"})
		return
	}
	buf, err := l.Buckets().Marshal()
	if err != nil {
		writeJSONErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(buf)
}

func (s *Server) handleIndexStems(w http.ResponseWriter, r *http.Request) {
	l, err := s.laneFromQuery(r)
	if err != nil {
		writeJSONErr(w, err)
		return
	}
	if l.Stems() == nil {
		writeJSONErr(w, &QueryMalformed{Reason: "lane is not stem-addressed"})
		return
	}
	buf, err := l.Stems().Marshal()
	if err != nil {
		writeJSONErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(buf)
}

func (s *Server) handleDeltasInfo(w http.ResponseWriter, r *http.Request) {
	l, err := s.laneFromQuery(r)
	if err != nil {
		writeJSONErr(w, err)
		return
	}
	catalog := l.Catalog()
	type rangeInfo struct {
		Offset        int64 `json:"offset"`
		Size          int64 `json:"size"`
		BlocksCovered int64 `json:"blocks_covered"`
	}
	ranges := make([]rangeInfo, 0, len(catalog.Ranges))
	for _, rg := range catalog.Ranges {
		ranges = append(ranges, rangeInfo{
			Offset:        rg.ByteStart,
			Size:          rg.ByteEnd - rg.ByteStart,
			BlocksCovered: rg.BlockEnd - rg.BlockStart,
		})
	}
	writeJSON(w, map[string]any{
		"current_block": l.BlockNumber(),
		"ranges":        ranges,
	})
}

func (s *Server) handleDeltasRange(w http.ResponseWriter, r *http.Request) {
	l, err := s.laneFromQuery(r)
	if err != nil {
		writeJSONErr(w, err)
		return
	}
	cfg := l.Config()
	if cfg.Snapshot.Deltas.IsZero() {
		writeJSONErr(w, &QueryMalformed{Reason: "lane has no delta log configured"})
		return
	}
	rs, err := newArtifactReadSeeker(r.Context(), cfg.Snapshot.Deltas)
	if err != nil {
		writeJSONErr(w, err)
		return
	}
	defer rs.Close()

	http.ServeContent(w, r, "deltas.bin", time.Time{}, rs)
}
