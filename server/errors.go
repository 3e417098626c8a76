// Package server implements C9: the public HTTP/WS endpoint layer, a thin
// dispatcher in front of the byte-range artifacts (C5/C2/C3/C8) and the
// query engine (C6). Error handling follows the teacher's http-handler.go
// pattern of translating typed errors to status codes at the handler
// boundary, generalized from a JSON-RPC error envelope to plain HTTP
// status codes since this service's endpoints are REST/WS, not JSON-RPC.
package server

import (
	"errors"
	"fmt"
	"net/http"
)

// FormatError reports a malformed on-disk artifact reaching a request path
// (should only happen after a build-time validation bug or disk
// corruption; every artifact is validated at build time).
type FormatError struct{ Reason string }

func (e *FormatError) Error() string { return "server: format error: " + e.Reason }

// OrderError mirrors record.OrderError at the HTTP boundary.
type OrderError struct{ Index int }

func (e *OrderError) Error() string { return fmt.Sprintf("server: entries out of order at %d", e.Index) }

// LaneUnknown is returned when a request names a lane the server doesn't
// currently serve.
type LaneUnknown struct{ Lane string }

func (e *LaneUnknown) Error() string { return fmt.Sprintf("server: unknown lane %q", e.Lane) }

// QueryMalformed is returned when a submitted query fails basic structural
// checks: wrong nonce size, an index set that doesn't fit the lane, etc.
type QueryMalformed struct{ Reason string }

func (e *QueryMalformed) Error() string { return "server: malformed query: " + e.Reason }

// IndexOutOfRange is returned when a query references an index ≥ N.
type IndexOutOfRange struct{ Index, N uint64 }

func (e *IndexOutOfRange) Error() string {
	return fmt.Sprintf("server: index %d out of range [0, %d)", e.Index, e.N)
}

// SnapshotMismatch is returned when a lane's config no longer matches the
// snapshot artifacts it was loaded against.
type SnapshotMismatch struct{ Lane string }

func (e *SnapshotMismatch) Error() string {
	return fmt.Sprintf("server: lane %q snapshot mismatch, refresh config", e.Lane)
}

// DeltaGap is returned when no catalog range covers a client's requested
// catch-up distance.
type DeltaGap struct{ Local, Current uint64 }

func (e *DeltaGap) Error() string {
	return fmt.Sprintf("server: delta gap: local=%d current=%d, refetch raw index", e.Local, e.Current)
}

// StatusCode maps a typed error to the HTTP status this service responds
// with, per the error-to-status table: FormatError/QueryMalformed/
// IndexOutOfRange -> 400; LaneUnknown -> 404; SnapshotMismatch -> 409;
// DeltaGap -> 410; anything else -> 500. Transient I/O errors are not told
// apart from other errors, so none is answered with 503.
func StatusCode(err error) int {
	var (
		formatErr   *FormatError
		orderErr    *OrderError
		laneErr     *LaneUnknown
		queryErr    *QueryMalformed
		rangeErr    *IndexOutOfRange
		mismatchErr *SnapshotMismatch
		gapErr      *DeltaGap
	)
	switch {
	case errors.As(err, &formatErr), errors.As(err, &orderErr), errors.As(err, &queryErr), errors.As(err, &rangeErr):
		return http.StatusBadRequest
	case errors.As(err, &laneErr):
		return http.StatusNotFound
	case errors.As(err, &mismatchErr):
		return http.StatusConflict
	case errors.As(err, &gapErr):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
