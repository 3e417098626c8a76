package server_test

import (
	"net/http"
	"testing"

	"github.com/ethpir/statepir/server"
	"github.com/stretchr/testify/require"
)

func TestStatusCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&server.FormatError{Reason: "bad"}, http.StatusBadRequest},
		{&server.OrderError{Index: 3}, http.StatusBadRequest},
		{&server.QueryMalformed{Reason: "bad"}, http.StatusBadRequest},
		{&server.IndexOutOfRange{Index: 5, N: 3}, http.StatusBadRequest},
		{&server.LaneUnknown{Lane: "x"}, http.StatusNotFound},
		{&server.SnapshotMismatch{Lane: "x"}, http.StatusConflict},
		{&server.DeltaGap{Local: 1, Current: 10}, http.StatusGone},
	}
	for _, c := range cases {
		require.Equal(t, c.want, server.StatusCode(c.err), c.err.Error())
	}
}
