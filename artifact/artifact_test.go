package artifact_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethpir/statepir/artifact"
	"github.com/ethpir/statepir/uri"
	"github.com/stretchr/testify/require"
)

func TestOpenLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.bin")
	want := []byte("the quick brown fox jumps over the lazy dog")
	require.NoError(t, os.WriteFile(path, want, 0o644))

	r, err := artifact.Open(context.Background(), uri.New(path))
	require.NoError(t, err)
	defer r.Close()

	got := make([]byte, len(want))
	n, err := r.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, len(want), n)
	require.Equal(t, want, got)
}

func TestOpenRemoteFile(t *testing.T) {
	want := []byte("the quick brown fox jumps over the lazy dog, twice over")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "state.bin", time.Time{}, bytes.NewReader(want))
	}))
	defer srv.Close()

	r, err := artifact.Open(context.Background(), uri.New(srv.URL))
	require.NoError(t, err)
	defer r.Close()

	got := make([]byte, 10)
	n, err := r.ReadAt(got, 4)
	require.NoError(t, err)
	require.Equal(t, 10, n)
	require.Equal(t, want[4:14], got)
}

func TestOpenRejectsUnsupportedScheme(t *testing.T) {
	_, err := artifact.Open(context.Background(), uri.New("ftp://example.com/state.bin"))
	require.Error(t, err)
}
