// Package artifact opens the read-only binary artifacts this service
// serves and queries against — state.bin, bucket/stem indices, hint
// tables, delta logs — whether they live on local disk or behind an HTTP
// server, as a single io.ReaderAt. This mirrors the teacher's
// storage.go/http-range.go split: mmap for local files, a Range-request
// client backed by range-cache's LRU byte-range cache for remote ones.
package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	rangecache "github.com/ethpir/statepir/range-cache"
	"github.com/ethpir/statepir/uri"
	"golang.org/x/exp/mmap"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// ReaderAtCloser is a random-access, closable byte source: an mmap'd local
// file or an HTTP Range-backed remote file.
type ReaderAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Open opens the artifact at loc. Query access to every format in this
// module is uniformly random by construction (PIR queries touch the whole
// database; index lookups land anywhere in the bucket/stem table), so local
// files are advised FADV_RANDOM on open, mirroring compactindexsized.Open's
// unix.Fadvise call.
func Open(ctx context.Context, loc uri.URI) (ReaderAtCloser, error) {
	switch {
	case loc.IsFile():
		fadviseRandom(loc.Path())
		r, err := mmap.Open(loc.Path())
		if err != nil {
			return nil, fmt.Errorf("artifact: opening local file %q: %w", loc.Path(), err)
		}
		return r, nil
	case loc.IsWeb():
		return openRemote(ctx, loc.String())
	default:
		return nil, fmt.Errorf("artifact: unsupported location %q", loc)
	}
}

// fadviseRandom advises the kernel that path will be read with no
// sequential locality, mirroring compactindexsized.Open's unix.Fadvise
// call. golang.org/x/exp/mmap.ReaderAt doesn't expose the fd it mmaps, so
// this opens the file itself to get one to advise on, the way
// compactindexsized.Open gets Fd() directly off the *os.File its caller
// hands it.
func fadviseRandom(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	if err := unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_RANDOM); err != nil {
		klog.Warningf("artifact: fadvise(RANDOM) failed for %q: %v", path, err)
	}
}

// remoteMaxMemory bounds how much of a remote artifact the range cache
// keeps resident at once; static artifacts are read in modest chunks
// (index pages, delta ranges), so this is generous without risking
// unbounded growth against a misbehaving client driving many distinct
// ranges.
const remoteMaxMemory = 64 << 20 // 64 MiB

const rangeGCInterval = time.Minute

func openRemote(ctx context.Context, url string) (ReaderAtCloser, error) {
	size, err := headContentLength(url)
	if err != nil {
		return nil, fmt.Errorf("artifact: probing size of %q: %w", url, err)
	}
	client := newHTTPClient()
	rc := rangecache.NewRangeCache(size, url, func(p []byte, off int64) (int, error) {
		return rangeReadAt(client, url, p, off)
	}, remoteMaxMemory)
	rc.StartCacheGC(ctx, rangeGCInterval)
	return &remoteReaderAt{url: url, size: size, client: client, cache: rc}, nil
}

type remoteReaderAt struct {
	url    string
	size   int64
	client httpClient
	cache  *rangecache.RangeCache
}

func (r *remoteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.size {
		return 0, io.EOF
	}
	v, err := r.cache.GetRange(context.Background(), off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	n := copy(p, v)
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

func (r *remoteReaderAt) Close() error {
	r.client.CloseIdleConnections()
	return r.cache.Close()
}

func (r *remoteReaderAt) Size() int64 { return r.size }

// sizer is implemented by golang.org/x/exp/mmap.ReaderAt's Len (an int,
// file sizes here never approach MaxInt on any supported platform);
// remoteReaderAt reports its size through sizer64's Size instead.
type sizer interface {
	Len() int
}

type sizer64 interface {
	Size() int64
}

// Size reports the total byte length of an artifact opened via Open. Index
// and hint-table blobs are read whole into memory, so callers need this
// before allocating the destination buffer.
func Size(r ReaderAtCloser) (int64, error) {
	switch v := r.(type) {
	case sizer64:
		return v.Size(), nil
	case sizer:
		return int64(v.Len()), nil
	default:
		return 0, fmt.Errorf("artifact: reader %T does not report a size", r)
	}
}
