package server

import (
	"context"
	"fmt"
	"io"

	"github.com/ethpir/statepir/artifact"
	"github.com/ethpir/statepir/uri"
)

// artifactReadSeeker adapts an artifact.ReaderAtCloser (random access by
// design, for PIR's uniformly-random query pattern) into the ReadSeeker
// http.ServeContent wants for Range-request serving of the delta log.
type artifactReadSeeker struct {
	rac  artifact.ReaderAtCloser
	size int64
	pos  int64
}

func newArtifactReadSeeker(ctx context.Context, loc uri.URI) (*artifactReadSeeker, error) {
	rac, err := artifact.Open(ctx, loc)
	if err != nil {
		return nil, err
	}
	size, err := artifact.Size(rac)
	if err != nil {
		rac.Close()
		return nil, err
	}
	return &artifactReadSeeker{rac: rac, size: size}, nil
}

func (a *artifactReadSeeker) Read(p []byte) (int, error) {
	if a.pos >= a.size {
		return 0, io.EOF
	}
	n, err := a.rac.ReadAt(p, a.pos)
	a.pos += int64(n)
	return n, err
}

func (a *artifactReadSeeker) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = a.pos + offset
	case io.SeekEnd:
		newPos = a.size + offset
	default:
		return 0, fmt.Errorf("server: invalid seek whence %d", whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("server: negative seek position")
	}
	a.pos = newPos
	return newPos, nil
}

func (a *artifactReadSeeker) Close() error { return a.rac.Close() }
