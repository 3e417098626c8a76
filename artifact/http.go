package artifact

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// httpClient is the subset of *http.Client artifact depends on, so a test
// can swap in a stub.
type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
	CloseIdleConnections()
}

func newHTTPClient() httpClient {
	return &http.Client{
		Timeout: 60 * time.Second,
	}
}

// headContentLength asks the server for the artifact's size with a HEAD
// request, falling back to a one-byte Range GET (bytes=0-0) for servers that don't
// answer HEAD (or answer it without Content-Length).
func headContentLength(url string) (int64, error) {
	resp, err := http.Head(url)
	if err == nil && resp.StatusCode == http.StatusOK && resp.ContentLength > 0 {
		return resp.ContentLength, nil
	}

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent {
		return 0, fmt.Errorf("artifact: unexpected status probing size: %d", resp.StatusCode)
	}
	contentRange := resp.Header.Get("Content-Range")
	if contentRange == "" {
		return 0, fmt.Errorf("artifact: server did not return Content-Range for range probe")
	}
	var size int64
	if _, err := fmt.Sscanf(contentRange, "bytes 0-0/%d", &size); err != nil {
		return 0, fmt.Errorf("artifact: parsing Content-Range %q: %w", contentRange, err)
	}
	return size, nil
}

func retryExponentialBackoff(ctx context.Context, start time.Duration, maxRetries int, fn func() error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(start):
			start *= 2
		}
	}
	return fmt.Errorf("artifact: failed after %d retries: %w", maxRetries, err)
}

// rangeReadAt performs one HTTP Range GET, feeding RangeCache's
// remoteFetcher signature directly.
func rangeReadAt(client httpClient, url string, p []byte, off int64) (int, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+int64(len(p))-1))

	var resp *http.Response
	err = retryExponentialBackoff(context.Background(), 100*time.Millisecond, 3, func() error {
		resp, err = client.Do(req)
		return err
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return io.ReadFull(resp.Body, p)
}
