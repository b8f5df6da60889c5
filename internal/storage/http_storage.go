package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "go-receipt-forensics/internal/errors"
)

const (
	defaultAttempts = 3
	defaultMaxBytes = 20 << 20
)

// HTTPImageSource downloads receipt images over HTTP(S).
type HTTPImageSource struct {
	client   *http.Client
	attempts int
	backoff  time.Duration
	maxBytes int64
}

// HTTPOption customizes an HTTPImageSource.
type HTTPOption func(*HTTPImageSource)

// WithBackoff sets the base delay between attempts; attempt n waits n*d.
func WithBackoff(d time.Duration) HTTPOption {
	return func(h *HTTPImageSource) { h.backoff = d }
}

// WithMaxBytes bounds the accepted body size.
func WithMaxBytes(n int64) HTTPOption {
	return func(h *HTTPImageSource) {
		if n > 0 {
			h.maxBytes = n
		}
	}
}

// NewHTTPImageSource creates an HTTP image fetcher
func NewHTTPImageSource(timeout time.Duration, opts ...HTTPOption) *HTTPImageSource {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		MaxResponseHeaderBytes: 4096,

		// Receipt hosts frequently serve self-signed certificates.
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true,
		},
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	h := &HTTPImageSource{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		},
		attempts: defaultAttempts,
		backoff:  time.Second,
		maxBytes: defaultMaxBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Fetch downloads imageURL, retrying transport errors and 5xx responses.
// 4xx responses fail immediately.
func (h *HTTPImageSource) Fetch(ctx context.Context, imageURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < h.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * h.backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		data, retry, err := h.fetchOnce(ctx, imageURL)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return nil, apperrors.NewNetworkError(
		fmt.Sprintf("failed to fetch image after %d attempts", h.attempts), lastErr)
}

func (h *HTTPImageSource) fetchOnce(ctx context.Context, imageURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("Accept", "image/jpeg, image/png, image/webp, image/gif, */*")
	req.Header.Set("User-Agent", "Receipt-Forensics/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("server error: status code %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, false, fmt.Errorf("client error: status code %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBytes+1))
	if err != nil {
		return nil, true, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > h.maxBytes {
		return nil, false, fmt.Errorf("image exceeds %d bytes", h.maxBytes)
	}
	return data, false, nil
}
