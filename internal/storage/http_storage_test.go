package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "go-receipt-forensics/internal/errors"
)

var pngData = []byte{
	0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, // PNG signature
	0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52, // IHDR chunk
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, // 1x1 dimensions
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4,
	0x89, 0x00, 0x00, 0x00, 0x0A, 0x49, 0x44, 0x41, // IDAT chunk start
	0x54, 0x78, 0x9C, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0D, 0x0A, 0x2D, 0xB4, 0x00,
	0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44, 0xAE, // IEND chunk
	0x42, 0x60, 0x82,
}

func TestHTTPImageSource_RetryLogic(t *testing.T) {
	tests := []struct {
		name          string
		responses     []int // Status codes to return in sequence
		expectRetries int   // Expected number of requests
		expectError   bool
		errorContains string
	}{
		{
			name:          "Success on first attempt",
			responses:     []int{200},
			expectRetries: 1,
		},
		{
			name:          "Success on second attempt after 5xx",
			responses:     []int{500, 200},
			expectRetries: 2,
		},
		{
			name:          "4xx client error - no retry",
			responses:     []int{404},
			expectRetries: 1,
			expectError:   true,
			errorContains: "client error: status code 404",
		},
		{
			name:          "4xx after 5xx - should retry until 4xx then stop",
			responses:     []int{500, 404},
			expectRetries: 2,
			expectError:   true,
			errorContains: "client error: status code 404",
		},
		{
			name:          "All 5xx errors - retry all attempts",
			responses:     []int{500, 502, 503},
			expectRetries: 3,
			expectError:   true,
			errorContains: "server error: status code 503",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requestCount := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if requestCount >= len(tt.responses) {
					w.WriteHeader(500)
					return
				}
				statusCode := tt.responses[requestCount]
				requestCount++
				if statusCode == 200 {
					w.Header().Set("Content-Type", "image/png")
					w.Write(pngData)
					return
				}
				w.WriteHeader(statusCode)
				w.Write([]byte(fmt.Sprintf("Error %d", statusCode)))
			}))
			defer server.Close()

			source := NewHTTPImageSource(5*time.Second, WithBackoff(10*time.Millisecond))
			data, err := source.Fetch(context.Background(), server.URL)

			if requestCount != tt.expectRetries {
				t.Errorf("Expected %d requests, got %d", tt.expectRetries, requestCount)
			}
			if tt.expectError {
				if err == nil {
					t.Fatalf("Expected error, but got none")
				}
				if !strings.Contains(err.Error(), tt.errorContains) {
					t.Errorf("Expected error to contain '%s', got: %s", tt.errorContains, err.Error())
				}
				if !apperrors.IsType(err, apperrors.ErrorTypeNetwork) {
					t.Errorf("Expected a network error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got: %s", err.Error())
			}
			if !bytes.Equal(data, pngData) {
				t.Errorf("Body was not returned verbatim")
			}
		})
	}
}

func TestHTTPImageSource_NetworkError_Retry(t *testing.T) {
	requestCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		if requestCount < 3 {
			// Simulate network error by closing connection
			if hj, ok := w.(http.Hijacker); ok {
				conn, _, _ := hj.Hijack()
				conn.Close()
			}
			return
		}
		w.Write(pngData)
	}))
	defer server.Close()

	source := NewHTTPImageSource(5*time.Second, WithBackoff(20*time.Millisecond))

	start := time.Now()
	_, err := source.Fetch(context.Background(), server.URL)
	duration := time.Since(start)

	if err != nil {
		t.Errorf("Expected success after retries, got error: %s", err.Error())
	}
	if requestCount != 3 {
		t.Errorf("Expected 3 requests, got %d", requestCount)
	}
	// backoff is 1x then 2x the base delay
	if duration < 60*time.Millisecond {
		t.Errorf("Expected at least 60ms of backoff, took %v", duration)
	}
}

func TestHTTPImageSource_BodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte{1}, 2048))
	}))
	defer server.Close()

	source := NewHTTPImageSource(5*time.Second, WithMaxBytes(1024), WithBackoff(time.Millisecond))
	if _, err := source.Fetch(context.Background(), server.URL); err == nil {
		t.Error("Expected oversized body to be rejected")
	}
}

func TestHTTPImageSource_CancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(503)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	source := NewHTTPImageSource(5*time.Second, WithBackoff(time.Minute))
	if _, err := source.Fetch(ctx, server.URL); err == nil {
		t.Error("Expected context error")
	}
}
