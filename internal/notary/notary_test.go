package notary

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-receipt-forensics/pkg/models"
)

func sampleResult() *models.VerificationResult {
	return &models.VerificationResult{RunID: "run-1", ReceiptID: "rcpt-7", ManipulationScore: 88, VerdictBand: "fraudulent"}
}

func TestNotarize_PostsRecord(t *testing.T) {
	var got Record
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	c := NewClient(server.URL, time.Second, 3)
	require.NoError(t, c.Notarize(context.Background(), sampleResult()))

	want, err := RecordFor(sampleResult())
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Len(t, got.ResultSHA256, 64)
}

func TestNotarize_Retries(t *testing.T) {
	tests := []struct {
		name      string
		responses []int
		requests  int32
		wantErr   bool
	}{
		{"5xx then success", []int{503, 200}, 2, false},
		{"4xx is final", []int{400, 200}, 1, true},
		{"5xx exhausts retries", []int{500, 502, 503}, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				i := atomic.AddInt32(&n, 1) - 1
				w.WriteHeader(tt.responses[i])
			}))
			defer server.Close()

			c := NewClient(server.URL, time.Second, 3, WithBackoff(time.Millisecond))
			err := c.Notarize(context.Background(), sampleResult())
			assert.Equal(t, tt.wantErr, err != nil, "err=%v", err)
			assert.Equal(t, tt.requests, atomic.LoadInt32(&n))
		})
	}
}

func TestNotarize_Disabled(t *testing.T) {
	assert.NoError(t, NewClient("", time.Second, 3).Notarize(context.Background(), sampleResult()))
}

func TestRecordFor_DigestTracksContent(t *testing.T) {
	a, err := RecordFor(sampleResult())
	require.NoError(t, err)
	changed := sampleResult()
	changed.ManipulationScore = 10
	b, err := RecordFor(changed)
	require.NoError(t, err)
	assert.NotEqual(t, a.ResultSHA256, b.ResultSHA256)
}
