// Package notary records completed verifications with an external
// attestation service.
package notary

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"go-receipt-forensics/pkg/models"
)

// Record is the attestation payload.
type Record struct {
	RunID             string `json:"run_id"`
	ReceiptID         string `json:"receipt_id,omitempty"`
	ManipulationScore int    `json:"manipulation_score"`
	VerdictBand       string `json:"verdict_band"`
	ResultSHA256      string `json:"result_sha256"`
}

// Notarizer attests a completed result.
type Notarizer interface {
	Notarize(ctx context.Context, result *models.VerificationResult) error
}

// Client posts records to the notary URL.
type Client struct {
	url        string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *logrus.Logger
}

// Option customizes a Client.
type Option func(*Client)

func WithBackoff(d time.Duration) Option { return func(c *Client) { c.backoff = d } }

func WithLogger(l *logrus.Logger) Option { return func(c *Client) { c.logger = l } }

// NewClient creates a notary client. An empty URL yields a client whose
// Notarize is a no-op.
func NewClient(url string, timeout time.Duration, maxRetries int, opts ...Option) *Client {
	if maxRetries < 1 {
		maxRetries = 1
	}
	c := &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		backoff:    500 * time.Millisecond,
		logger:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RecordFor builds the attestation payload. The digest covers the JSON
// encoding of the full result.
func RecordFor(result *models.VerificationResult) (Record, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return Record{}, err
	}
	sum := sha256.Sum256(data)
	return Record{
		RunID:             result.RunID,
		ReceiptID:         result.ReceiptID,
		ManipulationScore: result.ManipulationScore,
		VerdictBand:       result.VerdictBand,
		ResultSHA256:      hex.EncodeToString(sum[:]),
	}, nil
}

// Notarize posts the record, retrying transport errors and 5xx responses.
func (c *Client) Notarize(ctx context.Context, result *models.VerificationResult) error {
	if c.url == "" {
		return nil
	}
	rec, err := RecordFor(result)
	if err != nil {
		return fmt.Errorf("build record: %w", err)
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * c.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		retry, err := c.post(ctx, body)
		if err == nil {
			c.logger.WithFields(logrus.Fields{
				"run_id":   rec.RunID,
				"attempts": attempt + 1,
			}).Debug("Result notarized")
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return fmt.Errorf("notarize run %s: %w", rec.RunID, lastErr)
}

func (c *Client) post(ctx context.Context, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("server error: status code %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		return false, fmt.Errorf("client error: status code %d", resp.StatusCode)
	}
	return false, nil
}
