package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go-receipt-forensics/internal/config"
	apperrors "go-receipt-forensics/internal/errors"
	"go-receipt-forensics/internal/progress"
	"go-receipt-forensics/internal/service"
	"go-receipt-forensics/pkg/models"
)

type MockService struct{ mock.Mock }

func (m *MockService) Submit(ctx context.Context, req service.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockService) Verify(ctx context.Context, req service.Request) (*models.RunStatus, error) {
	args := m.Called(ctx, req)
	st, _ := args.Get(0).(*models.RunStatus)
	return st, args.Error(1)
}

func (m *MockService) Status(ctx context.Context, runID string) (*models.RunStatus, error) {
	args := m.Called(ctx, runID)
	st, _ := args.Get(0).(*models.RunStatus)
	return st, args.Error(1)
}

func (m *MockService) Subscribe(runID string) (*service.Subscription, error) {
	args := m.Called(runID)
	sub, _ := args.Get(0).(*service.Subscription)
	return sub, args.Error(1)
}

func (m *MockService) Cancel(runID string) error { return m.Called(runID).Error(0) }

func (m *MockService) Acknowledge(ctx context.Context, runID string) error {
	return m.Called(ctx, runID).Error(0)
}

func (m *MockService) Stats() map[string]interface{} {
	return m.Called().Get(0).(map[string]interface{})
}

func (m *MockService) Close() { m.Called() }

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.RequestTimeout = 5 * time.Second
	cfg.Server.MaxRequestBodySize = 1 << 20
	return cfg
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	h := NewHandler(new(MockService), nil, testConfig())
	w := do(h, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "available", body["status"])
}

func TestVerify_Sync(t *testing.T) {
	svc := new(MockService)
	svc.On("Verify", mock.Anything, mock.MatchedBy(func(r service.Request) bool {
		return r.ReceiptID == "r-1" && r.ImageRef == "https://example.com/r.jpg" && r.MerchantName == "ACME"
	})).Return(&models.RunStatus{
		RunID: "run-1",
		State: "complete",
		Result: &models.VerificationResult{
			RunID: "run-1", ReceiptID: "r-1", ManipulationScore: 12, VerdictBand: "authentic",
		},
	}, nil)

	h := NewHandler(svc, nil, testConfig())
	w := do(h, http.MethodPost, "/api/v1/verify",
		`{"receipt_id":"r-1","image_url":"https://example.com/r.jpg","merchant_name":"ACME"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res models.VerificationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 12, res.ManipulationScore)
	assert.Equal(t, "authentic", res.VerdictBand)
	svc.AssertExpectations(t)
}

func TestVerify_FailedRunUsesKindStatus(t *testing.T) {
	svc := new(MockService)
	svc.On("Verify", mock.Anything, mock.Anything).Return(&models.RunStatus{
		RunID:   "run-1",
		State:   "failed",
		Failure: &models.FailureResult{RunID: "run-1", ErrorKind: "decode_error", Message: "not an image"},
	}, nil)

	h := NewHandler(svc, nil, testConfig())
	w := do(h, http.MethodPost, "/api/v1/verify", `{"image_base64":"aGVsbG8="}`)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var failure models.FailureResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &failure))
	assert.Equal(t, "decode_error", failure.ErrorKind)
	assert.NotContains(t, w.Body.String(), "manipulation_score")
}

func TestVerify_Async(t *testing.T) {
	svc := new(MockService)
	svc.On("Submit", mock.Anything, mock.Anything).Return("run-9", nil)

	h := NewHandler(svc, nil, testConfig())
	w := do(h, http.MethodPost, "/api/v1/verify", `{"object_key":"s3://receipts/r.jpg","async":true}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	var res models.SubmitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "run-9", res.RunID)
	assert.Equal(t, "/api/v1/runs/run-9/events", res.EventsURL)
	svc.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
}

func TestVerify_Rejections(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		code int
	}{
		{"malformed json", `{"image_url":`, nil, http.StatusBadRequest},
		{"no image", `{"receipt_id":"r-1"}`, nil, http.StatusBadRequest},
		{"bad scheme", `{"image_url":"ftp://example.com/r.jpg"}`, nil, http.StatusBadRequest},
		{"busy", `{"image_url":"https://example.com/r.jpg","async":true}`,
			apperrors.NewBusyError("too many verifications in progress", nil), http.StatusServiceUnavailable},
		{"fetch failure", `{"image_url":"https://example.com/r.jpg","async":true}`,
			apperrors.NewNetworkError("failed to fetch image", nil), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			if tt.err != nil {
				svc.On("Submit", mock.Anything, mock.Anything).Return("", tt.err)
			}
			h := NewHandler(svc, nil, testConfig())
			w := do(h, http.MethodPost, "/api/v1/verify", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
}

func TestVerify_BodyTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxRequestBodySize = 64
	h := NewHandler(new(MockService), nil, cfg)

	body := `{"image_base64":"` + strings.Repeat("A", 200) + `"}`
	w := do(h, http.MethodPost, "/api/v1/verify", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunEndpoints(t *testing.T) {
	svc := new(MockService)
	svc.On("Status", mock.Anything, "run-1").Return(&models.RunStatus{RunID: "run-1", State: "analyzing"}, nil)
	svc.On("Status", mock.Anything, "missing").Return(nil, apperrors.NewNotFoundError("run missing not found", nil))
	svc.On("Cancel", "run-1").Return(nil)
	svc.On("Acknowledge", mock.Anything, "run-1").Return(apperrors.NewConflictError("run run-1 is still in progress", nil)).Once()
	svc.On("Acknowledge", mock.Anything, "run-1").Return(nil)

	h := NewHandler(svc, nil, testConfig())

	w := do(h, http.MethodGet, "/api/v1/runs/run-1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"analyzing"`)

	w = do(h, http.MethodGet, "/api/v1/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(h, http.MethodPost, "/api/v1/runs/run-1/cancel", "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = do(h, http.MethodDelete, "/api/v1/runs/run-1", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(h, http.MethodDelete, "/api/v1/runs/run-1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	svc.AssertExpectations(t)
}

func TestEvents_ReplayThenLive(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	live := make(chan progress.Event, 2)
	live <- progress.Event{RunID: "run-1", Sequence: 3, Stage: "scoring", Progress: 90, Timestamp: ts}
	live <- progress.Event{RunID: "run-1", Sequence: 4, Stage: "complete", Progress: 100, Terminal: true, Timestamp: ts}

	cancelled := false
	svc := new(MockService)
	svc.On("Subscribe", "run-1").Return(&service.Subscription{
		Replay: []progress.Event{
			{RunID: "run-1", Sequence: 1, Stage: "loading", Progress: 5, Timestamp: ts},
			{RunID: "run-1", Sequence: 2, Stage: "analyzing", Progress: 20, Timestamp: ts},
		},
		Live:   live,
		Cancel: func() { cancelled = true },
	}, nil)

	h := NewHandler(svc, nil, testConfig())
	w := do(h, http.MethodGet, "/api/v1/runs/run-1/events", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	out := w.Body.String()
	assert.Equal(t, 4, strings.Count(out, "event:progress"))
	order := []string{`"stage":"loading"`, `"stage":"analyzing"`, `"stage":"scoring"`, `"stage":"complete"`}
	last := -1
	for _, s := range order {
		i := strings.Index(out, s)
		require.Greater(t, i, last, "missing or out of order: %s", s)
		last = i
	}
	assert.True(t, cancelled)
}

func TestEvents_FinishedRunReplaysOnly(t *testing.T) {
	live := make(chan progress.Event)
	svc := new(MockService)
	svc.On("Subscribe", "run-1").Return(&service.Subscription{
		Replay: []progress.Event{{RunID: "run-1", Sequence: 1, Stage: "failed", Terminal: true, Timestamp: time.Now()}},
		Live:   live,
		Cancel: func() {},
	}, nil)
	svc.On("Subscribe", "gone").Return(nil, apperrors.NewNotFoundError("run gone is not active", nil))

	h := NewHandler(svc, nil, testConfig())
	w := do(h, http.MethodGet, "/api/v1/runs/run-1/events", "")
	assert.Equal(t, 1, strings.Count(w.Body.String(), "event:progress"))

	w = do(h, http.MethodGet, "/api/v1/runs/gone/events", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetrics(t *testing.T) {
	svc := new(MockService)
	svc.On("Stats").Return(map[string]interface{}{"runs_active": 2})

	h := NewHandler(svc, nil, testConfig())
	w := do(h, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.Contains(w.Body.Bytes(), []byte(`"runs_active":2`)))
}
