package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"go-receipt-forensics/internal/config"
	apperrors "go-receipt-forensics/internal/errors"
	"go-receipt-forensics/internal/logger"
	"go-receipt-forensics/internal/service"
	"go-receipt-forensics/pkg/models"
	"go-receipt-forensics/pkg/validation"
)

const progressEvent = "progress"

type handler struct {
	svc       service.VerificationService
	validator *validation.RequestValidator
	cfg       *config.Config
}

func NewHandler(svc service.VerificationService, validator *validation.RequestValidator, cfg *config.Config) http.Handler {
	if validator == nil {
		validator = validation.NewRequestValidator()
	}
	h := &handler{svc: svc, validator: validator, cfg: cfg}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", healthCheck)
	r.GET("/metrics", h.metrics)

	api := r.Group("/api/v1")
	api.Use(errorHandler())
	api.POST("/verify", requestSizeLimiter(cfg.Server.MaxRequestBodySize), h.verify)
	api.GET("/runs/:id", h.status)
	api.GET("/runs/:id/events", h.events)
	api.POST("/runs/:id/cancel", h.cancel)
	api.DELETE("/runs/:id", h.acknowledge)

	return r
}

func (h *handler) verify(c *gin.Context) {
	var body models.VerifyRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request format", err)
		return
	}
	if errs := h.validator.Check(body); len(errs) > 0 {
		logger.WithFields(logrus.Fields{
			"receipt_id": body.ReceiptID,
			"errors":     len(errs),
		}).Warn("Rejected verification request")
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":  http.StatusText(http.StatusBadRequest),
			"errors": errs,
		})
		return
	}
	req, err := service.RequestFromModel(body)
	if err != nil {
		_ = c.Error(err)
		return
	}

	if body.Async {
		runID, err := h.svc.Submit(c.Request.Context(), req)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusAccepted, models.SubmitResponse{
			RunID:     runID,
			StatusURL: "/api/v1/runs/" + runID,
			EventsURL: "/api/v1/runs/" + runID + "/events",
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.Server.RequestTimeout)
	defer cancel()
	st, err := h.svc.Verify(ctx, req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	writeStatus(c, st)
}

// writeStatus sends the result of a finished run, or its failure record
// with the status code of the failure kind.
func writeStatus(c *gin.Context, st *models.RunStatus) {
	switch {
	case st.Result != nil:
		c.JSON(http.StatusOK, st.Result)
	case st.Failure != nil:
		c.JSON(apperrors.StatusFor(apperrors.ErrorType(st.Failure.ErrorKind)), st.Failure)
	default:
		c.JSON(http.StatusAccepted, st)
	}
}

func (h *handler) status(c *gin.Context) {
	st, err := h.svc.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// events streams a run's progress as server-sent events: everything
// recorded so far, then live events until the terminal one.
func (h *handler) events(c *gin.Context) {
	sub, err := h.svc.Subscribe(c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	defer sub.Cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	for _, ev := range sub.Replay {
		c.SSEvent(progressEvent, ev)
		if ev.Terminal {
			c.Writer.Flush()
			return
		}
	}
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case ev, ok := <-sub.Live:
			if !ok {
				return
			}
			c.SSEvent(progressEvent, ev)
			c.Writer.Flush()
			if ev.Terminal {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *handler) cancel(c *gin.Context) {
	if err := h.svc.Cancel(c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": c.Param("id"), "status": "cancelling"})
}

func (h *handler) acknowledge(c *gin.Context) {
	if err := h.svc.Acknowledge(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) metrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Stats())
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "available",
		"version": "1.0.0",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Middleware and helper functions
func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status_code": c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          c.ClientIP(),
		}).Debug("Request handled")
	}
}

func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last().Err
			respondError(c, determineStatusCode(err), "request processing failed", err)
		}
	}
}

func determineStatusCode(err error) int {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, code int, message string, err error) {
	entry := logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"message":     message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	})
	if code >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request failed")
	}

	c.AbortWithStatusJSON(code, models.ErrorResponse{
		Error:   statusText(code),
		Message: fmt.Sprintf("%s: %v", message, err),
	})
}

func statusText(code int) string {
	if code == 499 {
		return "Client Closed Request"
	}
	return http.StatusText(code)
}
