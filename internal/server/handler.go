// internal/server/handler.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/metrics"
	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/models"
	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/service"
)

// unexpectedBody is the only failure response the ingress ever sees.
var unexpectedBody = gin.H{"__type": "UnexpectedException"}

type Reconciler interface {
	Reconcile(ctx context.Context, env models.Envelope) (service.Outcome, error)
}

// Archiver keeps the raw body of a failed envelope.
type Archiver interface {
	Archive(ctx context.Context, id string, body []byte) error
}

type Handler struct {
	reconciler Reconciler
	archiver   Archiver
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

type HandlerOption func(*Handler)

func WithArchiver(a Archiver) HandlerOption {
	return func(h *Handler) { h.archiver = a }
}

func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

func NewHandler(reconciler Reconciler, logger *zap.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{reconciler: reconciler, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the ingress routes.
func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/", h.HandleEvent)
	r.GET("/status", h.Status)
}

// HandleEvent reconciles one envelope. Success, including ignored
// envelopes, is an empty 200; every failure is the same opaque 500 so the
// ingress retries.
func (h *Handler) HandleEvent(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.fail(c, body, err)
		return
	}

	var env models.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		h.fail(c, body, fmt.Errorf("%w: decode envelope: %v", service.ErrValidationFailed, err))
		return
	}

	outcome, err := h.reconciler.Reconcile(c.Request.Context(), env)
	if err != nil {
		h.fail(c, body, err)
		return
	}

	h.count(string(outcome))
	c.Status(http.StatusOK)
}

func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

func (h *Handler) fail(c *gin.Context, body []byte, err error) {
	class := service.Classify(err)
	requestID := c.GetString(RequestIDKey)

	h.logger.Error("failed to reconcile envelope",
		zap.String("request_id", requestID),
		zap.String("class", class),
		zap.ByteString("envelope", body),
		zap.Error(err),
	)
	h.count(class)

	if h.archiver != nil && len(body) > 0 {
		if archiveErr := h.archiver.Archive(c.Request.Context(), requestID, body); archiveErr != nil {
			h.logger.Warn("could not archive failed envelope", zap.String("request_id", requestID), zap.Error(archiveErr))
		}
	}

	c.JSON(http.StatusInternalServerError, unexpectedBody)
}

func (h *Handler) count(outcome string) {
	if h.metrics != nil {
		h.metrics.Envelopes.WithLabelValues(outcome).Inc()
	}
}
