package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Khan-Nahida123/anpr-system/internal/config"
	"github.com/Khan-Nahida123/anpr-system/internal/domain/violation"
	"github.com/Khan-Nahida123/anpr-system/internal/repository"
	"github.com/Khan-Nahida123/anpr-system/internal/service"
)

type Handler struct {
	pipeline *service.PipelineService
	config   *config.Config
	log      zerolog.Logger
}

func NewHandler(
	pipeline *service.PipelineService,
	cfg *config.Config,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		pipeline: pipeline,
		config:   cfg,
		log:      log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Public endpoints
	public := r.Group("/api/v1")
	{
		public.POST("/readings", h.submitReading)
		public.GET("/violations", h.listViolations)
		public.GET("/violations/:id", h.getViolation)
	}

	// Operator endpoints
	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.GET("/quarantine", h.listQuarantined)
		protected.POST("/violations/:id/notify", h.renotify)
	}
}

func (h *Handler) submitReading(c *gin.Context) {
	var reading violation.PlateReading
	if err := c.ShouldBindJSON(&reading); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	if reading.ObservedAt.IsZero() {
		reading.ObservedAt = time.Now()
	}

	result, err := h.pipeline.Process(c.Request.Context(), reading)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(result))
}

func (h *Handler) listViolations(c *gin.Context) {
	var plateQuery *string
	if plate := strings.TrimSpace(c.Query("plate")); plate != "" {
		plateQuery = &plate
	}

	var from, to *string
	if f := strings.TrimSpace(c.Query("from")); f != "" {
		from = &f
	}
	if t := strings.TrimSpace(c.Query("to")); t != "" {
		to = &t
	}

	violations, err := h.pipeline.FindViolations(c.Request.Context(), plateQuery, from, to, queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(violations))
}

func (h *Handler) getViolation(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid violation id"))
		return
	}

	v, attempts, err := h.pipeline.Violation(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":     v,
		"attempts": attempts,
	})
}

func (h *Handler) renotify(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid violation id"))
		return
	}

	outcome, err := h.pipeline.Renotify(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"violation_id": id,
		"outcome":      outcome,
	})
}

func (h *Handler) listQuarantined(c *gin.Context) {
	quarantined, err := h.pipeline.Quarantined(c.Request.Context(), queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(quarantined))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, repository.ErrStorageUnavailable):
		h.log.Error().Err(err).Msg("storage unavailable")
		c.JSON(http.StatusServiceUnavailable, errorResponse("storage unavailable, retry later"))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
