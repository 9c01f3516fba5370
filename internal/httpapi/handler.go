package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"signal-intel/internal/service"
	"signal-intel/internal/storage"
)

const (
	maxListLimit   = 500
	maxIngestBytes = 4 << 20
)

// Operations is the service surface exposed over HTTP.
type Operations interface {
	Ingest(ctx context.Context, items []storage.RawItem) (int, error)
	Collect(ctx context.Context) service.CollectResult
	Process(ctx context.Context) service.ProcessResult
	Validate(ctx context.Context) service.ValidateResult
	Learn(ctx context.Context) service.LearnResult
	RecentSignals(ctx context.Context, limit int) ([]storage.Signal, error)
	Sources(ctx context.Context) ([]storage.SourceCredibility, error)
}

// Handler serves the ingest, trigger and listing routes.
type Handler struct {
	ops    Operations
	logger zerolog.Logger
}

func NewHandler(ops Operations, logger zerolog.Logger) *Handler {
	return &Handler{ops: ops, logger: logger.With().Str("component", "httpapi").Logger()}
}

// Ingest accepts a JSON array of raw items of at most maxIngestBytes.
func (h *Handler) Ingest(c *gin.Context) {
	ctx := c.Request.Context()

	items, err := service.DecodeIngest(http.MaxBytesReader(c.Writer, c.Request.Body, maxIngestBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "error": fmt.Sprintf("ingest payload exceeds %d bytes", tooLarge.Limit)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	stored, err := h.ops.Ingest(ctx, items)
	if err != nil {
		if errors.Is(err, service.ErrEmptyIngest) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		h.logger.Error().Err(err).Msg("failed to ingest raw items")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "items_ingested": stored})
}

func (h *Handler) TriggerCollect(c *gin.Context) {
	res := h.ops.Collect(c.Request.Context())
	c.JSON(statusFor(res.Success), res)
}

func (h *Handler) TriggerProcess(c *gin.Context) {
	res := h.ops.Process(c.Request.Context())
	c.JSON(statusFor(res.Success), res)
}

func (h *Handler) TriggerValidate(c *gin.Context) {
	res := h.ops.Validate(c.Request.Context())
	c.JSON(statusFor(res.Success), res)
}

func (h *Handler) TriggerLearn(c *gin.Context) {
	res := h.ops.Learn(c.Request.Context())
	c.JSON(statusFor(res.Success), res)
}

// Signals lists recent signals, newest first.
func (h *Handler) Signals(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxListLimit)
	}

	signals, err := h.ops.RecentSignals(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list signals")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list signals"})
		return
	}

	out := make([]SignalView, 0, len(signals))
	for _, sig := range signals {
		out = append(out, newSignalView(sig))
	}
	c.JSON(http.StatusOK, gin.H{"signals": out})
}

// Sources lists source credibility ranked by accuracy.
func (h *Handler) Sources(c *gin.Context) {
	sources, err := h.ops.Sources(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list sources")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sources"})
		return
	}

	out := make([]SourceView, 0, len(sources))
	for _, src := range sources {
		out = append(out, newSourceView(src))
	}
	c.JSON(http.StatusOK, gin.H{"sources": out})
}

func statusFor(success bool) int {
	if success {
		return http.StatusOK
	}
	return http.StatusInternalServerError
}
