package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kevingruber/h5p-cache/internal/h5p"
	"github.com/kevingruber/h5p-cache/internal/middleware"
	"github.com/kevingruber/h5p-cache/internal/player"
	"github.com/kevingruber/h5p-cache/internal/telemetry"
)

// PlayHandler serves player pages.
type PlayHandler struct {
	syncer    Syncer
	renderer  player.Renderer
	localizer Localizer
	logger    zerolog.Logger
	metrics   *Metrics
}

// NewPlayHandler creates a new play handler.
func NewPlayHandler(syncer Syncer, renderer player.Renderer, localizer Localizer, logger zerolog.Logger) (*PlayHandler, error) {
	metrics, err := NewMetrics()
	if err != nil {
		return nil, err
	}

	return &PlayHandler{
		syncer:    syncer,
		renderer:  renderer,
		localizer: localizer,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// PlayFromStore handles GET /s3/:objectName/:contentId. The content is
// synced from the object store on first use, then rendered with the
// resize script for iframe embedding.
func (h *PlayHandler) PlayFromStore(c *gin.Context) {
	ctx := c.Request.Context()
	contentID := c.Param("contentId")
	objectName := c.Param("objectName")
	if contentID == "" {
		c.Status(http.StatusNotFound)
		return
	}
	if err := h5p.ValidateContentID(contentID); err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.syncer.Ensure(ctx, contentID, objectName); err != nil {
		h.fail(c, "sync", syncStatus(err), err)
		return
	}

	page, err := h.renderer.Render(ctx, contentID, middleware.CurrentUser(c), h.localizer.Locale(c), player.OptionsFromQuery(c.Request.URL.Query()))
	if err != nil {
		h.fail(c, "render", http.StatusInternalServerError, err)
		return
	}

	h.metrics.Renders.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "store")))
	writeHTML(c, http.StatusOK, player.InjectResizeScript(page))
}

// Play handles GET {base_path}/:contentId for content already in the cache.
func (h *PlayHandler) Play(c *gin.Context) {
	ctx := c.Request.Context()
	contentID := c.Param("contentId")
	if err := h5p.ValidateContentID(contentID); err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.renderer.Render(ctx, contentID, middleware.CurrentUser(c), h.localizer.Locale(c), player.OptionsFromQuery(c.Request.URL.Query()))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, player.ErrContentNotFound) {
			status = http.StatusNotFound
		}
		h.fail(c, "render", status, err)
		return
	}

	h.metrics.Renders.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "cache")))
	writeHTML(c, http.StatusOK, page)
}

// fail writes the error text with status. Server errors are reported.
func (h *PlayHandler) fail(c *gin.Context, stage string, status int, err error) {
	ctx := c.Request.Context()
	h.metrics.RenderFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))

	event := h.logger.Warn()
	if status >= http.StatusInternalServerError {
		event = h.logger.Error()
		telemetry.CaptureError(ctx, err)
	}
	event.Err(err).Str("content_id", c.Param("contentId")).Str("stage", stage).Msg("play request failed")

	c.Error(err)
	c.String(status, err.Error())
}
