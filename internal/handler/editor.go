package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kevingruber/h5p-cache/internal/cache"
	"github.com/kevingruber/h5p-cache/internal/editor"
	"github.com/kevingruber/h5p-cache/internal/h5p"
	"github.com/kevingruber/h5p-cache/internal/middleware"
)

const (
	malformedRequest = "Malformed request"
	goBackLink       = `<br/><a href="javascript:window.location=document.referrer">Go Back</a>`
)

// EditorHandler serves the authoring routes.
type EditorHandler struct {
	editor    editor.Editor
	localizer Localizer
	logger    zerolog.Logger
}

// NewEditorHandler creates a new editor handler.
func NewEditorHandler(ed editor.Editor, localizer Localizer, logger zerolog.Logger) *EditorHandler {
	return &EditorHandler{editor: ed, localizer: localizer, logger: logger}
}

type saveRequest struct {
	Params *struct {
		Params   json.RawMessage `json:"params"`
		Metadata json.RawMessage `json:"metadata"`
	} `json:"params"`
	Library string `json:"library"`
}

func (r saveRequest) complete() bool {
	return r.Params != nil && present(r.Params.Params) && present(r.Params.Metadata) && r.Library != ""
}

func present(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// Edit handles GET /edit/:contentId.
func (h *EditorHandler) Edit(c *gin.Context) {
	h.render(c, c.Param("contentId"))
}

// New handles GET /new.
func (h *EditorHandler) New(c *gin.Context) {
	h.render(c, "")
}

func (h *EditorHandler) render(c *gin.Context, contentID string) {
	page, err := h.editor.Render(c.Request.Context(), contentID, h.localizer.Locale(c), middleware.CurrentUser(c))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, cache.ErrNotFound) {
			status = http.StatusNotFound
		} else if errors.Is(err, h5p.ErrInvalidContentID) {
			status = http.StatusBadRequest
		}
		h.logger.Warn().Err(err).Str("content_id", contentID).Msg("failed to render editor")
		c.String(status, err.Error())
		return
	}
	writeHTML(c, http.StatusOK, page)
}

// Update handles POST /edit/:contentId.
func (h *EditorHandler) Update(c *gin.Context) {
	h.save(c, c.Param("contentId"))
}

// Create handles POST /new.
func (h *EditorHandler) Create(c *gin.Context) {
	h.save(c, "")
}

func (h *EditorHandler) save(c *gin.Context, contentID string) {
	var req saveRequest
	user := middleware.CurrentUser(c)
	if err := c.ShouldBindJSON(&req); err != nil || !req.complete() || user == nil {
		c.String(http.StatusBadRequest, malformedRequest)
		return
	}

	id, err := h.editor.SaveOrUpdate(c.Request.Context(), contentID, req.Params.Params, req.Params.Metadata, req.Library, user)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, editor.ErrInvalidInput) || errors.Is(err, h5p.ErrInvalidContentID) {
			status = http.StatusBadRequest
		}
		h.logger.Error().Err(err).Str("content_id", contentID).Msg("failed to save content")
		c.String(status, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"contentId": id})
}

// Delete handles GET /delete/:contentId.
func (h *EditorHandler) Delete(c *gin.Context) {
	contentID := c.Param("contentId")
	if err := h.editor.Delete(c.Request.Context(), contentID, middleware.CurrentUser(c)); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, cache.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, h5p.ErrInvalidContentID):
			status = http.StatusBadRequest
		default:
			h.logger.Error().Err(err).Str("content_id", contentID).Msg("failed to delete content")
		}
		writeHTML(c, status,
			fmt.Sprintf("Error deleting content with id %s: %s%s", html.EscapeString(contentID), html.EscapeString(err.Error()), goBackLink))
		return
	}

	writeHTML(c, http.StatusOK,
		fmt.Sprintf("Content %s successfully deleted.%s", html.EscapeString(contentID), goBackLink))
}
