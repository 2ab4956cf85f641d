package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kevingruber/h5p-cache/internal/cache"
	"github.com/kevingruber/h5p-cache/internal/storage"
)

// EntryLister lists the published cache entries.
type EntryLister interface {
	List() ([]string, error)
}

// AdminHandler exposes object store and cache diagnostics.
type AdminHandler struct {
	store         storage.ObjectStore
	entries       EntryLister
	syncer        Syncer
	maxUploadSize int64
	logger        zerolog.Logger
}

// NewAdminHandler creates a new admin handler. Uploads larger than
// maxUploadSize are rejected.
func NewAdminHandler(store storage.ObjectStore, entries EntryLister, syncer Syncer, maxUploadSize int64, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		store:         store,
		entries:       entries,
		syncer:        syncer,
		maxUploadSize: maxUploadSize,
		logger:        logger,
	}
}

// ListBuckets handles GET /admin/buckets.
func (h *AdminHandler) ListBuckets(c *gin.Context) {
	buckets, err := h.store.ListBuckets(c.Request.Context())
	if err != nil {
		h.internalError(c, err, "failed to list buckets")
		return
	}
	c.JSON(http.StatusOK, gin.H{"buckets": buckets})
}

// ListObjects handles GET /admin/objects?bucket=.
func (h *AdminHandler) ListObjects(c *gin.Context) {
	objects, err := h.store.ListObjects(c.Request.Context(), c.Query("bucket"))
	if err != nil {
		h.internalError(c, err, "failed to list objects")
		return
	}
	c.JSON(http.StatusOK, gin.H{"objects": objects})
}

// PutObject handles PUT /admin/objects/*key. Objects are public-read
// unless ?visibility=private is given.
func (h *AdminHandler) PutObject(c *gin.Context) {
	key := objectKey(c)
	if key == "" {
		c.Status(http.StatusBadRequest)
		return
	}

	size := c.Request.ContentLength
	if size < 0 {
		c.Status(http.StatusLengthRequired)
		return
	}
	if h.maxUploadSize > 0 && size > h.maxUploadSize {
		c.Status(http.StatusRequestEntityTooLarge)
		return
	}

	visibility := storage.PublicRead
	if c.Query("visibility") == storage.Private.String() {
		visibility = storage.Private
	}

	url, err := h.store.PutObject(c.Request.Context(), key, c.Request.Body, size, visibility)
	if err != nil {
		h.internalError(c, err, "failed to upload object")
		return
	}

	h.logger.Info().Str("key", key).Int64("size", size).Str("visibility", visibility.String()).Msg("object uploaded")
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// DeleteObject handles DELETE /admin/objects/*key.
func (h *AdminHandler) DeleteObject(c *gin.Context) {
	key := objectKey(c)
	if key == "" {
		c.Status(http.StatusBadRequest)
		return
	}

	if err := h.store.DeleteObject(c.Request.Context(), key); err != nil {
		h.internalError(c, err, "failed to delete object")
		return
	}
	c.Status(http.StatusNoContent)
}

// ListCache handles GET /admin/cache.
func (h *AdminHandler) ListCache(c *gin.Context) {
	ids, err := h.entries.List()
	if err != nil {
		h.internalError(c, err, "failed to list cache entries")
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": ids})
}

// PurgeCache handles DELETE /admin/cache/:contentId.
func (h *AdminHandler) PurgeCache(c *gin.Context) {
	contentID := c.Param("contentId")
	if err := h.syncer.Purge(c.Request.Context(), contentID); err != nil {
		switch {
		case errors.Is(err, cache.ErrNotFound):
			c.Status(http.StatusNotFound)
		case syncStatus(err) == http.StatusBadRequest:
			c.String(http.StatusBadRequest, err.Error())
		default:
			h.internalError(c, err, "failed to purge cache entry")
		}
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) internalError(c *gin.Context, err error, msg string) {
	h.logger.Error().Err(err).Msg(msg)
	c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func objectKey(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("key"), "/")
}
