package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kevingruber/h5p-cache/internal/contentsync"
)

// Syncer is the part of the sync pipeline the handlers depend on.
type Syncer interface {
	Ensure(ctx context.Context, contentID, objectName string) (*contentsync.Entry, error)
	Purge(ctx context.Context, contentID string) error
}

const defaultLocale = "en"

// Localizer picks the locale pages are rendered in.
type Localizer struct {
	// Language is a fixed locale or "auto".
	Language string
}

// Locale returns the configured language, or with "auto" the first
// Accept-Language tag of the request.
func (l Localizer) Locale(c *gin.Context) string {
	if l.Language != "" && l.Language != "auto" {
		return l.Language
	}
	header := c.GetHeader("Accept-Language")
	tag, _, _ := strings.Cut(header, ",")
	tag, _, _ = strings.Cut(tag, ";")
	tag = strings.TrimSpace(tag)
	if tag == "" || tag == "*" {
		return defaultLocale
	}
	return tag
}

func writeHTML(c *gin.Context, status int, page string) {
	c.Data(status, "text/html; charset=utf-8", []byte(page))
}

// syncStatus maps a pipeline error to a response status.
func syncStatus(err error) int {
	if errors.Is(err, contentsync.ErrValidation) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
