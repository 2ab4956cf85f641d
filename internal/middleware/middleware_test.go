package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevingruber/h5p-cache/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testUsers = []config.UserAuth{
	{Username: "ada", Password: "secret", Name: "Ada Lovelace", Email: "ada@example.com"},
	{Username: "bob", Password: "hunter2"},
}

func newAuthRouter() *gin.Engine {
	r := gin.New()
	r.Use(Identify(testUsers))
	r.GET("/whoami", func(c *gin.Context) {
		if user := CurrentUser(c); user != nil {
			c.String(http.StatusOK, user.Name)
			return
		}
		c.String(http.StatusOK, "anonymous")
	})
	r.GET("/private", RequireUser(), func(c *gin.Context) {
		c.String(http.StatusOK, CurrentUser(c).ID)
	})
	return r
}

func TestIdentify(t *testing.T) {
	tests := []struct {
		name       string
		user, pass string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"anonymous", "", "", "/whoami", http.StatusOK, "anonymous"},
		{"named user", "ada", "secret", "/whoami", http.StatusOK, "Ada Lovelace"},
		{"name defaults to username", "bob", "hunter2", "/whoami", http.StatusOK, "bob"},
		{"wrong password", "ada", "nope", "/whoami", http.StatusUnauthorized, ""},
		{"unknown user", "eve", "secret", "/whoami", http.StatusUnauthorized, ""},
		{"private anonymous", "", "", "/private", http.StatusUnauthorized, ""},
		{"private identified", "ada", "secret", "/private", http.StatusOK, "ada"},
	}

	r := newAuthRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.user != "" {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Equal(t, authRealm, w.Header().Get("WWW-Authenticate"))
				return
			}
			assert.Equal(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestRequestLoggerLogsContentID(t *testing.T) {
	var buf bytes.Buffer
	r := gin.New()
	r.Use(RequestLogger(zerolog.New(&buf)))
	r.GET("/s3/:objectName/:contentId", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/s3/demo.h5p/demo", nil))

	out := buf.String()
	assert.Contains(t, out, `"content_id":"demo"`)
	assert.Contains(t, out, `"object_name":"demo.h5p"`)
	assert.Contains(t, out, `"status":404`)
	assert.Contains(t, out, `"level":"warn"`)
}

func TestMetricsMiddlewarePassesThrough(t *testing.T) {
	metrics, err := NewMetrics()
	require.NoError(t, err)

	r := gin.New()
	r.Use(metrics.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, "pong", w.Body.String())
}
