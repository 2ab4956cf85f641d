package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kevingruber/h5p-cache/internal/config"
	"github.com/kevingruber/h5p-cache/internal/h5p"
)

const (
	userKey   = "user"
	authRealm = `Basic realm="H5P"`
)

// Identify attaches the h5p.User matching the request's Basic credentials.
// Requests without credentials continue anonymously; wrong credentials
// are rejected.
func Identify(users []config.UserAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		username, password, ok := c.Request.BasicAuth()
		if !ok {
			c.Next()
			return
		}

		user := match(users, username, password)
		if user == nil {
			c.Header("WWW-Authenticate", authRealm)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		c.Set(userKey, user)
		c.Set("username", user.ID)
		c.Next()
	}
}

// RequireUser rejects requests that Identify left anonymous.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentUser(c) == nil {
			c.Header("WWW-Authenticate", authRealm)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

// CurrentUser returns the identified user, or nil for anonymous requests.
func CurrentUser(c *gin.Context) *h5p.User {
	v, ok := c.Get(userKey)
	if !ok {
		return nil
	}
	user, _ := v.(*h5p.User)
	return user
}

func match(users []config.UserAuth, username, password string) *h5p.User {
	for _, u := range users {
		nameOK := subtle.ConstantTimeCompare([]byte(username), []byte(u.Username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(u.Password)) == 1
		if nameOK && passOK {
			name := u.Name
			if name == "" {
				name = u.Username
			}
			return &h5p.User{ID: u.Username, Name: name, Email: u.Email, Type: "local"}
		}
	}
	return nil
}
