package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type errorResp struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// bearerAuth rejects requests whose bearer token does not equal token.
func bearerAuth(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		got, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
			c.Header("WWW-Authenticate", `Bearer realm="sidecar"`)
			writeJSON(c, http.StatusUnauthorized, errorResp{
				Error:   "authentication_failed",
				Message: "Authentication required",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
