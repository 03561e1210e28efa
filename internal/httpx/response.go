// Package httpx holds the response helpers shared by the dev harness
// handlers. Error bodies carry a single "error" field, which is what the
// REST client reports back to callers.
package httpx

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// OK writes v as the 200 response body.
func OK(c *gin.Context, v any) {
	c.JSON(http.StatusOK, v)
}

// Err writes an error response with the given status code.
func Err(c *gin.Context, code int, msg any) {
	c.JSON(code, gin.H{"error": msg})
}
