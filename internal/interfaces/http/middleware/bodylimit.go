package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/storefront/cartsync/internal/interfaces/http/dto"
)

// DefaultBodyLimit is enough for a few thousand cart lines
const DefaultBodyLimit int64 = 1 << 20

// BodyLimit rejects declared bodies over maxBytes with 413 and caps the
// reader for chunked ones, so binding fails instead of buffering without
// bound
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			abortWithError(c, http.StatusRequestEntityTooLarge, dto.ErrCodeTooLarge, "Request body exceeds maximum allowed size")
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
