package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/reschedule-agent/pkg/httputil"
)

// SizeLimitConfig represents size limit configuration
type SizeLimitConfig struct {
	MaxBodySize   int64 // in bytes
	MaxHeaderSize int   // in bytes
	ErrorMessage  string
}

func DefaultSizeLimitConfig() SizeLimitConfig {
	return SizeLimitConfig{
		MaxBodySize:   10 << 20, // 10MB
		MaxHeaderSize: 1 << 14,  // 16KB
		ErrorMessage:  "Request size exceeds limit",
	}
}

// SizeLimit rejects oversized requests up front and caps the body reader for
// requests that do not declare a length.
func SizeLimit(config SizeLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > config.MaxBodySize {
			abortTooLarge(c, fmt.Sprintf("%s: body size exceeds %d bytes", config.ErrorMessage, config.MaxBodySize))
			return
		}

		headerSize := 0
		for name, values := range c.Request.Header {
			headerSize += len(name)
			for _, value := range values {
				headerSize += len(value)
			}
		}
		if headerSize > config.MaxHeaderSize {
			abortTooLarge(c, fmt.Sprintf("%s: header size exceeds %d bytes", config.ErrorMessage, config.MaxHeaderSize))
			return
		}

		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, config.MaxBodySize)
		}
		c.Next()
	}
}

func abortTooLarge(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, httputil.Response{
		Success: false,
		Error: &httputil.Error{
			Code:    http.StatusRequestEntityTooLarge,
			Message: msg,
		},
	})
}
