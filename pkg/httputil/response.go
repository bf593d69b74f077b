package httputil

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/reschedule-agent/pkg/errors"
)

// Response wraps all API responses
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents API error
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RespondWithSuccess sends a success response
func RespondWithSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

// RespondWithError sends an error response
func RespondWithError(c *gin.Context, err error) {
	var statusCode int
	var message string

	if appErr, ok := errors.As(err); ok {
		statusCode = appErr.HTTPStatus()
		message = appErr.Error()
	} else {
		statusCode = http.StatusInternalServerError
		message = "Internal server error"
	}

	if statusCode >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	}

	c.AbortWithStatusJSON(statusCode, Response{
		Success: false,
		Error: &Error{
			Code:    statusCode,
			Message: message,
		},
	})
}
