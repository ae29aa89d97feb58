package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/remote-agent-terminal/httpterm/internal/model"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes returned in ErrorDetail.Code.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeResource        = "RESOURCE_ERROR"
	CodeIO              = "IO_ERROR"
	CodeShuttingDown    = "SHUTTING_DOWN"
	CodeStoreDisabled   = "STORE_DISABLED"
	CodeInternal        = "INTERNAL_ERROR"
)

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.AbortWithStatusJSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeError maps a domain error to its HTTP status and code.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidSessionID), errors.Is(err, model.ErrInvalidSize):
		sendError(c, http.StatusBadRequest, CodeValidation, err.Error())
	case errors.Is(err, model.ErrSessionNotFound):
		// An unknown session is a client error, not a missing route.
		sendError(c, http.StatusBadRequest, CodeSessionNotFound, err.Error())
	case errors.Is(err, model.ErrResource):
		sendError(c, http.StatusInternalServerError, CodeResource, err.Error())
	case errors.Is(err, model.ErrIO):
		sendError(c, http.StatusInternalServerError, CodeIO, err.Error())
	case errors.Is(err, model.ErrShuttingDown):
		sendError(c, http.StatusServiceUnavailable, CodeShuttingDown, err.Error())
	case errors.Is(err, model.ErrStoreDisabled):
		sendError(c, http.StatusNotFound, CodeStoreDisabled, err.Error())
	default:
		sendError(c, http.StatusInternalServerError, CodeInternal, err.Error())
	}
}
