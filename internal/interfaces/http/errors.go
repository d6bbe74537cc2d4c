package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/club-treasury/internal/domain"
)

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// statusFor maps a domain error to an HTTP status and a stable error code
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrSelfApproval):
		return http.StatusForbidden, "self_approval"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrAlreadyApproved):
		return http.StatusConflict, "already_approved"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, domain.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification"
	case errors.Is(err, domain.ErrLinkConflict):
		return http.StatusConflict, "link_conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// respond writes data on success. A partial batch failure still carries the
// report of the committed chunks and is answered with 207.
func (h *Handlers) respond(c *gin.Context, status int, data interface{}, err error) {
	if err == nil {
		c.JSON(status, Response{Success: true, Data: data})
		return
	}

	var partial *domain.PartialBatchFailure
	if errors.As(err, &partial) && data != nil {
		h.logger.Error("Batch partially failed", "path", c.FullPath(), "failed_chunks", partial.FailedChunks())
		c.JSON(http.StatusMultiStatus, Response{Success: false, Data: data, Error: err.Error(), Code: "partial_batch"})
		return
	}

	h.fail(c, err)
}

// fail writes an error response
func (h *Handlers) fail(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "path", c.FullPath(), "error", err)
		c.JSON(status, Response{Success: false, Error: "internal error", Code: code})
		return
	}
	c.JSON(status, Response{Success: false, Error: err.Error(), Code: code})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg, Code: "validation_failed"})
}
