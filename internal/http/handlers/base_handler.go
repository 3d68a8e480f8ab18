// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"quickcart/internal/modules/order"
)

const (
	codeBadRequest             = "bad_request"
	codeNotFound               = "not_found"
	codeInvalidTransition      = "invalid_transition"
	codeConcurrentModification = "concurrent_modification"
	codeInternal               = "internal"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

// isValidID accepts uuids and the short ids used by fixtures.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, code, msg string) {
	writeJSON(c, status, errorResponse{Error: msg, Code: code})
}

func writeOrderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrBadRequest):
		writeError(c, http.StatusBadRequest, codeBadRequest, err.Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(c, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, order.ErrInvalidTransition):
		writeError(c, http.StatusConflict, codeInvalidTransition, err.Error())
	case errors.Is(err, order.ErrConcurrentModification):
		writeJSON(c, http.StatusConflict, errorResponse{Error: err.Error(), Code: codeConcurrentModification, Retryable: true})
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

// orderID reads and validates the :id path parameter. It writes the 400 itself.
func orderID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, codeBadRequest, "invalid order id")
		return "", false
	}
	return id, true
}
