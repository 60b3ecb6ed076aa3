// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"movedispatch/internal/modules/move"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts uuids and auth uids: up to 64 letters, digits, '-' or '_'.
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

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeMoveError maps the error kinds to status codes. Unknown errors are
// logged through gin and hidden from the client.
func writeMoveError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, move.ErrValidation):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, move.ErrForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, move.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, move.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, move.ErrInvalidTransition):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, move.ErrUpstream):
		writeError(c, http.StatusBadGateway, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// pathID reads and validates the :id parameter, answering 400 when bad.
func pathID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return "", false
	}
	return id, true
}
