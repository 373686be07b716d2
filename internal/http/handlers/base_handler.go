// README: Base handler utilities (JSON helpers, ID parsing, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"freightmatch/internal/modules/matching"
	"freightmatch/internal/modules/request"
	"freightmatch/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, code, msg string) {
	writeJSON(c, status, errorResponse{Error: msg, Code: code})
}

// pathID reads and validates the :id parameter, writing a 400 when invalid.
func pathID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !types.ValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid_id", "invalid id")
		return "", false
	}
	return types.ID(id), true
}

var codes = []struct {
	err  error
	code string
}{
	{matching.ErrMatchNotFound, "match_not_found"},
	{request.ErrNotFound, "request_not_found"},
	{matching.ErrMatchAlreadyFinalized, "match_already_finalized"},
	{matching.ErrRequestAlreadyCommitted, "request_already_committed"},
	{matching.ErrInvalidTransition, "invalid_transition"},
	{matching.ErrConflict, "conflict"},
	{request.ErrConflict, "conflict"},
	{request.ErrNotPending, "request_not_pending"},
	{matching.ErrLockTimeout, "lock_timeout"},
	{matching.ErrMatchingDelayed, "matching_delayed"},
	{matching.ErrInvalidRate, "invalid_rate"},
	{matching.ErrReasonRequired, "reason_required"},
	{request.ErrInvalidBudget, "invalid_budget"},
	{request.ErrInvalidDeadline, "invalid_deadline"},
	{types.ErrInvalidAmount, "invalid_amount"},
	{request.ErrBadRequest, "bad_request"},
}

func errorCode(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// writeDomainError maps service errors onto status codes. Transient failures
// carry Retry-After.
func writeDomainError(c *gin.Context, err error) {
	switch matching.KindOf(err) {
	case matching.KindValidation:
		writeError(c, http.StatusBadRequest, errorCode(err), err.Error())
	case matching.KindNotFound:
		writeError(c, http.StatusNotFound, errorCode(err), err.Error())
	case matching.KindState:
		writeError(c, http.StatusConflict, errorCode(err), err.Error())
	case matching.KindTransient:
		retry := "1"
		if errors.Is(err, matching.ErrMatchingDelayed) {
			retry = "30"
		}
		c.Header("Retry-After", retry)
		writeError(c, http.StatusServiceUnavailable, errorCode(err), err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal", "internal error")
	}
}
