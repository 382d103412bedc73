package utils

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

type APIResponse struct {
	Status    string      `json:"status"`
	Code      int         `json:"code"`
	Kind      string      `json:"kind,omitempty"`
	Retryable bool        `json:"retryable,omitempty"`
	Message   string      `json:"message,omitempty"`
	TraceID   string      `json:"trace_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

func RespondSuccess(c *gin.Context, data interface{}, message string) {
	c.JSON(http.StatusOK, APIResponse{
		Status:  "success",
		Code:    http.StatusOK,
		Message: message,
		TraceID: c.GetString("trace_id"),
		Data:    data,
	})
}

func RespondError(c *gin.Context, code int, message string) {
	c.JSON(code, APIResponse{
		Status:  "error",
		Code:    code,
		Message: message,
		TraceID: c.GetString("trace_id"),
	})
}

// statusForKind maps a ledger error kind onto its HTTP status.
func statusForKind(kind ErrorKind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusForbidden
	case KindInvalidTransition, KindInvalidState, KindInvalidArgument:
		return http.StatusBadRequest
	case KindConflictingTransaction, KindStaleWrite:
		return http.StatusConflict
	case KindGatewayDeclined:
		return http.StatusPaymentRequired
	case KindGatewayTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// HandleServiceError writes err as an API error response. Internal errors are
// logged and replaced by a generic message.
func HandleServiceError(c *gin.Context, err error) {
	HandleServiceErrorWithData(c, err, nil)
}

// HandleServiceErrorWithData is HandleServiceError that also returns data, e.g.
// the failed transaction of a declined charge.
func HandleServiceErrorWithData(c *gin.Context, err error, data interface{}) {
	kind := KindOf(err)
	code := statusForKind(kind)
	message := err.Error()

	if kind == KindInternal {
		slog.ErrorContext(c.Request.Context(), "unhandled service error", "error", err)
		message = "Internal server error"
	}

	c.JSON(code, APIResponse{
		Status:    "error",
		Code:      code,
		Kind:      string(kind),
		Retryable: IsRetryable(err),
		Message:   message,
		TraceID:   c.GetString("trace_id"),
		Data:      data,
	})
}
