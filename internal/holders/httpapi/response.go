package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/tokenholders/internal/holders/engine"
	"github.com/yungbote/tokenholders/internal/holders/ledger"
)

const (
	statusOK    = "ok"
	statusError = "error"

	codeInvalidRange  = "invalid_range"
	codeRangeTooLarge = "range_too_large"
	codeInvalidParam  = "invalid_param"
	codeRemoteQuery   = "remote_query_failed"
	codeCanceled      = "canceled"
	codeInternal      = "internal"
)

type okEnvelope struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
}

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type errorEnvelope struct {
	Status string   `json:"status"`
	Error  APIError `json:"error"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, okEnvelope{Status: statusOK, Data: data})
}

// respondError answers every failure with 400; the code distinguishes the cause.
func respondError(c *gin.Context, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = strings.TrimSpace(err.Error())
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, errorEnvelope{
		Status: statusError,
		Error:  APIError{Message: msg, Code: code},
	})
}

func errorCode(err error) string {
	var rq *ledger.RemoteQueryError
	switch {
	case errors.Is(err, engine.ErrInvalidRange):
		return codeInvalidRange
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return codeCanceled
	case errors.As(err, &rq):
		return codeRemoteQuery
	default:
		return codeInternal
	}
}
