package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/tokenholders/internal/holders/config"
	"github.com/yungbote/tokenholders/internal/holders/engine"
	"github.com/yungbote/tokenholders/internal/platform/ctxutil"
	"github.com/yungbote/tokenholders/internal/platform/logger"
)

// Resolver is the query surface the handlers need from the engine.
type Resolver interface {
	ResolveRange(ctx context.Context, from, to uint64) ([]engine.HolderDetails, error)
	ResolveHolder(ctx context.Context, owner string) (engine.HolderDetails, error)
}

type HolderHandler struct {
	log   *logger.Logger
	res   Resolver
	query config.QueryConfig
}

func NewHolderHandler(log *logger.Logger, res Resolver, query config.QueryConfig) *HolderHandler {
	return &HolderHandler{log: log, res: res, query: query}
}

// DefaultRange serves GET /: the configured range, no parameters.
func (h *HolderHandler) DefaultRange(c *gin.Context) {
	h.serveRange(c, h.query.DefaultFrom, h.query.DefaultTo)
}

// Range serves GET /v1/holders?from=&to=, falling back to the configured bounds.
func (h *HolderHandler) Range(c *gin.Context) {
	from, err := uintParam(c, "from", h.query.DefaultFrom)
	if err != nil {
		respondError(c, codeInvalidParam, err)
		return
	}
	to, err := uintParam(c, "to", h.query.DefaultTo)
	if err != nil {
		respondError(c, codeInvalidParam, err)
		return
	}
	if from <= to && !config.WithinSpan(from, to, h.query.MaxRangeSpan) {
		respondError(c, codeRangeTooLarge, fmt.Errorf("range [%d, %d] exceeds %d token ids", from, to, h.query.MaxRangeSpan))
		return
	}
	h.serveRange(c, from, to)
}

// Holder serves GET /v1/holders/:owner.
func (h *HolderHandler) Holder(c *gin.Context) {
	owner := strings.TrimSpace(c.Param("owner"))
	details, err := h.res.ResolveHolder(c.Request.Context(), owner)
	if err != nil {
		h.fail(c, err, "owner", owner)
		return
	}
	respondOK(c, details)
}

func (h *HolderHandler) serveRange(c *gin.Context, from, to uint64) {
	details, err := h.res.ResolveRange(c.Request.Context(), from, to)
	if err != nil {
		h.fail(c, err, "from", from, "to", to)
		return
	}
	respondOK(c, details)
}

func (h *HolderHandler) fail(c *gin.Context, err error, kv ...interface{}) {
	code := errorCode(err)
	fields := append(ctxutil.LogFields(c.Request.Context()), "code", code, "error", err)
	h.log.Warn("holder query failed", append(fields, kv...)...)
	respondError(c, code, err)
}

func uintParam(c *gin.Context, name string, def uint64) (uint64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("query parameter %q must be a non-negative integer", name)
	}
	return v, nil
}

func healthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
