package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/support-pilot/internal/common"
	"github.com/suPer8Hu/support-pilot/internal/config"
	"github.com/suPer8Hu/support-pilot/internal/conversation"
	"github.com/suPer8Hu/support-pilot/internal/httpapi/middleware"
	"github.com/suPer8Hu/support-pilot/internal/logger"
	"github.com/suPer8Hu/support-pilot/internal/policy"
)

// InboundQueue hands messages to the worker.
type InboundQueue interface {
	PublishInbound(ctx context.Context, in conversation.Inbound) (string, error)
}

type Handler struct {
	Cfg      config.Config
	Svc      *conversation.Service
	Policies *policy.Index
	// Queue is nil when async intake is disabled.
	Queue InboundQueue
	Log   *logger.Logger
}

func NewHandler(cfg config.Config, svc *conversation.Service, policies *policy.Index, queue InboundQueue, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{Cfg: cfg, Svc: svc, Policies: policies, Queue: queue, Log: log}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func clientFromContext(c *gin.Context) (string, bool) {
	v := c.GetString(middleware.ClientKey)
	return v, v != ""
}

// failErr maps service errors onto the response envelope.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, conversation.ErrInvalidInbound):
		common.Fail(c, http.StatusBadRequest, 10002, err.Error())
	case errors.Is(err, conversation.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "conversation not found")
	case errors.Is(err, conversation.ErrStoreUnavailable):
		common.Fail(c, http.StatusServiceUnavailable, 50301, "session store unavailable, retry later")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		common.Fail(c, http.StatusServiceUnavailable, 50302, "request timed out")
	default:
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}
