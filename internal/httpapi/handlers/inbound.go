package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/support-pilot/internal/common"
	"github.com/suPer8Hu/support-pilot/internal/conversation"
)

type inboundReq struct {
	Channel   string            `json:"channel"`
	UserID    string            `json:"user_id" binding:"required"`
	MessageID string            `json:"message_id"`
	Text      string            `json:"text"`
	Fields    map[string]string `json:"fields"`
}

func (r inboundReq) toInbound(client string) conversation.Inbound {
	ch := r.Channel
	if ch == "" {
		ch = "whatsapp"
	}
	return conversation.Inbound{
		Client:    client,
		Channel:   ch,
		UserID:    r.UserID,
		MessageID: r.MessageID,
		Text:      r.Text,
		Fields:    r.Fields,
	}
}

// Inbound runs the turn synchronously and returns the reply.
func (h *Handler) Inbound(c *gin.Context) {
	client, ok := clientFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req inboundReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	res, err := h.Svc.HandleInbound(c.Request.Context(), req.toInbound(client))
	if err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, res)
}

// InboundAsync queues the message for the worker.
func (h *Handler) InboundAsync(c *gin.Context) {
	client, ok := clientFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	if h.Queue == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50303, "async intake disabled")
		return
	}
	var req inboundReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	id, err := h.Queue.PublishInbound(c.Request.Context(), req.toInbound(client))
	if err != nil {
		h.Log.Error("enqueue inbound failed", "client", client, "user_id", req.UserID, "err", err)
		common.Fail(c, http.StatusServiceUnavailable, 50304, "failed to enqueue message")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"code":    0,
		"message": "queued",
		"data":    gin.H{"job_id": id},
	})
}
