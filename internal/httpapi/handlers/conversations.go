package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/support-pilot/internal/common"
	"github.com/suPer8Hu/support-pilot/internal/conversation"
)

// ownedConversation loads the :id conversation if it belongs to the caller.
func (h *Handler) ownedConversation(c *gin.Context) (*conversation.Conversation, bool) {
	client, ok := clientFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return nil, false
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid conversation id")
		return nil, false
	}
	conv, err := h.Svc.Conversation(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return nil, false
	}
	if conv.ClientName != client {
		common.Fail(c, http.StatusNotFound, 40401, "conversation not found")
		return nil, false
	}
	return conv, true
}

func (h *Handler) GetConversation(c *gin.Context) {
	conv, ok := h.ownedConversation(c)
	if !ok {
		return
	}
	common.OK(c, conv)
}

func (h *Handler) ListMessages(c *gin.Context) {
	conv, ok := h.ownedConversation(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if s := c.Query("before_id"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			beforeID = n
		}
	}

	msgs, err := h.Svc.Transcript(c.Request.Context(), conv.ID, limit, beforeID)
	if err != nil {
		failErr(c, err)
		return
	}

	var next uint64
	if len(msgs) > 0 {
		next = msgs[len(msgs)-1].ID
	}
	common.OK(c, gin.H{
		"conversation_id": conv.ID,
		"messages":        msgs,
		"next_before_id":  next,
	})
}

func (h *Handler) CloseConversation(c *gin.Context) {
	conv, ok := h.ownedConversation(c)
	if !ok {
		return
	}
	closed, err := h.Svc.Close(c.Request.Context(), conv.ID)
	if err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, closed)
}
