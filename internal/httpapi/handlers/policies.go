package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/support-pilot/internal/common"
	"github.com/suPer8Hu/support-pilot/internal/policy"
)

// ReloadPolicies swaps in a freshly loaded snapshot. Turns already running
// finish on the old one.
func (h *Handler) ReloadPolicies(c *gin.Context) {
	s, err := h.Policies.Reload()
	if err != nil {
		h.Log.Warn("policy reload rejected", "err", err)
		var sv *policy.SchemaViolation
		if errors.As(err, &sv) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"code":    42201,
				"message": "policy schema violation",
				"data":    gin.H{"problems": sv.Problems},
			})
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to reload policies")
		return
	}
	h.Log.Info("policies reloaded", "version", s.Version, "topics", len(s.Topics()))
	common.OK(c, gin.H{
		"version":   s.Version,
		"loaded_at": s.LoadedAt,
		"topics":    len(s.Topics()),
	})
}

func (h *Handler) ListTopics(c *gin.Context) {
	client, _ := clientFromContext(c)
	s := h.Policies.Current()
	type topicView struct {
		ID      string   `json:"id"`
		Title   string   `json:"title"`
		Intents []string `json:"intents"`
	}
	out := []topicView{}
	for _, t := range s.TopicsFor(client) {
		v := topicView{ID: t.ID, Title: t.Title}
		for _, in := range t.Intents {
			v.Intents = append(v.Intents, in.Name)
		}
		out = append(out, v)
	}
	common.OK(c, gin.H{"version": s.Version, "topics": out})
}
