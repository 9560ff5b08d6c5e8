package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/support-pilot/internal/auth"
	"github.com/suPer8Hu/support-pilot/internal/common"
)

type tokenReq struct {
	Client string `json:"client" binding:"required"`
	APIKey string `json:"api_key" binding:"required"`
}

// IssueToken exchanges a client API key for a bearer token.
func (h *Handler) IssueToken(c *gin.Context) {
	var req tokenReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	client := strings.ToLower(strings.TrimSpace(req.Client))
	if !auth.CheckKey(h.Cfg.ClientKeys, client, req.APIKey) {
		common.Fail(c, http.StatusUnauthorized, 40103, "invalid client credentials")
		return
	}

	token, err := auth.SignJWT(client, h.Cfg.OperatorClients[client], h.Cfg.JWTSecret, h.Cfg.TokenTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}
	common.OK(c, gin.H{
		"token":      token,
		"expires_in": int(h.Cfg.TokenTTL.Seconds()),
	})
}
