package openaihttp

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/LubyRuffy/gemb2o"
	"github.com/LubyRuffy/gemb2o/pool"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type adminHandler struct {
	pool        *pool.Pool
	models      []gemb2o.Model
	proxyURL    string
	requireAuth bool
	logger      *zap.Logger
}

func (h *adminHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().Format(time.RFC3339)})
}

func (h *adminHandler) publicStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"timestamp":    time.Now().Format(time.RFC3339),
		"require_auth": h.requireAuth,
	})
}

func (h *adminHandler) status(c *gin.Context) {
	total, available := h.pool.Count()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"accounts":  gin.H{"total": total, "available": available},
		"proxy":     gin.H{"url": h.proxyURL, "available": h.proxyURL != ""},
		"models":    h.models,
	})
}

func (h *adminHandler) resetSessions(c *gin.Context) {
	n := h.pool.ResetAllSessions()
	h.logger.Info("sessions reset", zap.Int("cleared", n))
	c.JSON(http.StatusOK, gin.H{"success": true, "cleared": n})
}

func (h *adminHandler) listAccounts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accounts": h.pool.Snapshot()})
}

type accountInput struct {
	TeamID     *string `json:"team_id"`
	SecureCSES *string `json:"secure_c_ses"`
	HostCOSES  *string `json:"host_c_oses"`
	CSESIdx    *string `json:"csesidx"`
	UserAgent  *string `json:"user_agent"`
}

func (in accountInput) apply(acc *pool.Account) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&acc.TeamID, in.TeamID)
	set(&acc.SecureCSES, in.SecureCSES)
	set(&acc.HostCOSES, in.HostCOSES)
	set(&acc.CSESIdx, in.CSESIdx)
	set(&acc.UserAgent, in.UserAgent)
}

func (h *adminHandler) addAccount(c *gin.Context) {
	var in accountInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	acc := pool.Account{UserAgent: gemb2o.DefaultUserAgent, Available: true}
	in.apply(&acc)
	if acc.SecureCSES == "" || acc.CSESIdx == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "secure_c_ses and csesidx are required"})
		return
	}
	idx := h.pool.Add(acc)
	h.logger.Info("account added", zap.Int("account", idx), zap.String("team_id", acc.TeamID))
	c.JSON(http.StatusOK, gin.H{"success": true, "id": idx})
}

func (h *adminHandler) updateAccount(c *gin.Context) {
	idx, ok := h.accountID(c)
	if !ok {
		return
	}
	var in accountInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.pool.Update(idx, in.apply); err != nil {
		h.writePoolError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *adminHandler) deleteAccount(c *gin.Context) {
	idx, ok := h.accountID(c)
	if !ok {
		return
	}
	if err := h.pool.Delete(idx); err != nil {
		h.writePoolError(c, err)
		return
	}
	h.logger.Info("account deleted", zap.Int("account", idx))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *adminHandler) toggleAccount(c *gin.Context) {
	idx, ok := h.accountID(c)
	if !ok {
		return
	}
	available, err := h.pool.Toggle(idx)
	if err != nil {
		h.writePoolError(c, err)
		return
	}
	h.logger.Info("account toggled", zap.Int("account", idx), zap.Bool("available", available))
	c.JSON(http.StatusOK, gin.H{"success": true, "available": available})
}

func (h *adminHandler) testAccount(c *gin.Context) {
	idx, ok := h.accountID(c)
	if !ok {
		return
	}
	if err := h.pool.Probe(c.Request.Context(), idx); err != nil {
		if errors.Is(err, pool.ErrAccountNotFound) {
			h.writePoolError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "token issued"})
}

func (h *adminHandler) accountID(c *gin.Context) (int, bool) {
	idx, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return 0, false
	}
	return idx, true
}

func (h *adminHandler) writePoolError(c *gin.Context, err error) {
	if errors.Is(err, pool.ErrAccountNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
