package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/notes-ai-platform/internal/chat"
	"github.com/suPer8Hu/notes-ai-platform/internal/common"
	"github.com/suPer8Hu/notes-ai-platform/internal/config"
	"github.com/suPer8Hu/notes-ai-platform/internal/httpapi/middleware"
	"github.com/suPer8Hu/notes-ai-platform/internal/syncqueue"
	"github.com/suPer8Hu/notes-ai-platform/internal/workspace"
	"gorm.io/gorm"
)

type Handler struct {
	DB        *gorm.DB
	Cfg       config.Config
	ChatSvc   *chat.Service
	Workspace *workspace.Service
	Fetchers  *syncqueue.Registry
	Cache     syncqueue.Cache
	Notifier  syncqueue.Notifier
	// Queue is only set when the sync queue runs inside this process.
	Queue *syncqueue.Queue
}

func (h *Handler) Ping(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "ok"
	if h.DB != nil {
		if sqlDB, err := h.DB.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			dbStatus = "down"
		}
	}
	common.OK(c, gin.H{"pong": true, "db": dbStatus})
}

func (h *Handler) Me(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	common.OK(c, gin.H{"user_id": uid})
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

// mustUserID writes a 401 and returns false when the request has no user.
func mustUserID(c *gin.Context) (uint64, bool) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
	}
	return uid, ok
}
