package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/notes-ai-platform/internal/common"
	"github.com/suPer8Hu/notes-ai-platform/internal/httpapi/handlers"
	"github.com/suPer8Hu/notes-ai-platform/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog())

	r.GET("/ping", h.Ping)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(h.Cfg.JWTSecret))
	authGroup.GET("/me", h.Me)

	// chat sessions
	authGroup.POST("/chat/sessions", h.CreateChatSession)
	authGroup.GET("/chat/sessions", h.ListChatSessions)
	authGroup.GET("/chat/sessions/:session_id", h.GetChatSession)
	authGroup.PATCH("/chat/sessions/:session_id", h.UpdateChatSession)
	authGroup.DELETE("/chat/sessions/:session_id", h.DeleteChatSession)
	authGroup.POST("/chat/sessions/:session_id/messages/batch", h.AppendChatBatch)
	authGroup.GET("/chat/sessions/:session_id/context", h.GetChatContext)

	// workspace items
	v2 := authGroup.Group("/v2/:entity_type")
	v2.POST("", h.CreateItem)
	v2.GET("", h.ListItems)
	v2.GET("/:id", h.GetItem)
	v2.PATCH("/:id", h.UpdateItem)
	v2.DELETE("/:id", h.DeleteItem)
	v2.POST("/:id/move", h.MoveItem)

	// sync
	authGroup.GET("/sync/families/:entity_type", h.GetFamily)
	authGroup.GET("/cache/:entity_type", h.GetCachedFamily)
	authGroup.POST("/sync/trigger", h.TriggerSync)
	authGroup.GET("/sync/status", h.SyncStatus)

	return r
}
