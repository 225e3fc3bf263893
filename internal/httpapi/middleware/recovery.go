package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/notes-ai-platform/internal/common"
	"github.com/suPer8Hu/notes-ai-platform/internal/logger"
)

func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.FromContext(c.Request.Context()).Error("panic recovered",
					"panic", rec, "path", c.Request.URL.Path, "stack", string(debug.Stack()))
				common.Fail(c, http.StatusInternalServerError, 50000, "internal error")
			}
		}()
		c.Next()
	}
}
