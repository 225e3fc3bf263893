package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/notes-ai-platform/internal/auth"
	"github.com/suPer8Hu/notes-ai-platform/internal/common"
)

const UserIDKey = "user_id"

func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(h, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			common.Fail(c, http.StatusUnauthorized, 40101, "missing bearer token")
			return
		}

		uid, err := auth.ParseJWT(strings.TrimSpace(token), secret)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid token")
			return
		}

		c.Set(UserIDKey, uid)
		c.Next()
	}
}
