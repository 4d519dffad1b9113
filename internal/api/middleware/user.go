package middleware

import (
	"net/http"
	"strings"

	"recipe-modifier/internal/pkg/common"

	"github.com/gin-gonic/gin"
)

// UserHeader 由上游閘道注入的已驗證使用者 ID
const UserHeader = "X-User-ID"

const userIDKey = "user_id"

// maxUserIDLength 使用者 ID 長度上限
const maxUserIDLength = 128

// RequireUser 要求請求帶有使用者身分
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(UserHeader))
		if userID == "" || len(userID) > maxUserIDLength {
			c.AbortWithStatusJSON(http.StatusUnauthorized, common.ErrUnauthorized.Response(false))
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID 取得已識別的使用者 ID
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
