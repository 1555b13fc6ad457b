package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/qs3c/credit_go_server/internal/pkg/jwt"
	"github.com/qs3c/credit_go_server/internal/pkg/response"
)

const UserIDKey = "userID"

// Auth 校验主站签发的登录令牌，把 user_id 写入上下文供积分接口使用
func Auth(jwtSecret string, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := jwt.FromHeader(c.GetHeader("Authorization"))
		if err == nil {
			var claims *jwt.Claims
			if claims, err = jwt.ParseToken(token, jwtSecret); err == nil {
				c.Set(UserIDKey, claims.UserID)
				c.Next()
				return
			}
		}

		log.Debug().Err(err).
			Str("request_id", GetRequestID(c)).
			Str("path", c.FullPath()).
			Msg("request rejected by auth")
		response.AuthError(c, authMessage(err))
		c.Abort()
	}
}

func authMessage(err error) string {
	switch {
	case errors.Is(err, jwt.ErrMissingToken):
		return "请提供认证信息"
	case errors.Is(err, jwt.ErrMalformedHeader):
		return "认证格式错误"
	case errors.Is(err, jwt.ErrExpiredToken):
		return "登录已过期，请重新登录"
	default:
		return "认证失败"
	}
}

// GetUserID 从上下文获取用户 ID
func GetUserID(c *gin.Context) (int64, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return 0, false
	}
	id, ok := userID.(int64)
	return id, ok && id > 0
}
