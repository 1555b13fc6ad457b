package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/qs3c/credit_go_server/internal/pkg/response"
)

const DailyIssuedKey = "dailyIssued"

// DailyCreditIssuer 按需发放每日免费积分
type DailyCreditIssuer interface {
	IssueForUser(ctx context.Context, userID int64) (bool, error)
}

// DailyCredit 积分接口前先补发当天的免费积分，发放失败不影响后续请求
func DailyCredit(issuer DailyCreditIssuer, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := GetUserID(c)
		if !ok {
			response.AuthError(c, "")
			c.Abort()
			return
		}

		issued, err := issuer.IssueForUser(c.Request.Context(), userID)
		if err != nil {
			log.Warn().Err(err).
				Int64("user_id", userID).
				Str("request_id", GetRequestID(c)).
				Msg("daily credit issue failed")
		}
		c.Set(DailyIssuedKey, issued)
		c.Next()
	}
}

// DailyIssued 本次请求是否发放了每日积分
func DailyIssued(c *gin.Context) bool {
	return c.GetBool(DailyIssuedKey)
}
