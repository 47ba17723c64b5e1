package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/convorag/internal/pkg/errcode"
	"github.com/xxxsen/convorag/internal/pkg/jwt"
	"github.com/xxxsen/convorag/internal/pkg/response"
)

const ContextUserIDKey = "user_id"

// JWTAuth verifies bearer tokens issued by the account service and stores
// the caller's user id on the context.
func JWTAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Abort(c, errcode.ErrUnauthorized, "missing authorization")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Abort(c, errcode.ErrUnauthorized, "invalid authorization")
			return
		}
		claims, err := jwt.ParseToken(strings.TrimSpace(parts[1]), secret)
		if err != nil {
			logutil.GetLogger(c.Request.Context()).Debug("reject token", zap.Error(err))
			response.Abort(c, errcode.ErrUnauthorized, "invalid token")
			return
		}
		c.Set(ContextUserIDKey, claims.User())
		c.Next()
	}
}
