package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/convorag/internal/ai"
	"github.com/xxxsen/convorag/internal/middleware"
	"github.com/xxxsen/convorag/internal/pkg/errcode"
	appErr "github.com/xxxsen/convorag/internal/pkg/errors"
	"github.com/xxxsen/convorag/internal/pkg/response"
	"github.com/xxxsen/convorag/internal/vectorstore"
)

func getUserID(c *gin.Context) string {
	return c.GetString(middleware.ContextUserIDKey)
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	code, msg := errorCode(err)
	logger := logutil.GetLogger(c.Request.Context()).With(
		zap.String("request_id", c.GetString(middleware.ContextRequestIDKey)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("user_id", getUserID(c)),
		zap.Error(err),
	)
	if code == errcode.ErrInternal {
		logger.Error("request failed")
	} else {
		logger.Info("request rejected", zap.Int("code", code))
	}
	response.Error(c, code, msg)
}

func errorCode(err error) (int, string) {
	switch {
	case errors.Is(err, appErr.ErrUnauthorized):
		return errcode.ErrUnauthorized, "unauthorized"
	case errors.Is(err, appErr.ErrForbidden):
		return errcode.ErrForbidden, "forbidden"
	case errors.Is(err, appErr.ErrNotFound):
		return errcode.ErrNotFound, "not found"
	case errors.Is(err, appErr.ErrInvalid):
		return errcode.ErrInvalid, invalidMessage(err)
	case errors.Is(err, appErr.ErrConflict):
		return errcode.ErrConflict, "conflict"
	case errors.Is(err, appErr.ErrTooMany):
		return errcode.ErrTooMany, "too many requests"
	case errors.Is(err, vectorstore.ErrNotConfigured):
		return errcode.ErrVectorStoreUnavailable, "vector store unavailable"
	case errors.Is(err, ai.ErrUnavailable):
		return errcode.ErrAIUnavailable, "ai not configured"
	default:
		return errcode.ErrInternal, "internal error"
	}
}

// invalidMessage exposes validation details, which never carry internals.
func invalidMessage(err error) string {
	if msg := err.Error(); msg != appErr.ErrInvalid.Error() {
		return msg
	}
	return "invalid request"
}
