package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/convorag/internal/middleware"
)

type RouterDeps struct {
	QA        *QAHandler
	JWTSecret []byte
	// AskWindow is the per-user minimum spacing of ask requests; zero
	// disables the limiter.
	AskWindow time.Duration
	Metrics   http.Handler
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/health", deps.QA.Health)
	if deps.Metrics != nil {
		api.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.JWTSecret))
	askGroup := authGroup.Group("")
	askGroup.Use(middleware.RateLimit(deps.AskWindow))
	askGroup.POST("/transcripts/:id/ask", deps.QA.AskConversation)
	askGroup.POST("/folders/:id/ask", deps.QA.AskFolder)
	askGroup.POST("/ask", deps.QA.AskGlobal)
	askGroup.POST("/conversations/search", deps.QA.FindConversations)

	authGroup.GET("/transcripts/:id/index", deps.QA.IndexingStatus)
	authGroup.POST("/transcripts/:id/reindex", deps.QA.Reindex)
	authGroup.DELETE("/transcripts/:id/vectors", deps.QA.DeleteVectors)
}
