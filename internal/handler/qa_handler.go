package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/convorag/internal/model"
	"github.com/xxxsen/convorag/internal/pkg/errcode"
	"github.com/xxxsen/convorag/internal/pkg/response"
	"github.com/xxxsen/convorag/internal/service"
)

type QAHandler struct {
	qa *service.QAService
}

func NewQAHandler(qa *service.QAService) *QAHandler {
	return &QAHandler{qa: qa}
}

type askRequest struct {
	Question   string                `json:"question"`
	MaxResults int                   `json:"max_results"`
	History    []model.QAHistoryItem `json:"history"`
}

type findRequest struct {
	Query      string `json:"query"`
	FolderID   string `json:"folder_id"`
	MaxResults int    `json:"max_results"`
}

func (h *QAHandler) AskConversation(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	ans, err := h.qa.AskConversation(c.Request.Context(), getUserID(c), c.Param("id"), req.Question, req.MaxResults, req.History)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, ans)
}

func (h *QAHandler) AskFolder(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	ans, err := h.qa.AskFolder(c.Request.Context(), getUserID(c), c.Param("id"), req.Question, req.MaxResults, req.History)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, ans)
}

// AskGlobal ignores any history in the body.
func (h *QAHandler) AskGlobal(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	ans, err := h.qa.AskGlobal(c.Request.Context(), getUserID(c), req.Question, req.MaxResults)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, ans)
}

func (h *QAHandler) FindConversations(c *gin.Context) {
	var req findRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	matches, err := h.qa.FindConversations(c.Request.Context(), getUserID(c), req.Query, req.FolderID, req.MaxResults)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"conversations": matches})
}

func (h *QAHandler) IndexingStatus(c *gin.Context) {
	status, err := h.qa.GetIndexingStatus(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, status)
}

func (h *QAHandler) Reindex(c *gin.Context) {
	n, err := h.qa.Reindex(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"transcription_id": c.Param("id"), "points": n})
}

func (h *QAHandler) DeleteVectors(c *gin.Context) {
	n, err := h.qa.DeleteVectors(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"transcription_id": c.Param("id"), "deleted": n})
}

func (h *QAHandler) Health(c *gin.Context) {
	response.Success(c, gin.H{"vector_store": h.qa.HealthCheck(c.Request.Context())})
}
