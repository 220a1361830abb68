package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codetrail/codetrail/pkg/models"
)

type ingestConversationRequest struct {
	ProjectID        *int64               `json:"project_id"`
	SessionID        string               `json:"session_id"`
	Provider         string               `json:"ai_provider"`
	Model            string               `json:"ai_model"`
	Timestamp        *time.Time           `json:"timestamp"`
	ConversationType string               `json:"conversation_type"`
	UserPrompt       string               `json:"user_prompt"`
	AIResponse       string               `json:"ai_response"`
	ContextFiles     []string             `json:"context_files"`
	CodeSnippets     []models.CodeSnippet `json:"code_snippets"`
	Metadata         map[string]any       `json:"metadata"`
}

func (s *Server) handleIngestConversation(c *gin.Context) {
	var req ingestConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.Provider == "" || req.UserPrompt == "" {
		badRequest(c, "ai_provider and user_prompt are required")
		return
	}

	conv := models.AIConversation{
		ProjectID:        req.ProjectID,
		SessionID:        req.SessionID,
		Provider:         req.Provider,
		Model:            req.Model,
		ConversationType: req.ConversationType,
		UserPrompt:       req.UserPrompt,
		AIResponse:       req.AIResponse,
		ContextFiles:     req.ContextFiles,
		CodeSnippets:     req.CodeSnippets,
		Metadata:         req.Metadata,
	}
	if req.Timestamp != nil {
		conv.Timestamp = *req.Timestamp
	}

	inserted, err := s.ai.Ingest(c.Request.Context(), conv)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inserted)
}

func (s *Server) handleListConversations(c *gin.Context) {
	projectID, ok := projectIDQuery(c)
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit", defaultEventLimit)
	if !ok {
		return
	}
	if limit < 1 || limit > maxEventLimit {
		badRequest(c, "limit out of range")
		return
	}
	offset, ok := intQuery(c, "offset", 0)
	if !ok {
		return
	}

	page, err := s.ai.List(c.Request.Context(), models.ConversationFilter{
		ProjectID: projectID,
		Provider:  c.Query("ai_provider"),
		Offset:    offset,
		Limit:     limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) handleGetConversation(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	conv, err := s.ai.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) handleConversationTimeline(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	timeline, err := s.ai.Timeline(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, timeline)
}

func (s *Server) handleRematchConversation(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	timeline, err := s.ai.Rematch(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, timeline)
}

func (s *Server) handleAIStats(c *gin.Context) {
	projectID, ok := projectIDQuery(c)
	if !ok {
		return
	}
	stats, err := s.ai.Stats(c.Request.Context(), projectID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
