package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codetrail/codetrail/pkg/models"
)

// Ingest endpoints are what editor hooks and shell wrappers call, so
// they stay tolerant: only the core field is required and sources and
// models fall back to sensible defaults.

type promptRequest struct {
	Text      string `json:"text"`
	Source    string `json:"source"`
	Model     string `json:"model"`
	ProjectID *int64 `json:"project_id"`
}

func (s *Server) handlePrompt(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.Text == "" {
		badRequest(c, "text is required")
		return
	}
	if req.Source == "" {
		req.Source = "manual"
	}
	if req.Model == "" {
		req.Model = "claude"
	}

	evt, err := s.events.Append(c.Request.Context(), req.ProjectID, "", models.PromptPayload{
		Text:   req.Text,
		Source: req.Source,
		Model:  req.Model,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, evt)
}

type copilotRequest struct {
	Prompt         string `json:"prompt"`
	Response       string `json:"response"`
	Source         string `json:"source"`
	Model          string `json:"model"`
	ConversationID string `json:"conversation_id"`
	ProjectID      *int64 `json:"project_id"`
}

func (s *Server) handleCopilot(c *gin.Context) {
	var req copilotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.Prompt == "" || req.Response == "" {
		badRequest(c, "prompt and response are required")
		return
	}
	if req.Source == "" {
		req.Source = "copilot-chat"
	}
	if req.Model == "" {
		req.Model = "copilot"
	}

	evt, err := s.events.Append(c.Request.Context(), req.ProjectID, "", models.CopilotChatPayload{
		Prompt:         req.Prompt,
		Response:       req.Response,
		Source:         req.Source,
		Model:          req.Model,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, evt)
}

type errorRequest struct {
	Message   string         `json:"message"`
	Context   map[string]any `json:"context"`
	ProjectID *int64         `json:"project_id"`
}

func (s *Server) handleError(c *gin.Context) {
	var req errorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.Message == "" {
		badRequest(c, "message is required")
		return
	}

	evt, err := s.events.Append(c.Request.Context(), req.ProjectID, "", models.ErrorPayload{
		Message: req.Message,
		Context: req.Context,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, evt)
}
