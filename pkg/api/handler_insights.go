package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleRunSummary(c *gin.Context) {
	projectID, ok := projectIDQuery(c)
	if !ok {
		return
	}
	summary, err := s.insights.RunSummary(c.Request.Context(), projectID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary, "generated_at": time.Now().UTC()})
}

func (s *Server) handleLatestSummary(c *gin.Context) {
	projectID, ok := projectIDQuery(c)
	if !ok {
		return
	}
	evt, err := s.insights.LatestSummary(c.Request.Context(), projectID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, evt)
}

type analyzeChangeRequest struct {
	EventID int64 `json:"event_id"`
}

func (s *Server) handleAnalyzeChange(c *gin.Context) {
	var req analyzeChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.EventID <= 0 {
		badRequest(c, "event_id is required")
		return
	}

	analysis, path, err := s.insights.AnalyzeChange(c.Request.Context(), req.EventID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"event_id": req.EventID, "path": path, "analysis": analysis})
}

func (s *Server) handleImplications(c *gin.Context) {
	projectID, ok := projectIDQuery(c)
	if !ok {
		return
	}
	hours, ok := intQuery(c, "hours", 24)
	if !ok {
		return
	}

	content, err := s.insights.Implications(c.Request.Context(), projectID, hours)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"implications": content, "hours": hours})
}
