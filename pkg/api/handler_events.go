package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codetrail/codetrail/pkg/models"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

func (s *Server) handleListEvents(c *gin.Context) {
	projectID, ok := projectIDQuery(c)
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit", defaultEventLimit)
	if !ok {
		return
	}
	if limit < 1 || limit > maxEventLimit {
		badRequest(c, fmt.Sprintf("limit must be between 1 and %d", maxEventLimit))
		return
	}
	offset, ok := intQuery(c, "offset", 0)
	if !ok {
		return
	}
	if offset < 0 {
		badRequest(c, "offset must not be negative")
		return
	}

	filter := models.EventFilter{
		ProjectID: projectID,
		Search:    c.Query("search"),
		Offset:    offset,
		Limit:     limit,
	}
	if raw := c.Query("kind"); raw != "" {
		kind := models.EventKind(raw)
		if !kind.Valid() {
			badRequest(c, "unknown event kind: "+raw)
			return
		}
		filter.Kind = kind
	}

	page, err := s.events.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) handleExportEvents(c *gin.Context) {
	projectID, ok := projectIDQuery(c)
	if !ok {
		return
	}

	body, filename, contentType, err := s.events.Export(c.Request.Context(), projectID, c.Query("format"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, body)
}
