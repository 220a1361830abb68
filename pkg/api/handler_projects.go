package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codetrail/codetrail/pkg/models"
)

type createProjectRequest struct {
	Name           string   `json:"name"`
	Path           string   `json:"path"`
	Description    string   `json:"description"`
	Active         *bool    `json:"active"`
	IgnorePatterns []string `json:"ignore_patterns"`
	DocPath        string   `json:"feature_doc_path"`
}

func (s *Server) handleCreateProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	project, err := s.projects.Create(c.Request.Context(), models.Project{
		Name:           req.Name,
		Path:           req.Path,
		Description:    req.Description,
		Active:         active,
		IgnorePatterns: req.IgnorePatterns,
		DocPath:        req.DocPath,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

func (s *Server) handleListProjects(c *gin.Context) {
	var activeOnly *bool
	if raw := c.Query("active"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "invalid active filter")
			return
		}
		activeOnly = &v
	}

	projects, err := s.projects.List(c.Request.Context(), activeOnly)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": projects, "total": len(projects)})
}

func (s *Server) handleGetProject(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	project, err := s.projects.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (s *Server) handleUpdateProject(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var upd models.ProjectUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	project, err := s.projects.Update(c.Request.Context(), id, upd)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (s *Server) handleDeleteProject(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := s.projects.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleGetProjectConfig(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	cfg, err := s.projects.GetConfig(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handlePutProjectConfig(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var cfg models.ProjectConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	project, err := s.projects.UpdateConfig(c.Request.Context(), id, cfg)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (s *Server) handleTechnicalDoc(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	rec, err := s.projects.TechnicalDoc(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleRefreshTechnicalDoc(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	rec, err := s.projects.RefreshTechnicalDoc(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
