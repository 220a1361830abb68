package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// idParam parses the :id path parameter. On failure it writes the 400
// response and returns false.
func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid id")
		return 0, false
	}
	return id, true
}

// projectIDQuery parses the optional ?project_id= query parameter.
func projectIDQuery(c *gin.Context) (*int64, bool) {
	raw := c.Query("project_id")
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid project_id")
		return nil, false
	}
	return &id, true
}

// intQuery parses an optional integer query parameter with a default.
func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return n, true
}
