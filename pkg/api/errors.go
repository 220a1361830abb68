package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codetrail/codetrail/pkg/llm"
	"github.com/codetrail/codetrail/pkg/store"
)

// respondError maps service and store errors to HTTP error responses.
// Validation and not-found outcomes are normal traffic and are not
// logged as severe.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, llm.ErrDisabled):
		c.JSON(http.StatusBadRequest, gin.H{"error": "OPENAI_API_KEY is required for this endpoint"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		slog.Error("Unexpected service error", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// badRequest reports a malformed request body or query parameter.
func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
