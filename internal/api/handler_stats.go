package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleStats serves GET /api/stats (§6.1).
func (s *Server) handleStats(c *gin.Context) {
	project := c.Query("project")
	stats, err := s.store.ProjectStats(project)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "loading stats: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats, "project": project})
}
