package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleSearch serves GET /api/search, Layer 1 of progressive disclosure
// (§4.3, §6.1).
func (s *Server) handleSearch(c *gin.Context) {
	query := c.Query("q")
	project := c.Query("project")
	limit := queryIntDefault(c, "limit", 20)
	offset := queryIntDefault(c, "offset", 0)

	rows, err := s.search.SearchIndex(query, project)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "searching: "+err.Error())
		return
	}

	total := len(rows)
	end := offset + limit
	if offset > total {
		offset = total
	}
	if end > total {
		end = total
	}
	page := rows[offset:end]

	c.JSON(http.StatusOK, gin.H{"results": page, "total": total, "hasMore": end < total})
}
