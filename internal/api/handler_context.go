package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/open-mem/cmem-worker/internal/contextbuilder"
)

// contextObservationCandidates bounds how many recent observations are
// fetched as input to the context builder before its own budget and
// type-priority trimming apply.
const contextObservationCandidates = 200

// handleGetContext serves GET /api/context (§6.1, §4.7).
func (s *Server) handleGetContext(c *gin.Context) {
	project := c.Query("project")
	if project == "" {
		writeError(c, http.StatusBadRequest, "project is required")
		return
	}

	maxTokens := s.cfg.Context.MaxTokens
	if limitStr := c.Query("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			maxTokens = n
		}
	}

	observations, err := s.store.ListObservations(project, contextObservationCandidates, 0)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "loading observations: "+err.Error())
		return
	}

	result, err := contextbuilder.Build(s.store, observations, contextbuilder.Options{
		Project:         project,
		MaxTokens:       maxTokens,
		MaxSessions:     s.cfg.Context.MaxSessions,
		MaxObservations: s.cfg.Context.MaxObservations,
	})
	if err != nil {
		writeError(c, http.StatusInternalServerError, "building context: "+err.Error())
		return
	}

	c.Header("X-Token-Estimate", strconv.Itoa(result.TokenEstimate))
	c.Header("X-Observation-Count", strconv.Itoa(result.ObservationCount))
	c.Header("X-Summary-Count", strconv.Itoa(result.SummaryCount))
	c.Header("X-Truncated", strconv.FormatBool(result.Truncated))
	c.Data(http.StatusOK, "text/markdown", []byte(result.Markdown))
}
