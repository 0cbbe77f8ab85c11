package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/open-mem/cmem-worker/internal/store"
)

const maxBatchIDs = 200

type createObservationRequest struct {
	SessionID     string      `json:"session_id" binding:"required"`
	ToolName      string      `json:"tool_name" binding:"required"`
	ToolInput     interface{} `json:"tool_input"`
	ToolResponse  interface{} `json:"tool_response"`
	ToolResult    interface{} `json:"tool_result"`
	Project       string      `json:"project"`
	CorrelationID string      `json:"correlation_id"`
}

// stringify renders v as a plain string: pass strings through, else
// JSON-marshal (§6.2 "JSON-serialized when not strings").
func stringify(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// resolveSession finds the session row for externalKey, auto-creating
// it if absent (§4.5 "enqueue" algorithm). It does not backfill the
// project of an existing session; queue.Engine.Enqueue does that.
func (s *Server) resolveSession(externalKey, project string) (*store.Session, error) {
	sess, err := s.store.GetSessionByKey(externalKey)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return s.store.CreateSession(externalKey, project, nil)
}

// handleCreateObservation serves POST /api/observations (§6.1).
func (s *Server) handleCreateObservation(c *gin.Context) {
	var req createObservationRequest
	if !bindJSON(c, &req) {
		return
	}

	sess, err := s.resolveSession(req.SessionID, req.Project)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "resolving session: "+err.Error())
		return
	}

	response := req.ToolResponse
	if response == nil {
		response = req.ToolResult
	}

	queueID, err := s.queue.Enqueue(sess.ID, req.ToolName, stringify(req.ToolInput), stringify(response), req.Project)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "enqueuing observation: "+err.Error())
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"success": true, "queued": true, "queue_id": queueID})
}

type batchObservationsRequest struct {
	IDs     []int64 `json:"ids" binding:"required"`
	OrderBy string  `json:"orderBy"`
	Limit   int     `json:"limit"`
}

// handleBatchObservations serves POST /api/observations/batch (§6.1,
// §4.3 Layer 3).
func (s *Server) handleBatchObservations(c *gin.Context) {
	var req batchObservationsRequest
	if !bindJSON(c, &req) {
		return
	}
	if len(req.IDs) > maxBatchIDs {
		req.IDs = req.IDs[:maxBatchIDs]
	}

	observations, err := s.search.GetByIDs(req.IDs)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "loading observations: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"observations": observations})
}

// handleListObservations serves GET /api/observations (§6.1).
func (s *Server) handleListObservations(c *gin.Context) {
	project := c.Query("project")
	limit := queryIntDefault(c, "limit", 50)
	offset := queryIntDefault(c, "offset", 0)

	observations, err := s.store.ListObservations(project, limit+1, offset)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "listing observations: "+err.Error())
		return
	}

	hasMore := len(observations) > limit
	if hasMore {
		observations = observations[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"observations": observations, "total": len(observations), "hasMore": hasMore})
}

// handleGetObservation serves GET /api/observation/:id (§6.1).
func (s *Server) handleGetObservation(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid observation id")
		return
	}

	obs, err := s.store.GetObservation(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(c, http.StatusNotFound, "observation not found")
			return
		}
		writeError(c, http.StatusInternalServerError, "loading observation: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, obs)
}

func queryIntDefault(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
