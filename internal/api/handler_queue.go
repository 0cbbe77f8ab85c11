package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleQueueStats serves GET /api/queue (§6.1).
func (s *Server) handleQueueStats(c *gin.Context) {
	counts, err := s.store.QueueStats(int64(s.cfg.StuckThreshold.Seconds()))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "loading queue stats: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, counts)
}

type queueRecoverRequest struct {
	SessionID *int64 `json:"sessionId"`
}

// handleQueueRecover serves POST /api/queue/recover (§6.1, §4.5
// "recoverStuck").
func (s *Server) handleQueueRecover(c *gin.Context) {
	var req queueRecoverRequest
	if c.Request.ContentLength > 0 {
		if !bindJSON(c, &req) {
			return
		}
	}

	recovered, err := s.queue.RecoverStuck(req.SessionID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "recovering stuck items: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "recovered": recovered})
}
