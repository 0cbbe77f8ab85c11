package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/open-mem/cmem-worker/internal/queue"
	"github.com/open-mem/cmem-worker/internal/scrub"
	"github.com/open-mem/cmem-worker/internal/store"
)

type sessionInitRequest struct {
	SessionID    string `json:"session_id" binding:"required"`
	Project      string `json:"project"`
	UserPrompt   string `json:"userPrompt"`
	PromptNumber int    `json:"promptNumber"`
}

// handleSessionInit serves POST /api/sessions/init (§6.1, idempotent via
// Store.CreateSession).
func (s *Server) handleSessionInit(c *gin.Context) {
	var req sessionInitRequest
	if !bindJSON(c, &req) {
		return
	}

	scrubbed := scrub.ScrubString(req.UserPrompt)
	sess, err := s.store.CreateSession(req.SessionID, req.Project, &scrubbed)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "creating session: "+err.Error())
		return
	}
	if req.Project != "" {
		if err := s.store.BackfillProject(sess.ID, req.Project); err != nil {
			writeError(c, http.StatusInternalServerError, "backfilling project: "+err.Error())
			return
		}
	}

	promptNum := req.PromptNumber
	if promptNum == 0 {
		n, err := s.store.IncrementPromptCount(sess.ID)
		if err != nil {
			writeError(c, http.StatusInternalServerError, "incrementing prompt count: "+err.Error())
			return
		}
		promptNum = n
	}

	prompt, err := s.store.InsertUserPrompt(sess.ID, promptNum, scrubbed)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "storing prompt: "+err.Error())
		return
	}
	s.broker.UserPromptCreated(prompt.ID, sess.ID, req.Project, promptNum)

	c.JSON(http.StatusOK, gin.H{"success": true, "session_id": req.SessionID, "db_id": sess.ID})
}

type sessionSummarizeRequest struct {
	SessionID        string `json:"session_id" binding:"required"`
	LastUserMessage  string `json:"last_user_message"`
	LastAssistantMsg string `json:"last_assistant_message"`
}

// handleSessionSummarize serves POST /api/sessions/summarize (§6.1):
// it enqueues a type=summary queue item rather than calling the LLM
// synchronously.
func (s *Server) handleSessionSummarize(c *gin.Context) {
	var req sessionSummarizeRequest
	if !bindJSON(c, &req) {
		return
	}

	sess, err := s.store.GetSessionByKey(req.SessionID)
	if err != nil {
		writeError(c, http.StatusNotFound, "session not found")
		return
	}

	observations, err := s.store.ListObservationsBySession(sess.ID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "loading observations: "+err.Error())
		return
	}

	payload, err := json.Marshal(queue.SummaryPayload{
		Project:          sess.Project,
		LastUserMessage:  scrub.ScrubString(req.LastUserMessage),
		LastAssistantMsg: scrub.ScrubString(req.LastAssistantMsg),
		ObservationCount: len(observations),
		SessionDbID:      sess.ID,
	})
	if err != nil {
		writeError(c, http.StatusInternalServerError, "encoding summary payload: "+err.Error())
		return
	}

	if err := s.queue.EnqueueSummary(sess.ID, string(payload)); err != nil {
		writeError(c, http.StatusInternalServerError, "enqueuing summary: "+err.Error())
		return
	}

	if err := s.store.UpdateSessionStatus(sess.ID, store.SessionSummarizing); err != nil {
		writeError(c, http.StatusInternalServerError, "updating session status: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "summary_queued": true})
}

type sessionCompleteRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Reason    string `json:"reason"`
}

// handleSessionComplete serves POST /api/sessions/complete (§6.1).
func (s *Server) handleSessionComplete(c *gin.Context) {
	var req sessionCompleteRequest
	if !bindJSON(c, &req) {
		return
	}

	sess, err := s.store.GetSessionByKey(req.SessionID)
	if err != nil {
		writeError(c, http.StatusNotFound, "session not found")
		return
	}

	if err := s.store.UpdateSessionStatus(sess.ID, store.SessionCompleted); err != nil {
		writeError(c, http.StatusInternalServerError, "completing session: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "completed": true})
}

// handleListSessions serves GET /api/sessions (§6.1).
func (s *Server) handleListSessions(c *gin.Context) {
	project := c.Query("project")
	limit := queryIntDefault(c, "limit", 50)
	offset := queryIntDefault(c, "offset", 0)

	sessions, err := s.store.ListSessions(project, limit, offset)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "listing sessions: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}
