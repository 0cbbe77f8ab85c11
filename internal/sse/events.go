package sse

import "log/slog"

// Typed broadcast helpers, one per event name in §6.4. Broker satisfies
// the queue.Notifier interface via ObservationCreated/ObservationProcessed/
// ItemFailed/ItemStuck/SummaryProcessed without importing internal/queue,
// avoiding a dependency cycle between the two packages.

type observationCreatedPayload struct {
	QueueID   int64  `json:"queueId"`
	SessionID int64  `json:"sessionId"`
	Project   string `json:"project"`
	ToolName  string `json:"toolName"`
}

// ObservationCreated broadcasts observation-created.
func (b *Broker) ObservationCreated(queueID, sessionID int64, project, toolName string) {
	b.broadcast(EventObservationCreated, observationCreatedPayload{
		QueueID: queueID, SessionID: sessionID, Project: project, ToolName: toolName,
	})
}

type observationProcessedPayload struct {
	ObservationID int64  `json:"observationId"`
	QueueID       int64  `json:"queueId"`
	SessionID     int64  `json:"sessionId"`
	Project       string `json:"project"`
	Title         string `json:"title"`
	Kind          string `json:"kind"`
}

// ObservationProcessed broadcasts observation-processed.
func (b *Broker) ObservationProcessed(observationID, queueID, sessionID int64, project, title, kind string) {
	b.broadcast(EventObservationProcessed, observationProcessedPayload{
		ObservationID: observationID, QueueID: queueID, SessionID: sessionID,
		Project: project, Title: title, Kind: kind,
	})
}

// ItemFailed has no dedicated wire event in §6.4, so it is not
// broadcast to subscribers; it is logged so operators can see terminal
// failures without polling GET /api/queue.
func (b *Broker) ItemFailed(queueID, sessionID int64, reason string) {
	slog.Warn("queue item failed permanently", "queue_id", queueID, "session_id", sessionID, "reason", reason)
}

// ItemStuck mirrors ItemFailed: logged, not broadcast.
func (b *Broker) ItemStuck(queueID, sessionID int64) {
	slog.Error("queue item stuck", "queue_id", queueID, "session_id", sessionID)
}

type sessionSummaryPayload struct {
	SummaryID int64  `json:"summaryId"`
	SessionID int64  `json:"sessionId"`
	Project   string `json:"project"`
	Request   string `json:"request"`
}

// SessionSummaryCreated broadcasts session-summary-created.
func (b *Broker) SessionSummaryCreated(summaryID, sessionID int64, project, request string) {
	b.broadcast(EventSessionSummary, sessionSummaryPayload{
		SummaryID: summaryID, SessionID: sessionID, Project: project, Request: request,
	})
}

// SummaryProcessed satisfies queue.Notifier for completed summary items,
// delegating to SessionSummaryCreated so the queue engine never has to
// know the wire event's name.
func (b *Broker) SummaryProcessed(summaryID, sessionID int64, project, request string) {
	b.SessionSummaryCreated(summaryID, sessionID, project, request)
}

type userPromptCreatedPayload struct {
	PromptID     int64  `json:"promptId"`
	SessionID    int64  `json:"sessionId"`
	Project      string `json:"project"`
	PromptNumber int    `json:"promptNumber"`
}

// UserPromptCreated broadcasts user-prompt-created.
func (b *Broker) UserPromptCreated(promptID, sessionID int64, project string, promptNumber int) {
	b.broadcast(EventUserPromptCreated, userPromptCreatedPayload{
		PromptID: promptID, SessionID: sessionID, Project: project, PromptNumber: promptNumber,
	})
}
