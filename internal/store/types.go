package store

// Package store implements the embedded relational persistence layer:
// sessions, user prompts, observations, summaries, the processing queue,
// the migration ledger, and the FTS index that mirrors observations.

// SessionStatus is the controlled vocabulary for Session.Status.
type SessionStatus string

const (
	SessionActive      SessionStatus = "active"
	SessionSummarizing SessionStatus = "summarizing"
	SessionCompleted   SessionStatus = "completed"
)

// ObservationType is the controlled vocabulary for Observation.ObsType.
type ObservationType string

const (
	ObsBugfix   ObservationType = "bugfix"
	ObsFeature  ObservationType = "feature"
	ObsRefactor ObservationType = "refactor"
	ObsConfig   ObservationType = "config"
	ObsResearch ObservationType = "research"
	ObsError    ObservationType = "error"
	ObsDecision ObservationType = "decision"
	ObsOther    ObservationType = "other"
)

// ValidObservationType reports whether t is a member of the controlled
// vocabulary (the Anomaly Filter additionally accepts "discovery"/"change"
// as pre-storage aliases; by the time a row lands in the store it has
// already been coerced into this set).
func ValidObservationType(t string) bool {
	switch ObservationType(t) {
	case ObsBugfix, ObsFeature, ObsRefactor, ObsConfig, ObsResearch, ObsError, ObsDecision, ObsOther:
		return true
	}
	return false
}

// QueueItemType distinguishes the two kinds of async work (§3 QueueItem).
type QueueItemType string

const (
	QueueTypeObservation QueueItemType = "observation"
	QueueTypeSummary     QueueItemType = "summary"
)

// QueueStatus is the controlled vocabulary for QueueItem.Status.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueProcessed  QueueStatus = "processed"
	QueueFailed     QueueStatus = "failed"
)

// UnknownProject is the canonical fallback project label used whenever no
// project name is known at the call site (§9 open question, resolved).
const UnknownProject = "unknown"

// Session is one conversational thread (§3).
type Session struct {
	ID            int64
	ExternalKey   string
	Project       string
	FirstPrompt   *string
	PromptCount   int
	Status        SessionStatus
	CreatedAt     int64
	CompletedAt   *int64
}

// UserPrompt is a single submitted prompt after scrubbing (§3).
type UserPrompt struct {
	ID         int64
	SessionID  int64
	PromptNum  int
	Text       string
	CreatedAt  int64
}

// Observation is a structured memory of a single tool execution (§3).
type Observation struct {
	ID         int64
	SessionID  int64
	PromptNum  int
	ToolName   string
	RawInput   *string
	Compressed string
	ObsType    ObservationType
	Title      string
	Narrative  string
	HMAC       *string
	CreatedAt  int64

	// HMACVerified is populated on read; it is not a persisted column.
	HMACVerified bool
}

// Summary is a session-level rollup (§3).
type Summary struct {
	ID           int64
	SessionID    int64
	Request      *string
	Investigated *string
	Learned      *string
	Completed    *string
	NextSteps    *string
	CreatedAt    int64
}

// QueueItem is a unit of async work (§3).
type QueueItem struct {
	ID          int64
	SessionID   int64
	Type        QueueItemType
	Payload     string
	Status      QueueStatus
	RetryCount  int
	Error       *string
	CreatedAt   int64
	StartedAt   *int64
	CompletedAt *int64
}

// ProjectStats is the per-project row count summary exposed by /api/stats.
type ProjectStats struct {
	Observations int
	Summaries    int
	Sessions     int
}
