package compress

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/open-mem/cmem-worker/internal/llm"
)

const summarizeMaxTokens = 1024

// summarizeBackoff mirrors compressBackoff's 1s/2s/4s schedule (§4.6
// "Same retry/fallback discipline").
var summarizeBackoff = compressBackoff

// defaultFieldValue is substituted for absent optional summary fields
// (§4.6 "absent optional fields default to 'None'").
const defaultFieldValue = "None"

// SummarizeInput is the raw session history handed to the Summarizer.
type SummarizeInput struct {
	Project          string
	LastUserMessage  string
	LastAssistantMsg string
	ObservationCount int
	SessionDbID      int64
}

// PartialSummary is the structured result of summarization (§3 Summary,
// §4.6).
type PartialSummary struct {
	Request      string
	Investigated string
	Learned      string
	Completed    string
	NextSteps    string
}

// Summarizer wraps an LLM client with the summarization protocol.
type Summarizer struct {
	client *llm.Client
}

// NewSummarizer constructs a Summarizer.
func NewSummarizer(client *llm.Client) *Summarizer {
	return &Summarizer{client: client}
}

// Summarize builds the <c-mem-summarize> request, calls the LLM with up
// to three attempts, and parses the <session_summary> response. On
// exhaustion it returns a safe fallback built from the last user
// message and the observation count; it never returns an error.
func (s *Summarizer) Summarize(ctx context.Context, in SummarizeInput) PartialSummary {
	request := buildSummarizeRequest(in)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fallbackSummary(in)
			case <-time.After(summarizeBackoff[attempt-1]):
			}
		}

		body, err := s.client.Complete(ctx, request, summarizeMaxTokens)
		if err != nil {
			lastErr = err
			slog.Warn("summarization attempt failed", "attempt", attempt+1, "error", err)
			continue
		}

		summary, ok := parseSummarizeResponse(body)
		if !ok {
			lastErr = fmt.Errorf("structural parse failure")
			slog.Warn("summarization response parse failed", "attempt", attempt+1)
			continue
		}
		return summary
	}

	slog.Error("summarization failed after all attempts", "session_db_id", in.SessionDbID, "error", lastErr)
	return fallbackSummary(in)
}

func fallbackSummary(in SummarizeInput) PartialSummary {
	return PartialSummary{
		Request:      in.LastUserMessage,
		Investigated: defaultFieldValue,
		Learned:      defaultFieldValue,
		Completed:    fmt.Sprintf("%d observations recorded", in.ObservationCount),
		NextSteps:    defaultFieldValue,
	}
}

func buildSummarizeRequest(in SummarizeInput) string {
	return "<c-mem-summarize>" +
		"<instruction>Summarize this coding session.</instruction>" +
		"<session>" +
		"<project>" + xmlEscape(in.Project) + "</project>" +
		"<last_user_message>" + xmlEscape(in.LastUserMessage) + "</last_user_message>" +
		"<last_assistant_message>" + xmlEscape(in.LastAssistantMsg) + "</last_assistant_message>" +
		"<observation_count>" + fmt.Sprintf("%d", in.ObservationCount) + "</observation_count>" +
		"</session>" +
		"</c-mem-summarize>"
}

// parseSummarizeResponse extracts the <session_summary> block. ok is
// false only when <request> is missing — the minimum required field
// (§4.6); other optional fields default to "None".
func parseSummarizeResponse(body string) (PartialSummary, bool) {
	root := firstElement(body, "session_summary")
	if root == "" {
		root = body
	}

	request := firstElement(root, "request")
	if request == "" {
		return PartialSummary{}, false
	}

	withDefault := func(v string) string {
		if v == "" {
			return defaultFieldValue
		}
		return v
	}

	return PartialSummary{
		Request:      request,
		Investigated: withDefault(firstElement(root, "investigated")),
		Learned:      withDefault(firstElement(root, "learned")),
		Completed:    withDefault(firstElement(root, "completed")),
		NextSteps:    withDefault(firstElement(root, "next_steps")),
	}, true
}
