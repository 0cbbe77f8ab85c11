// Package compress translates raw tool events and session histories into
// structured observations/summaries via the pluggable LLM capability
// (§4.6). It never propagates an error to its caller: exhausting retries
// yields a safe fallback record instead.
package compress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/open-mem/cmem-worker/internal/llm"
	"github.com/open-mem/cmem-worker/internal/scrub"
	"github.com/open-mem/cmem-worker/internal/store"
)

// outputTruncateLimit is the byte cap applied to tool output before it is
// inserted into the compression request (§6.2).
const outputTruncateLimit = 8 * 1024

const compressMaxTokens = 1024

// maxAttempts is the number of LLM calls Compress and Summarize make
// before falling back (§4.6).
const maxAttempts = 3

// passthroughNarrativeLimit caps the raw tool response used as the
// narrative when the client has no API key.
const passthroughNarrativeLimit = 2 * 1024

// compressBackoff is the fixed 1s/2s/4s schedule for compression retries
// (§4.6); with maxAttempts calls only the first maxAttempts-1 waits are
// used.
var compressBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// CompressionInput is the raw tool execution handed to the Compressor.
type CompressionInput struct {
	ToolName     string
	ToolInput    interface{}
	ToolResponse string
	Project      string
	PromptNumber int
	UserGoal     string
}

// CompressedObservation is the structured result of compression, ready
// to be persisted via the Store (§4.6).
type CompressedObservation struct {
	Type      store.ObservationType
	Title     string
	Narrative string
	Tags      []string
	Facts     []string
	FilesRead []string
	FilesMod  []string
}

// Compressor wraps an LLM client with the compression protocol.
type Compressor struct {
	client *llm.Client
}

// NewCompressor constructs a Compressor.
func NewCompressor(client *llm.Client) *Compressor {
	return &Compressor{client: client}
}

// Compress builds the <c-mem-compress> request, calls the LLM with up to
// three attempts, and parses the <memory> response. On exhaustion it
// returns a safe fallback record; it never returns an error. When the
// client has no API key the call is skipped and a passthrough record of
// type other carries the first 2 KB of the tool response as narrative.
func (c *Compressor) Compress(ctx context.Context, in CompressionInput) CompressedObservation {
	if !c.client.HasAPIKey() {
		obs := fallbackObservation(in)
		obs.Narrative = scrub.EnforceByteLimit(in.ToolResponse, passthroughNarrativeLimit)
		return obs
	}

	request := buildCompressRequest(in)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fallbackObservation(in)
			case <-time.After(compressBackoff[attempt-1]):
			}
		}

		body, err := c.client.Complete(ctx, request, compressMaxTokens)
		if err != nil {
			lastErr = err
			slog.Warn("compression attempt failed", "attempt", attempt+1, "error", err)
			continue
		}

		obs, ok := parseCompressResponse(body)
		if !ok {
			lastErr = fmt.Errorf("structural parse failure")
			slog.Warn("compression response parse failed", "attempt", attempt+1)
			continue
		}
		return obs
	}

	slog.Error("compression failed after all attempts", "tool", in.ToolName, "error", lastErr)
	return fallbackObservation(in)
}

func fallbackObservation(in CompressionInput) CompressedObservation {
	return CompressedObservation{
		Type:      store.ObsOther,
		Title:     fmt.Sprintf("%s — session prompt #%d", in.ToolName, in.PromptNumber),
		Narrative: fmt.Sprintf("Raw observation from %s. Compression failed after 3 attempts.", in.ToolName),
	}
}

func buildCompressRequest(in CompressionInput) string {
	inputText := stringifyJSON(in.ToolInput)
	output := scrub.EnforceByteLimit(in.ToolResponse, outputTruncateLimit)

	return "<c-mem-compress>" +
		"<instruction>Summarize this tool execution into a structured memory.</instruction>" +
		"<tool_execution>" +
		"<tool>" + xmlEscape(in.ToolName) + "</tool>" +
		"<input>" + xmlEscape(inputText) + "</input>" +
		"<output>" + xmlEscape(output) + "</output>" +
		"</tool_execution>" +
		"<session>" +
		"<project>" + xmlEscape(in.Project) + "</project>" +
		"<prompt_number>" + fmt.Sprintf("%d", in.PromptNumber) + "</prompt_number>" +
		"<user_goal>" + xmlEscape(in.UserGoal) + "</user_goal>" +
		"</session>" +
		"</c-mem-compress>"
}

func stringifyJSON(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// parseCompressResponse extracts the <memory> block. ok is false when
// <title> or <narrative> is missing — callers treat that as a retryable
// structural parse failure. A missing or unknown <type> becomes other.
func parseCompressResponse(body string) (CompressedObservation, bool) {
	memory := firstElement(body, "memory")
	if memory == "" {
		memory = body
	}

	typ := firstElement(memory, "type")
	title := firstElement(memory, "title")
	narrative := firstElement(memory, "narrative")
	if title == "" || narrative == "" {
		return CompressedObservation{}, false
	}

	obsType := store.ObservationType(typ)
	if !store.ValidObservationType(typ) {
		obsType = store.ObsOther
	}

	return CompressedObservation{
		Type:      obsType,
		Title:     title,
		Narrative: narrative,
		Tags:      repeatedElements(memory, "tags", "tag"),
		Facts:     repeatedElements(memory, "facts", "fact"),
		FilesRead: repeatedElements(memory, "files", "read"),
		FilesMod:  repeatedElements(memory, "files", "modified"),
	}, true
}
