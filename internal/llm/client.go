// Package llm provides a minimal HTTP client for the Anthropic Messages
// API, used by the Compressor and Summarizer (§4.6, §9 "LLM provider
// abstraction" — the teacher's domain (Gemini over gRPC) does not fit
// this worker's pluggable-capability contract, so this client is
// grounded instead in the retrieval pack's Anthropic HTTP provider).
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultAPIURL is the Anthropic Messages API endpoint.
const DefaultAPIURL = "https://api.anthropic.com/v1/messages"

// anthropicVersion is the API version header value.
const anthropicVersion = "2023-06-01"

// httpClient is shared across calls to reuse connections, mirroring the
// retrieval pack's shared-Transport pattern.
var httpClient = &http.Client{
	Transport: &http.Transport{
		TLSHandshakeTimeout:   30 * time.Second,
		ResponseHeaderTimeout: 2 * time.Minute,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   4,
	},
}

// Client calls the Anthropic Messages API for single-shot, non-streaming
// text completions.
type Client struct {
	apiKey string
	model  string
	apiURL string
}

// New constructs a Client. apiURL overrides DefaultAPIURL when non-empty
// (used by tests against an httptest server).
func New(apiKey, model, apiURL string) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Client{apiKey: apiKey, model: model, apiURL: apiURL}
}

// HasAPIKey reports whether the client was configured with a non-empty
// key. Compressor.Compress skips the LLM call when it reports false.
func (c *Client) HasAPIKey() bool {
	return c.apiKey != ""
}

type messageRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []requestMessage `json:"messages"`
}

type requestMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type errorEnvelope struct {
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends a single user message and returns the first text block
// of the response.
func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body, err := json.Marshal(messageRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages:  []requestMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling llm: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var env errorEnvelope
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if json.Unmarshal(raw, &env) == nil && env.Error != nil {
			msg = fmt.Sprintf("%s: %s", env.Error.Type, env.Error.Message)
		}
		return "", fmt.Errorf("llm error: %s", msg)
	}

	var parsed messageResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	for _, block := range parsed.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in response")
}
