package compress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/open-mem/cmem-worker/internal/llm"
	"github.com/open-mem/cmem-worker/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonTextResponse(t *testing.T, text string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, err := json.Marshal(map[string]interface{}{
			"content": []map[string]string{{"type": "text", "text": text}},
		})
		require.NoError(t, err)
		w.Write(payload)
	}))
}

func withFastBackoff(t *testing.T) {
	t.Helper()
	origCompress := compressBackoff
	origSummarize := summarizeBackoff
	fast := []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	compressBackoff = fast
	summarizeBackoff = fast
	t.Cleanup(func() {
		compressBackoff = origCompress
		summarizeBackoff = origSummarize
	})
}

func TestCompress_ParsesValidResponse(t *testing.T) {
	xmlBody := "<memory><type>bugfix</type><title>Fixed off-by-one</title>" +
		"<narrative>Found and fixed an off-by-one error.</narrative>" +
		"<tags><tag>bug</tag><tag>loop</tag></tags>" +
		"<facts><fact>loop ran one extra time</fact></facts>" +
		"<files><read>a.go</read><modified>a.go</modified></files></memory>"
	srv := jsonTextResponse(t, xmlBody)
	defer srv.Close()

	c := NewCompressor(llm.New("key", "model", srv.URL))
	obs := c.Compress(context.Background(), CompressionInput{ToolName: "Edit", PromptNumber: 3})

	assert.Equal(t, store.ObsBugfix, obs.Type)
	assert.Equal(t, "Fixed off-by-one", obs.Title)
	assert.Equal(t, []string{"bug", "loop"}, obs.Tags)
	assert.Equal(t, []string{"a.go"}, obs.FilesRead)
	assert.Equal(t, []string{"a.go"}, obs.FilesMod)
}

func TestCompress_CoercesUnknownTypeToOther(t *testing.T) {
	xmlBody := "<memory><type>not-real</type><title>t</title><narrative>n</narrative></memory>"
	srv := jsonTextResponse(t, xmlBody)
	defer srv.Close()

	c := NewCompressor(llm.New("key", "model", srv.URL))
	obs := c.Compress(context.Background(), CompressionInput{ToolName: "Edit"})
	assert.Equal(t, store.ObsOther, obs.Type)
}

func TestCompress_FallsBackOnRepeatedAPIError(t *testing.T) {
	withFastBackoff(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewCompressor(llm.New("key", "model", srv.URL))
	obs := c.Compress(context.Background(), CompressionInput{ToolName: "Bash", PromptNumber: 7})

	assert.Equal(t, store.ObsOther, obs.Type)
	assert.Contains(t, obs.Title, "Bash")
	assert.Contains(t, obs.Narrative, "Compression failed after 3 attempts")
}

func TestSummarize_ParsesValidResponse(t *testing.T) {
	xmlBody := "<session_summary><request>fix the bug</request><investigated>the parser</investigated>" +
		"<learned>root cause</learned><completed>fixed</completed><next_steps>write tests</next_steps></session_summary>"
	srv := jsonTextResponse(t, xmlBody)
	defer srv.Close()

	s := NewSummarizer(llm.New("key", "model", srv.URL))
	summary := s.Summarize(context.Background(), SummarizeInput{Project: "p1"})
	assert.Equal(t, "fix the bug", summary.Request)
	assert.Equal(t, "write tests", summary.NextSteps)
}

func TestSummarize_DefaultsAbsentOptionalFields(t *testing.T) {
	xmlBody := "<session_summary><request>fix the bug</request></session_summary>"
	srv := jsonTextResponse(t, xmlBody)
	defer srv.Close()

	s := NewSummarizer(llm.New("key", "model", srv.URL))
	summary := s.Summarize(context.Background(), SummarizeInput{})
	assert.Equal(t, "None", summary.Investigated)
	assert.Equal(t, "None", summary.Learned)
}

func TestSummarize_FallsBackOnMissingRequest(t *testing.T) {
	withFastBackoff(t)
	xmlBody := "<session_summary><investigated>x</investigated></session_summary>"
	srv := jsonTextResponse(t, xmlBody)
	defer srv.Close()

	s := NewSummarizer(llm.New("key", "model", srv.URL))
	summary := s.Summarize(context.Background(), SummarizeInput{LastUserMessage: "last msg", ObservationCount: 2})
	assert.Equal(t, "last msg", summary.Request)
	assert.Contains(t, summary.Completed, "2 observations")
}
