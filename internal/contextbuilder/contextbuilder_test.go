package contextbuilder

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/open-mem/cmem-worker/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cmem.db")
	s, err := store.Open(path, []byte("test-hmac-key"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustObservation(t *testing.T, s *store.Store, sessionID int64, obsType store.ObservationType, title string) store.Observation {
	t.Helper()
	o, err := s.InsertObservation(store.Observation{
		SessionID:  sessionID,
		PromptNum:  1,
		ToolName:   "Edit",
		Compressed: `{"facts":["fact one"],"files_modified":["a.go"]}`,
		ObsType:    obsType,
		Title:      title,
		Narrative:  "Something happened. More detail here.",
	})
	require.NoError(t, err)
	return *o
}

func TestBuild_WrapsInSingleContextElement(t *testing.T) {
	s := openTestStore(t)
	sess, err := s.CreateSession("sess-1", "proj1", nil)
	require.NoError(t, err)

	obs := []store.Observation{mustObservation(t, s, sess.ID, store.ObsBugfix, "Fixed a bug")}

	result, err := Build(s, obs, Options{Project: "proj1"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(result.Markdown, "<c-mem-context>"))
	assert.True(t, strings.HasSuffix(strings.TrimSpace(result.Markdown), "</c-mem-context>"))
	assert.Equal(t, 1, strings.Count(result.Markdown, "<c-mem-context>"))
	assert.Equal(t, 1, result.ObservationCount)
}

func TestBuild_SortsObservationsByTypePriority(t *testing.T) {
	s := openTestStore(t)
	sess, err := s.CreateSession("sess-2", "proj1", nil)
	require.NoError(t, err)

	mustObservation(t, s, sess.ID, store.ObsOther, "low priority")
	mustObservation(t, s, sess.ID, store.ObsError, "high priority")

	obs, err := s.ListObservationsBySession(sess.ID)
	require.NoError(t, err)

	result, err := Build(s, obs, Options{Project: "proj1"})
	require.NoError(t, err)

	idxHigh := strings.Index(result.Markdown, "high priority")
	idxLow := strings.Index(result.Markdown, "low priority")
	require.NotEqual(t, -1, idxHigh)
	require.NotEqual(t, -1, idxLow)
	assert.Less(t, idxHigh, idxLow)
}

func TestBuild_IncludesRecentSummaries(t *testing.T) {
	s := openTestStore(t)
	sess, err := s.CreateSession("sess-3", "proj1", nil)
	require.NoError(t, err)

	req := "implement feature X"
	_, err = s.InsertSummary(store.Summary{SessionID: sess.ID, Request: &req})
	require.NoError(t, err)

	result, err := Build(s, nil, Options{Project: "proj1"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.SummaryCount)
	assert.Contains(t, result.Markdown, "implement feature X")
}

func TestBuild_TruncatesWhenBudgetExceeded(t *testing.T) {
	s := openTestStore(t)
	sess, err := s.CreateSession("sess-4", "proj1", nil)
	require.NoError(t, err)

	var obs []store.Observation
	for i := 0; i < 50; i++ {
		obs = append(obs, mustObservation(t, s, sess.ID, store.ObsBugfix, fmt.Sprintf("observation number %d with a reasonably long title", i)))
	}

	result, err := Build(s, obs, Options{Project: "proj1", MaxTokens: 50, MaxObservations: 50})
	require.NoError(t, err)

	assert.True(t, result.Truncated)
	assert.Less(t, result.ObservationCount, 50)
}

func TestBuild_ExcludesBlockedObservations(t *testing.T) {
	s := openTestStore(t)
	sess, err := s.CreateSession("sess-5", "proj1", nil)
	require.NoError(t, err)

	blocked, err := s.InsertObservation(store.Observation{
		SessionID:  sess.ID,
		PromptNum:  1,
		ToolName:   "Edit",
		Compressed: strings.Repeat("x", 60*1024),
		ObsType:    store.ObsOther,
		Title:      "oversized",
		Narrative:  "n",
	})
	require.NoError(t, err)

	result, err := Build(s, []store.Observation{*blocked}, Options{Project: "proj1"})
	require.NoError(t, err)

	assert.Equal(t, 0, result.ObservationCount)
	assert.NotContains(t, result.Markdown, "oversized")
}
