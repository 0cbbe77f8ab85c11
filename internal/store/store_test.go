package store

import (
	"path/filepath"
	"testing"

	"github.com/open-mem/cmem-worker/internal/scrub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cmem.db")
	s, err := Open(path, []byte("test-hmac-key"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateSession_Idempotent(t *testing.T) {
	s := openTestStore(t)

	first, err := s.CreateSession("sess-abc12345", "proj1", nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		again, err := s.CreateSession("sess-abc12345", "proj1", nil)
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
	}

	sessions, err := s.ListSessions("proj1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestCreateSession_UnknownProjectFallback(t *testing.T) {
	s := openTestStore(t)
	sess, err := s.CreateSession("sess-xyz98765", "", nil)
	require.NoError(t, err)
	assert.Equal(t, UnknownProject, sess.Project)
}

func TestIncrementPromptCount_MonotonicFromZero(t *testing.T) {
	s := openTestStore(t)
	sess, err := s.CreateSession("sess-counter01", "p", nil)
	require.NoError(t, err)

	var count int
	for i := 0; i < 5; i++ {
		count, err = s.IncrementPromptCount(sess.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 5, count)
}

func TestInsertObservation_HMACRoundTrip(t *testing.T) {
	s := openTestStore(t)
	sess, err := s.CreateSession("sess-hmac00001", "p", nil)
	require.NoError(t, err)

	obs, err := s.InsertObservation(Observation{
		SessionID:  sess.ID,
		PromptNum:  1,
		ToolName:   "Read",
		Compressed: `{"facts":[]}`,
		ObsType:    ObsFeature,
		Title:      "read a file",
		Narrative:  "Read contents of a.go",
	})
	require.NoError(t, err)
	assert.True(t, obs.HMACVerified)

	fetched, err := s.GetObservation(obs.ID)
	require.NoError(t, err)
	assert.True(t, fetched.HMACVerified)
	assert.Equal(t, obs.HMAC, fetched.HMAC)
}

func TestInsertObservation_CoercesUnknownType(t *testing.T) {
	s := openTestStore(t)
	sess, err := s.CreateSession("sess-coerce001", "p", nil)
	require.NoError(t, err)

	obs, err := s.InsertObservation(Observation{
		SessionID:  sess.ID,
		ToolName:   "Bash",
		Compressed: "x",
		ObsType:    ObservationType("not-a-real-type"),
		Title:      "t",
		Narrative:  "n",
	})
	require.NoError(t, err)
	assert.Equal(t, ObsOther, obs.ObsType)
}

func TestSearchFTS_FindsMatch(t *testing.T) {
	s := openTestStore(t)
	sess, err := s.CreateSession("sess-ftsearch1", "p1", nil)
	require.NoError(t, err)

	_, err = s.InsertObservation(Observation{
		SessionID: sess.ID, ToolName: "Read", Compressed: "{}",
		ObsType: ObsFeature, Title: "fixed the parser bug", Narrative: "details about the parser",
	})
	require.NoError(t, err)

	results, err := s.SearchFTS("parser", "p1", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Title, "parser")
}

func TestSearchFTS_EmptyQueryReturnsEmpty(t *testing.T) {
	s := openTestStore(t)
	results, err := s.SearchFTS("   ", "p1", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEscapeFTSQuery(t *testing.T) {
	assert.Equal(t, "", escapeFTSQuery("   "))
	assert.Equal(t, `"hello"`, escapeFTSQuery("hello"))
	assert.Equal(t, `"say ""hi"""`, escapeFTSQuery(`say "hi"`))
}

func TestQueue_EnqueueRejectsOversizeAndInvalidJSON(t *testing.T) {
	s := openTestStore(t)
	sess, err := s.CreateSession("sess-queue00001", "p", nil)
	require.NoError(t, err)

	_, err = s.Enqueue(sess.ID, QueueTypeObservation, "not json")
	assert.ErrorIs(t, err, ErrInvalidJSON)

	oversized := make([]byte, scrub.QueuePayloadByteLimit+1)
	for i := range oversized {
		oversized[i] = 'a'
	}
	_, err = s.Enqueue(sess.ID, QueueTypeObservation, string(oversized))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestQueue_LifecycleTransitions(t *testing.T) {
	s := openTestStore(t)
	sess, err := s.CreateSession("sess-queue00002", "p", nil)
	require.NoError(t, err)

	item, err := s.Enqueue(sess.ID, QueueTypeObservation, `{"tool":"Read"}`)
	require.NoError(t, err)

	pending, err := s.ListPending(10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, s.MarkProcessing(item.ID))
	require.NoError(t, s.MarkProcessed(item.ID))

	counts, err := s.QueueStats(300)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Processing)
	assert.Equal(t, 0, counts.Pending)
	assert.Equal(t, 0, counts.Failed)
}

func TestMigrations_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmem.db")
	s1, err := Open(path, []byte("k"))
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path, []byte("k"))
	require.NoError(t, err)
	defer s2.Close()

	sess, err := s2.CreateSession("sess-migrate0001", "p", nil)
	require.NoError(t, err)
	assert.NotZero(t, sess.ID)
}
