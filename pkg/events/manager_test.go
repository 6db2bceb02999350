package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(t.TempDir(), 5, 5, 50, 200)
}

func sendEnvelope(jobID, kind, level, correlationID string, payload map[string]any) map[string]any {
	return map[string]any{
		"type": "send",
		"payload": map[string]any{
			"kahlo": map[string]any{
				"type":           "event",
				"job_id":         jobID,
				"kind":           kind,
				"level":          level,
				"correlation_id": correlationID,
				"payload":        payload,
			},
		},
	}
}

func TestRecordAgentMessageIgnoresOtherEnvelopes(t *testing.T) {
	m := newTestManager(t)
	assert.False(t, m.RecordAgentMessage("t1", nil, map[string]any{"type": "receive"}))
	assert.False(t, m.RecordAgentMessage("t1", nil, map[string]any{"type": "send", "payload": map[string]any{}}))
}

func TestRecordAgentMessagePushesToTargetAndJobStreams(t *testing.T) {
	m := newTestManager(t)
	ok := m.RecordAgentMessage("t1", nil, sendEnvelope("job-1", "job.started", "info", "corr-1", map[string]any{"x": 1.0}))
	require.True(t, ok)

	evs, _, err := m.FetchEvents("t1", "", "", 10, Filters{})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "job.started", evs[0].Kind)
	assert.Equal(t, "job-1", evs[0].JobID)

	evs, _, err = m.FetchEvents("", "job-1", "", 10, Filters{})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "job.started", evs[0].Kind)
}

func TestRecordAgentMessageCoercesInvalidLevel(t *testing.T) {
	m := newTestManager(t)
	m.RecordAgentMessage("t1", nil, sendEnvelope("", "job.started", "catastrophic", "", nil))
	evs, _, _ := m.FetchEvents("t1", "", "", 10, Filters{})
	require.Len(t, evs, 1)
	assert.Equal(t, LevelInfo, evs[0].Level)
}

func TestFetchEventsUnknownTargetReturnsEmptyAtZero(t *testing.T) {
	m := newTestManager(t)
	evs, cursor, err := m.FetchEvents("nope", "", "", 10, Filters{})
	require.NoError(t, err)
	assert.Empty(t, evs)
	assert.Equal(t, MakeCursor(ScopeTarget, "nope", 0), cursor)
}

func TestFetchEventsRequiresExactlyOneScope(t *testing.T) {
	m := newTestManager(t)
	_, _, err := m.FetchEvents("", "", "", 10, Filters{})
	assert.Error(t, err)
	_, _, err = m.FetchEvents("t1", "j1", "", 10, Filters{})
	assert.Error(t, err)
}

func TestFetchEventsCursorPagination(t *testing.T) {
	m := newTestManager(t)
	for i := 0; i < 3; i++ {
		m.PushSynthetic("t1", "", KindTargetDied, LevelWarn, nil)
	}
	evs, cursor, err := m.FetchEvents("t1", "", "", 2, Filters{})
	require.NoError(t, err)
	require.Len(t, evs, 2)

	more, _, err := m.FetchEvents("t1", "", cursor, 2, Filters{})
	require.NoError(t, err)
	require.Len(t, more, 1)
}

func TestFetchEventsMismatchedScopeForfeitsHistory(t *testing.T) {
	m := newTestManager(t)
	m.PushSynthetic("t1", "", KindTargetDied, LevelWarn, nil)
	jobCursor := MakeCursor(ScopeJob, "some-other-job", 100)

	evs, cursor, err := m.FetchEvents("t1", "", jobCursor, 10, Filters{})
	require.NoError(t, err)
	assert.Empty(t, evs)
	assert.Equal(t, MakeCursor(ScopeTarget, "t1", 1), cursor)
}

func TestPushSyntheticFiresIngestHooks(t *testing.T) {
	m := newTestManager(t)
	var seen []Event
	m.OnIngest(func(ev Event) { seen = append(seen, ev) })

	m.PushSynthetic("t1", "job-1", KindJobCompleted, LevelInfo, map[string]any{"metrics": "ok"})
	require.Len(t, seen, 1)
	assert.Equal(t, KindJobCompleted, seen[0].Kind)
}

func TestCloseTargetFiresCloseHooksAndRemovesState(t *testing.T) {
	m := newTestManager(t)
	m.PushSynthetic("t1", "", KindTargetDied, LevelWarn, nil)

	var closed []string
	m.OnClose(func(targetID string) { closed = append(closed, targetID) })

	m.CloseTarget("t1")
	require.Equal(t, []string{"t1"}, closed)

	evs, cursor, err := m.FetchEvents("t1", "", "", 10, Filters{})
	require.NoError(t, err)
	assert.Empty(t, evs)
	assert.Equal(t, MakeCursor(ScopeTarget, "t1", 0), cursor)
}
