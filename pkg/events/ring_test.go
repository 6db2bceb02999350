package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkEvent(kind string) Event {
	return Event{Kind: kind, Level: LevelInfo}
}

func TestStreamPushAssignsSequence(t *testing.T) {
	s := newStream(10)
	e1 := s.push(mkEvent("a"))
	e2 := s.push(mkEvent("b"))
	assert.Equal(t, uint64(1), e1.seq)
	assert.Equal(t, uint64(2), e2.seq)
}

func TestStreamEvictionAndPendingDropped(t *testing.T) {
	s := newStream(3)
	for i := 0; i < 5; i++ {
		s.push(mkEvent("x"))
	}
	require.Len(t, s.entries, 3)
	assert.Equal(t, uint64(3), s.minSeq())

	evs, lastSeq, missed := s.selectSince(0, 10, Filters{})
	require.Len(t, evs, 3)
	assert.Equal(t, uint64(5), lastSeq)
	assert.Equal(t, 2, missed)
	require.NotNil(t, evs[0].Dropped)
	assert.Equal(t, 2, evs[0].Dropped.Count)
}

func TestStreamSelectSinceStaleCursor(t *testing.T) {
	s := newStream(3)
	for i := 0; i < 10; i++ {
		s.push(mkEvent("x"))
	}
	// Ring now holds seq 8,9,10; minSeq=8. A cursor at seq=2 is well
	// behind the floor. Seq 8 itself carries an intrinsic Dropped{1}
	// (the eviction during push 7), which the missed count is added to.
	evs, lastSeq, missed := s.selectSince(2, 10, Filters{})
	require.Len(t, evs, 3)
	assert.Equal(t, uint64(10), lastSeq)
	assert.Equal(t, 5, missed) // floor-1-sinceSeq = 8-1-2 = 5
	assert.Equal(t, 6, evs[0].Dropped.Count) // 5 missed + 1 intrinsic
}

func TestStreamSelectSinceDoesNotCorruptStoredDroppedMarker(t *testing.T) {
	s := newStream(5)
	// Push enough that the entry at the floor (entries[0]) itself
	// carries an intrinsic Dropped{Count: 1} marker attached at push
	// time (not just one synthesized by a read).
	for i := 0; i < 11; i++ {
		s.push(mkEvent("x"))
	}
	require.NotNil(t, s.entries[0].ev.Dropped)
	require.Equal(t, 1, s.entries[0].ev.Dropped.Count)

	first, _, missed := s.selectSince(0, 10, Filters{})
	require.NotEmpty(t, first)
	require.NotNil(t, first[0].Dropped)
	assert.Equal(t, missed+1, first[0].Dropped.Count)

	// A behind reader must see the same counts on every independent
	// read — a prior read must not have mutated the stored entry.
	second, _, missed2 := s.selectSince(0, 10, Filters{})
	require.NotNil(t, second[0].Dropped)
	assert.Equal(t, missed2+1, second[0].Dropped.Count)
	assert.Equal(t, first[0].Dropped.Count, second[0].Dropped.Count, "repeated reads must not inflate the dropped count")
	assert.Equal(t, 1, s.entries[0].ev.Dropped.Count, "the stored entry's own marker must remain untouched")
}

func TestStreamSelectSinceNoNewEvents(t *testing.T) {
	s := newStream(5)
	s.push(mkEvent("a"))
	s.push(mkEvent("b"))
	evs, lastSeq, missed := s.selectSince(2, 10, Filters{})
	assert.Empty(t, evs)
	assert.Equal(t, uint64(2), lastSeq)
	assert.Equal(t, 0, missed)
}

func TestStreamSelectSinceRespectsLimit(t *testing.T) {
	s := newStream(10)
	for i := 0; i < 5; i++ {
		s.push(mkEvent("x"))
	}
	evs, lastSeq, _ := s.selectSince(0, 2, Filters{})
	require.Len(t, evs, 2)
	assert.Equal(t, uint64(2), lastSeq)
}

func TestStreamSelectSinceFilters(t *testing.T) {
	s := newStream(10)
	s.push(Event{Kind: "a", Level: LevelInfo})
	s.push(Event{Kind: "b", Level: LevelWarn})
	s.push(Event{Kind: "a", Level: LevelError})

	evs, _, _ := s.selectSince(0, 10, Filters{Kind: "a"})
	require.Len(t, evs, 2)

	evs, _, _ = s.selectSince(0, 10, Filters{Level: LevelWarn})
	require.Len(t, evs, 1)
	assert.Equal(t, "b", evs[0].Kind)

	evs, _, _ = s.selectSince(0, 10, Filters{Kind: "a", Level: LevelError})
	require.Len(t, evs, 1)
}
