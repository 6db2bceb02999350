package events

// entry pairs a pushed event with the sequence number it was assigned.
type entry struct {
	seq uint64
	ev  Event
}

// stream is a fixed-capacity ring buffer of (seq, event) entries plus
// the bookkeeping §4.2 requires: a monotonic sequence counter and an
// accumulator for events dropped since the last successful push.
type stream struct {
	capacity       int
	seq            uint64
	pendingDropped int
	entries        []entry // logical FIFO order, oldest first
}

func newStream(capacity int) *stream {
	return &stream{capacity: capacity, entries: make([]entry, 0, capacity)}
}

// push assigns the next sequence number, attaches any outstanding
// dropped marker, and inserts into the ring, evicting the oldest entry
// if the ring is already full.
func (s *stream) push(ev Event) entry {
	s.seq++
	ev.Seq = s.seq

	if s.pendingDropped > 0 {
		if ev.Dropped != nil {
			ev.Dropped.Count += s.pendingDropped
		} else {
			ev.Dropped = &Dropped{Count: s.pendingDropped}
		}
		s.pendingDropped = 0
	}

	e := entry{seq: s.seq, ev: ev}

	if len(s.entries) >= s.capacity {
		s.entries = s.entries[1:]
		s.pendingDropped++
	}
	s.entries = append(s.entries, e)
	return e
}

// minSeq returns the sequence number of the oldest entry still in the
// ring, or 0 if the ring is empty.
func (s *stream) minSeq() uint64 {
	if len(s.entries) == 0 {
		return 0
	}
	return s.entries[0].seq
}

// selectSince returns, oldest-first, entries with seq > sinceSeq that
// pass filters, up to limit entries, plus the missed-event count for
// entries evicted before sinceSeq could be read.
func (s *stream) selectSince(sinceSeq uint64, limit int, filters Filters) ([]Event, uint64, int) {
	missed := 0
	if floor := s.minSeq(); floor > 0 && sinceSeq < floor-1 {
		missed = int(floor - 1 - sinceSeq)
	}

	out := make([]Event, 0, limit)
	lastSeq := sinceSeq
	for _, e := range s.entries {
		if e.seq <= sinceSeq {
			continue
		}
		if !filters.match(&e.ev) {
			continue
		}
		out = append(out, e.ev)
		lastSeq = e.seq
		if len(out) >= limit {
			break
		}
	}

	if missed > 0 && len(out) > 0 {
		count := missed
		if out[0].Dropped != nil {
			count += out[0].Dropped.Count
		}
		out[0].Dropped = &Dropped{Count: count}
	}

	return out, lastSeq, missed
}
