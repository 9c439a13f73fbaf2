package reactor

import (
	"sync/atomic"
	"time"
)

// TimerID identifies a timer for its whole life. IDs are never reused.
type TimerID uint64

type timerRecord struct {
	id       TimerID
	gen      uint64 // bumped by every Start
	deadline int64 // monotonic milliseconds
	interval int64
	fn       func()

	prev, next *timerRecord
}

// TimerManager keeps timers in a doubly linked list sorted by deadline.
// Records are recycled through a free list. It is not safe for concurrent
// use except for NewID; the Looper confines it to the loop thread.
type TimerManager struct {
	base    time.Time
	nowFunc func() int64

	head, tail *timerRecord
	active     map[TimerID]*timerRecord
	free       []*timerRecord
	nextID     atomic.Uint64
	gen        uint64
}

func NewTimerManager() *TimerManager {
	m := &TimerManager{
		base:   time.Now(),
		active: make(map[TimerID]*timerRecord),
	}
	m.nowFunc = func() int64 { return time.Since(m.base).Milliseconds() }
	return m
}

// NewID reserves an id. Safe to call from any goroutine so a foreign
// thread can learn the id before the start message is processed.
func (m *TimerManager) NewID() TimerID {
	return TimerID(m.nextID.Add(1))
}

func (m *TimerManager) Len() int { return len(m.active) }

// Start arms timer id to fire after delay and then every interval when
// interval is positive.
func (m *TimerManager) Start(id TimerID, delay, interval time.Duration, fn func()) {
	if fn == nil {
		return
	}
	if old, ok := m.active[id]; ok {
		m.unlink(old)
		m.release(old)
	}
	rec := m.alloc()
	m.gen++
	rec.id = id
	rec.gen = m.gen
	rec.deadline = m.nowFunc() + delay.Milliseconds()
	rec.interval = interval.Milliseconds()
	rec.fn = fn
	m.active[id] = rec
	m.insert(rec)
}

// Stop disarms a timer. It reports whether the timer was armed.
func (m *TimerManager) Stop(id TimerID) bool {
	rec, ok := m.active[id]
	if !ok {
		return false
	}
	m.unlink(rec)
	m.release(rec)
	return true
}

// NextTimeout returns the time until the earliest deadline, zero when one
// is already due, or -1 when no timer is armed.
func (m *TimerManager) NextTimeout() time.Duration {
	if m.head == nil {
		return -1
	}
	d := m.head.deadline - m.nowFunc()
	if d < 0 {
		d = 0
	}
	return time.Duration(d) * time.Millisecond
}

// Fire runs every timer whose deadline has passed and returns how many
// callbacks ran. Repeating timers are re-armed at deadline+interval before
// their callback runs, so a callback may stop or restart any timer.
func (m *TimerManager) Fire() int {
	now := m.nowFunc()
	type dueTimer struct {
		gen uint64
		rec *timerRecord
	}
	var due []dueTimer
	for m.head != nil && m.head.deadline <= now {
		rec := m.head
		m.unlinkNode(rec)
		due = append(due, dueTimer{rec.gen, rec})
	}

	fired := 0
	for _, d := range due {
		rec := d.rec
		if rec.gen != d.gen || m.active[rec.id] != rec {
			continue // stopped or restarted by an earlier callback
		}
		fn := rec.fn
		if rec.interval > 0 {
			rec.deadline += rec.interval
			m.insert(rec)
			fn()
		} else {
			delete(m.active, rec.id)
			fn()
			m.recycle(rec)
		}
		fired++
	}
	return fired
}

func (m *TimerManager) insert(rec *timerRecord) {
	// Walk from the tail: new and re-armed timers usually land late.
	at := m.tail
	for at != nil && at.deadline > rec.deadline {
		at = at.prev
	}
	if at == nil {
		rec.prev, rec.next = nil, m.head
		if m.head != nil {
			m.head.prev = rec
		} else {
			m.tail = rec
		}
		m.head = rec
		return
	}
	rec.prev, rec.next = at, at.next
	if at.next != nil {
		at.next.prev = rec
	} else {
		m.tail = rec
	}
	at.next = rec
}

func (m *TimerManager) unlink(rec *timerRecord) {
	if rec.prev != nil || rec.next != nil || m.head == rec {
		m.unlinkNode(rec)
	}
}

func (m *TimerManager) unlinkNode(rec *timerRecord) {
	if rec.prev != nil {
		rec.prev.next = rec.next
	} else {
		m.head = rec.next
	}
	if rec.next != nil {
		rec.next.prev = rec.prev
	} else {
		m.tail = rec.prev
	}
	rec.prev, rec.next = nil, nil
}

func (m *TimerManager) alloc() *timerRecord {
	if n := len(m.free); n > 0 {
		rec := m.free[n-1]
		m.free = m.free[:n-1]
		return rec
	}
	return &timerRecord{}
}

func (m *TimerManager) release(rec *timerRecord) {
	delete(m.active, rec.id)
	m.recycle(rec)
}

func (m *TimerManager) recycle(rec *timerRecord) {
	*rec = timerRecord{}
	m.free = append(m.free, rec)
}
