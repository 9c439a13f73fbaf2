package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newManualTimers returns a manager whose clock is driven by the test.
func newManualTimers() (*TimerManager, *int64) {
	m := NewTimerManager()
	var now int64
	m.nowFunc = func() int64 { return now }
	return m, &now
}

func TestTimerManager_FiresInDeadlineOrder(t *testing.T) {
	m, now := newManualTimers()
	var order []string
	m.Start(m.NewID(), 30*time.Millisecond, 0, func() { order = append(order, "c") })
	m.Start(m.NewID(), 10*time.Millisecond, 0, func() { order = append(order, "a") })
	m.Start(m.NewID(), 20*time.Millisecond, 0, func() { order = append(order, "b") })

	assert.Equal(t, 10*time.Millisecond, m.NextTimeout())
	*now = 25
	assert.Equal(t, 2, m.Fire())
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, 5*time.Millisecond, m.NextTimeout())

	*now = 30
	m.Fire()
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, time.Duration(-1), m.NextTimeout())
	assert.Equal(t, 0, m.Len())
}

func TestTimerManager_RepeatingRearmsByInterval(t *testing.T) {
	m, now := newManualTimers()
	count := 0
	id := m.NewID()
	m.Start(id, 10*time.Millisecond, 10*time.Millisecond, func() { count++ })

	for _, at := range []int64{10, 20, 30} {
		*now = at
		require.Equal(t, 1, m.Fire())
	}
	assert.Equal(t, 3, count)
	assert.Equal(t, 1, m.Len())

	assert.True(t, m.Stop(id))
	assert.False(t, m.Stop(id))
	*now = 100
	assert.Equal(t, 0, m.Fire())
}

func TestTimerManager_CallbackMayStopTimers(t *testing.T) {
	m, now := newManualTimers()
	var fired []string
	second := m.NewID()
	first := m.NewID()
	m.Start(first, 5*time.Millisecond, 5*time.Millisecond, func() {
		fired = append(fired, "first")
		m.Stop(first)
		m.Stop(second)
	})
	m.Start(second, 5*time.Millisecond, 0, func() { fired = append(fired, "second") })

	*now = 5
	m.Fire()
	assert.Equal(t, []string{"first"}, fired)
	assert.Equal(t, 0, m.Len())
}

func TestTimerManager_RecordsAreRecycled(t *testing.T) {
	m, now := newManualTimers()
	for i := 0; i < 3; i++ {
		m.Start(m.NewID(), 0, 0, func() {})
	}
	*now = 1
	m.Fire()
	assert.Len(t, m.free, 3)
	m.Start(m.NewID(), time.Millisecond, 0, func() {})
	assert.Len(t, m.free, 2)
}

func TestTimerManager_RestartedTimerKeepsNewDeadline(t *testing.T) {
	m, now := newManualTimers()
	var fired []string
	first := m.NewID()
	second := m.NewID()
	m.Start(first, 5*time.Millisecond, 0, func() {
		fired = append(fired, "first")
		// second is already due; restarting it must push it out.
		m.Stop(second)
		m.Start(second, 50*time.Millisecond, 0, func() { fired = append(fired, "second") })
	})
	m.Start(second, 5*time.Millisecond, 0, func() { fired = append(fired, "stale") })

	*now = 5
	assert.Equal(t, 1, m.Fire())
	assert.Equal(t, []string{"first"}, fired)
	assert.Equal(t, 50*time.Millisecond, m.NextTimeout())

	*now = 55
	assert.Equal(t, 1, m.Fire())
	assert.Equal(t, []string{"first", "second"}, fired)
	assert.Equal(t, 0, m.Len())
}
