package reactor

import (
	"sync"
	"time"

	"github.com/YuanQin2000/datax/internal/status"
)

// MemQueue is an in-memory MessageSwitch for loopers that do no I/O.
// WriteMessage blocks while the queue is full; TryWriteMessage does not.
type MemQueue struct {
	ch   chan *Message
	quit chan struct{}
	once sync.Once
}

func NewMemQueue(capacity int) *MemQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &MemQueue{
		ch:   make(chan *Message, capacity),
		quit: make(chan struct{}),
	}
}

func (q *MemQueue) ReadMessage(timeout time.Duration) (*Message, error) {
	switch {
	case timeout < 0:
		select {
		case m := <-q.ch:
			return m, nil
		case <-q.quit:
			return nil, status.Inactive
		}
	case timeout == 0:
		select {
		case m := <-q.ch:
			return m, nil
		case <-q.quit:
			return nil, status.Inactive
		default:
			return nil, nil
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m := <-q.ch:
		return m, nil
	case <-q.quit:
		return nil, status.Inactive
	case <-timer.C:
		return nil, nil
	}
}

func (q *MemQueue) WriteMessage(msg *Message) error {
	select {
	case <-q.quit:
		return status.Inactive
	default:
	}
	select {
	case q.ch <- msg:
		return nil
	case <-q.quit:
		return status.Inactive
	}
}

// TryWriteMessage queues msg only if there is room, failing with
// status.NoMemory otherwise. Loop threads use it to hand work to another
// looper without risking a wait on each other.
func (q *MemQueue) TryWriteMessage(msg *Message) error {
	select {
	case <-q.quit:
		return status.Inactive
	default:
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		return status.NoMemory
	}
}

func (q *MemQueue) Close() error {
	q.once.Do(func() { close(q.quit) })
	return nil
}
