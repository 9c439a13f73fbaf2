package reactor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/YuanQin2000/datax/internal/status"
)

func TestLooper_MemQueueDeliversInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	var mu sync.Mutex
	var got []int
	runner := RunnerFunc(func(msg *Message) {
		mu.Lock()
		got = append(got, msg.Command.(int))
		mu.Unlock()
	})
	l := NewLooper("mem", NewMemQueue(8), runner, zaptest.NewLogger(t))
	l.Start()

	for i := 0; i < 100; i++ {
		require.NoError(t, l.Post(&Message{Kind: MsgUser, Command: i}))
	}
	require.NoError(t, l.RunSync(func() {}))
	l.Exit()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLooper_InLoopAndInlineSend(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewLooper("inline", NewMemQueue(4), nil, zaptest.NewLogger(t))
	l.Start()
	defer l.Exit()

	assert.False(t, l.InLoop())

	var inLoop, nested bool
	require.NoError(t, l.RunSync(func() {
		inLoop = l.InLoop()
		// Send from the loop thread must not deadlock.
		_ = l.Send(&Message{Kind: MsgAsyncTask, Task: func() { nested = true }})
	}))
	assert.True(t, inLoop)
	assert.True(t, nested)
}

func TestLooper_TimersFromForeignThread(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewLooper("timers", NewMemQueue(4), nil, zaptest.NewLogger(t))
	l.Start()
	defer l.Exit()

	fired := make(chan struct{}, 16)
	id, err := l.StartTimer(5*time.Millisecond, 5*time.Millisecond, func() {
		fired <- struct{}{}
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		select {
		case <-fired:
		case <-time.After(2 * time.Second):
			t.Fatal("timer did not fire")
		}
	}
	require.NoError(t, l.StopTimer(id))
	require.NoError(t, l.RunSync(func() {
		assert.Equal(t, 0, l.timers.Len())
	}))
}

func TestLooper_ExitUnblocksSenders(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewLooper("exit", NewMemQueue(4), nil, zaptest.NewLogger(t))
	l.Start()
	l.Exit()

	select {
	case <-l.Done():
	default:
		t.Fatal("loop still running after Exit")
	}
	assert.Error(t, l.RunSync(func() {}))
	l.Exit() // idempotent
}

func TestLooper_ExitedLoopRunsNothingInline(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewLooper("recycled", NewMemQueue(4), nil, zaptest.NewLogger(t))
	l.Start()
	l.Exit()

	var wg sync.WaitGroup
	var mu sync.Mutex
	ran := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.False(t, l.InLoop())
			err := l.RunSync(func() {
				mu.Lock()
				ran++
				mu.Unlock()
			})
			assert.Error(t, err)
		}()
	}
	wg.Wait()
	assert.Zero(t, ran)
}

func TestMemQueue_TryWriteNeverBlocks(t *testing.T) {
	q := NewMemQueue(1)
	require.NoError(t, q.TryWriteMessage(&Message{Kind: MsgUser}))
	assert.ErrorIs(t, q.TryWriteMessage(&Message{Kind: MsgUser}), status.NoMemory)

	msg, err := q.ReadMessage(0)
	require.NoError(t, err)
	assert.Equal(t, MsgUser, msg.Kind)

	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.TryWriteMessage(&Message{Kind: MsgUser}), status.Inactive)
	assert.ErrorIs(t, q.WriteMessage(&Message{Kind: MsgUser}), status.Inactive)
}
