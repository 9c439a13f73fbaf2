package reactor

import (
	"errors"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/YuanQin2000/datax/internal/status"
)

// Runner receives the user-level messages of a Looper (external commands
// and MsgUser payloads) on the loop thread.
type Runner interface {
	OnMessage(msg *Message)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(msg *Message)

func (f RunnerFunc) OnMessage(msg *Message) { f(msg) }

// Looper owns one OS thread and runs the read, dispatch, fire-timers cycle
// against a MessageSwitch.
type Looper struct {
	id     string
	name   string
	sw     MessageSwitch
	runner Runner
	timers *TimerManager
	logger *zap.Logger

	tid     atomic.Int32
	running atomic.Bool
	exiting bool
	started chan struct{}
	done    chan struct{}
}

// NewLooper creates a looper over sw. The runner may be nil when only
// system messages are expected, or set later with SetRunner before Start.
func NewLooper(name string, sw MessageSwitch, runner Runner, logger *zap.Logger) *Looper {
	id := uuid.NewString()
	return &Looper{
		id:      id,
		name:    name,
		sw:      sw,
		runner:  runner,
		timers:  NewTimerManager(),
		logger:  logger.Named("looper").With(zap.String("looper", name), zap.String("looper_id", id)),
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (l *Looper) ID() string            { return l.id }
func (l *Looper) Name() string          { return l.name }
func (l *Looper) Switch() MessageSwitch { return l.sw }
func (l *Looper) Done() <-chan struct{} { return l.done }

// SetRunner must be called before Start.
func (l *Looper) SetRunner(r Runner) { l.runner = r }

// Start spawns the loop goroutine and returns once the loop thread id is
// known, so InLoop is reliable as soon as Start returns.
func (l *Looper) Start() {
	if !l.running.CompareAndSwap(false, true) {
		return
	}
	go l.loop()
	<-l.started
}

// InLoop reports whether the caller runs on the loop thread.
func (l *Looper) InLoop() bool {
	tid := l.tid.Load()
	return tid != 0 && tid == int32(gettid())
}

func (l *Looper) loop() {
	// The goroutine keeps the thread for its whole life so the thread id
	// identifies the loop. The thread is never unlocked: it terminates with
	// the goroutine instead of being handed to another one that would then
	// pass the InLoop check.
	runtime.LockOSThread()

	tid := gettid()
	l.tid.Store(int32(tid))
	binder, _ := l.sw.(threadBinder)
	if binder != nil {
		binder.BindThread(tid)
	}
	close(l.started)
	defer close(l.done)
	defer func() {
		l.tid.Store(0)
		if binder != nil {
			binder.BindThread(0)
		}
	}()
	defer func() {
		if err := l.sw.Close(); err != nil {
			l.logger.Debug("switch close failed", zap.Error(err))
		}
	}()

	l.logger.Debug("loop started", zap.Int("tid", tid))
	for !l.exiting {
		msg, err := l.sw.ReadMessage(l.timers.NextTimeout())
		if err != nil {
			if !errors.Is(err, status.Inactive) {
				l.logger.Error("message switch failed; leaving loop", zap.Error(err))
			}
			break
		}
		if msg != nil {
			l.dispatch(msg)
			msg.complete()
		}
		l.timers.Fire()
	}
	l.logger.Debug("loop finished")
}

func (l *Looper) dispatch(msg *Message) {
	switch msg.Kind {
	case MsgExit:
		l.exiting = true
	case MsgAsyncTask:
		if msg.Task != nil {
			msg.Task()
		}
	case MsgStartTimer:
		t := msg.timer
		l.timers.Start(t.id, t.delay, t.interval, t.fn)
	case MsgStopTimer:
		l.timers.Stop(msg.timer.id)
	default:
		if l.runner != nil {
			l.runner.OnMessage(msg)
		} else {
			l.logger.Debug("dropping message without runner", zap.Stringer("kind", msg.Kind))
		}
	}
}

// Post delivers msg asynchronously.
func (l *Looper) Post(msg *Message) error {
	return l.sw.WriteMessage(msg)
}

// Send delivers msg and waits until it has been dispatched. On the loop
// thread the message is dispatched inline.
func (l *Looper) Send(msg *Message) error {
	if l.InLoop() {
		l.dispatch(msg)
		return nil
	}
	msg.done = make(chan struct{})
	done := msg.done
	if err := l.sw.WriteMessage(msg); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-l.done:
		return status.Inactive
	}
}

// RunTask schedules fn on the loop thread. It never runs fn inline.
func (l *Looper) RunTask(fn func()) error {
	return l.Post(&Message{Kind: MsgAsyncTask, Task: fn})
}

// RunSync runs fn on the loop thread and waits for it.
func (l *Looper) RunSync(fn func()) error {
	return l.Send(&Message{Kind: MsgAsyncTask, Task: fn})
}

// StartTimer arms a timer. On the loop thread it takes effect immediately,
// otherwise it is marshaled; the id is valid either way.
func (l *Looper) StartTimer(delay, interval time.Duration, fn func()) (TimerID, error) {
	id := l.timers.NewID()
	if l.InLoop() {
		l.timers.Start(id, delay, interval, fn)
		return id, nil
	}
	err := l.Post(&Message{Kind: MsgStartTimer, timer: timerSpec{id: id, delay: delay, interval: interval, fn: fn}})
	return id, err
}

func (l *Looper) StopTimer(id TimerID) error {
	if l.InLoop() {
		l.timers.Stop(id)
		return nil
	}
	return l.Post(&Message{Kind: MsgStopTimer, timer: timerSpec{id: id}})
}

// Exit stops the loop. Called from another goroutine it waits for the loop
// to finish; on the loop thread it only flags the exit.
func (l *Looper) Exit() {
	if !l.running.Load() {
		return
	}
	if l.InLoop() {
		l.exiting = true
		return
	}
	select {
	case <-l.done:
		return
	default:
	}
	if err := l.Post(&Message{Kind: MsgExit}); err != nil {
		l.logger.Debug("exit message not delivered", zap.Error(err))
	}
	<-l.done
}
