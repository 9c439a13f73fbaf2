package codec

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/YuanQin2000/datax/internal/status"
)

const outputBlockSize = 16 << 10

var errAborted = errors.New("codec: stream aborted")

// stream turns a pull-style io.Reader decoder into a push-style
// Decompressor. The decoder runs on its own goroutine and reads from a
// feed; every time the feed runs dry the goroutine parks and control
// returns to the caller with the output produced so far. Only one side
// runs at a time, so out and err need no lock.
//
// The decoder reports idle exactly once per hand-off; parked records that
// the signal has been consumed and the decoder is waiting on input.
type stream struct {
	open  func(io.Reader) (io.Reader, func(), error)
	limit int64

	input chan []byte   // caller -> decoder; closed by Finish
	idle  chan struct{} // decoder -> caller: input exhausted
	quit  chan struct{} // closed by Close
	done  chan struct{} // closed when the decoder goroutine exits

	startOnce sync.Once
	closeOnce sync.Once
	started   bool
	finished  bool
	fed       bool
	parked    bool

	out   [][]byte
	total int64
	err   error
}

func newStream(open func(io.Reader) (io.Reader, func(), error), limit int64) *stream {
	return &stream{
		open:  open,
		limit: limit,
		input: make(chan []byte),
		idle:  make(chan struct{}),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

type feed struct {
	s   *stream
	cur []byte
	eof bool
}

func (f *feed) Read(p []byte) (int, error) {
	for len(f.cur) == 0 {
		if f.eof {
			return 0, io.EOF
		}
		select {
		case f.s.idle <- struct{}{}:
		case <-f.s.quit:
			return 0, errAborted
		}
		select {
		case b, ok := <-f.s.input:
			if !ok {
				f.eof = true
				return 0, io.EOF
			}
			f.cur = b
		case <-f.s.quit:
			return 0, errAborted
		}
	}
	n := copy(p, f.cur)
	f.cur = f.cur[n:]
	return n, nil
}

func (s *stream) start() {
	s.startOnce.Do(func() {
		s.started = true
		go s.decode()
	})
}

func (s *stream) decode() {
	defer close(s.done)

	r, release, err := s.open(&feed{s: s})
	if err != nil {
		s.err = classify(err)
		return
	}
	defer release()

	buf := make([]byte, outputBlockSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.total += int64(n)
			if s.limit > 0 && s.total > s.limit {
				s.err = fmt.Errorf("decoded body exceeds %d bytes: %w", s.limit, status.NoMemory)
				return
			}
			s.out = append(s.out, append([]byte(nil), buf[:n]...))
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			s.err = classify(err)
			return
		}
	}
}

func classify(err error) error {
	if errors.Is(err, errAborted) {
		return status.Inactive
	}
	return fmt.Errorf("decode: %v: %w", err, status.ProtocolMalformed)
}

// park waits until the decoder is idle or has exited. It returns false
// once the decoder is gone.
func (s *stream) park() bool {
	if s.parked {
		return true
	}
	select {
	case <-s.idle:
		s.parked = true
		return true
	case <-s.done:
		return false
	}
}

// hand passes in to a parked decoder and waits for it to drain.
func (s *stream) hand(in []byte) {
	s.parked = false
	select {
	case s.input <- in:
	case <-s.done:
		return
	}
	s.park()
}

func (s *stream) collect() [][]byte {
	out := s.out
	s.out = nil
	return out
}

func (s *stream) Process(in []byte) ([][]byte, error) {
	if s.finished {
		return nil, status.Inactive
	}
	if len(in) == 0 {
		return nil, s.err
	}
	s.fed = true
	s.start()
	if !s.park() {
		if s.err == nil {
			s.err = fmt.Errorf("data after end of stream: %w", status.ProtocolMalformed)
		}
		return s.collect(), s.err
	}
	s.hand(in)
	return s.collect(), s.err
}

func (s *stream) Finish() ([][]byte, error) {
	if s.finished {
		return nil, s.err
	}
	s.finished = true
	if !s.fed {
		// An empty body carries no stream header; nothing to decode.
		return nil, nil
	}
	s.start()
	if s.park() {
		s.parked = false
		close(s.input)
		<-s.done
	}
	return s.collect(), s.err
}

func (s *stream) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		if s.started {
			<-s.done
		}
	})
}
