// Package stream relays tokens from a background generation task to a byte
// stream in production order.
package stream

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"chatd/internal/llm"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateInit State = iota
	StateRunning
	StateDraining
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// DefaultBuffer is the token channel capacity used when none is configured.
const DefaultBuffer = 64

// Task produces tokens through emit. emit blocks while the relay is behind
// and fails once the session context is cancelled.
type Task func(ctx context.Context, emit llm.TokenFunc) error

// Session is one streaming request. It is not reusable.
type Session struct {
	id     string
	buffer int

	state   atomic.Int32
	relayed atomic.Int64
	bytes   atomic.Int64
}

func NewSession(buffer int) *Session {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Session{id: uuid.NewString(), buffer: buffer}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

// Relayed reports how many tokens have been written.
func (s *Session) Relayed() int64 { return s.relayed.Load() }

// BytesWritten reports how many bytes have been written.
func (s *Session) BytesWritten() int64 { return s.bytes.Load() }

// Run starts task in a goroutine and writes every token it emits to w,
// calling flush after each one. It returns after the task has finished, so
// anything the task does after its last token has completed. The returned
// error is the write error if the relay failed, otherwise the task error.
func (s *Session) Run(ctx context.Context, w io.Writer, flush func(), task Task) error {
	if !s.state.CompareAndSwap(int32(StateInit), int32(StateRunning)) {
		return errors.New("stream: session already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tokens := make(chan string, s.buffer)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(tokens)
		return task(gctx, func(tok string) error {
			select {
			case tokens <- tok:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	s.state.Store(int32(StateDraining))
	var writeErr error
	for tok := range tokens {
		if writeErr != nil {
			continue
		}
		n, err := io.WriteString(w, tok)
		s.bytes.Add(int64(n))
		if err != nil {
			writeErr = err
			cancel()
			continue
		}
		s.relayed.Add(1)
		if flush != nil {
			flush()
		}
	}

	taskErr := g.Wait()
	switch {
	case writeErr != nil:
		s.state.Store(int32(StateError))
		return writeErr
	case taskErr != nil:
		s.state.Store(int32(StateError))
		return taskErr
	}
	s.state.Store(int32(StateDone))
	return nil
}
