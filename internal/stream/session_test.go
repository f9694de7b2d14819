package stream

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"chatd/internal/llm"
)

func emitAll(toks ...string) Task {
	return func(ctx context.Context, emit llm.TokenFunc) error {
		for _, tok := range toks {
			if err := emit(tok); err != nil {
				return err
			}
		}
		return nil
	}
}

func TestRunRelaysInOrder(t *testing.T) {
	s := NewSession(1)
	if s.State() != StateInit || s.ID() == "" {
		t.Fatalf("fresh session: state=%v id=%q", s.State(), s.ID())
	}

	var buf bytes.Buffer
	flushes := 0
	if err := s.Run(context.Background(), &buf, func() { flushes++ }, emitAll("The", " quick", " fox")); err != nil {
		t.Fatalf("run: %v", err)
	}
	if buf.String() != "The quick fox" {
		t.Fatalf("relayed %q", buf.String())
	}
	if flushes != 3 || s.Relayed() != 3 {
		t.Fatalf("flushes=%d relayed=%d, want 3", flushes, s.Relayed())
	}
	if s.BytesWritten() != int64(len("The quick fox")) {
		t.Fatalf("bytes=%d", s.BytesWritten())
	}
	if s.State() != StateDone {
		t.Fatalf("state=%v", s.State())
	}
}

func TestRunJoinsTaskBeforeReturning(t *testing.T) {
	s := NewSession(0)
	var committed atomic.Bool
	task := func(ctx context.Context, emit llm.TokenFunc) error {
		if err := emit("hi"); err != nil {
			return err
		}
		time.Sleep(20 * time.Millisecond)
		committed.Store(true)
		return nil
	}
	if err := s.Run(context.Background(), &bytes.Buffer{}, nil, task); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !committed.Load() {
		t.Fatalf("Run returned before the task finished")
	}
}

func TestRunTaskErrorAfterPartialOutput(t *testing.T) {
	s := NewSession(0)
	boom := errors.New("backend died")
	var buf bytes.Buffer
	err := s.Run(context.Background(), &buf, nil, func(ctx context.Context, emit llm.TokenFunc) error {
		_ = emit("par")
		_ = emit("tial")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected task error, got %v", err)
	}
	if buf.String() != "partial" || s.State() != StateError {
		t.Fatalf("body=%q state=%v", buf.String(), s.State())
	}
}

type failingWriter struct{ after int }

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.after <= 0 {
		return 0, errors.New("client gone")
	}
	w.after--
	return len(p), nil
}

func TestRunWriteFailureCancelsTask(t *testing.T) {
	s := NewSession(1)
	var canceled atomic.Bool
	task := func(ctx context.Context, emit llm.TokenFunc) error {
		for i := 0; i < 1000; i++ {
			if err := emit("x"); err != nil {
				canceled.Store(true)
				return err
			}
		}
		return nil
	}
	err := s.Run(context.Background(), &failingWriter{after: 2}, nil, task)
	if err == nil || !strings.Contains(err.Error(), "client gone") {
		t.Fatalf("expected write error, got %v", err)
	}
	if !canceled.Load() {
		t.Fatalf("task was not cancelled")
	}
	if s.Relayed() != 2 || s.State() != StateError {
		t.Fatalf("relayed=%d state=%v", s.Relayed(), s.State())
	}
}

func TestRunParentCancel(t *testing.T) {
	s := NewSession(1)
	ctx, cancel := context.WithCancel(context.Background())
	task := func(ctx context.Context, emit llm.TokenFunc) error {
		if err := emit("a"); err != nil {
			return err
		}
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}
	if err := s.Run(ctx, &bytes.Buffer{}, nil, task); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunOnce(t *testing.T) {
	s := NewSession(0)
	if err := s.Run(context.Background(), &bytes.Buffer{}, nil, emitAll()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := s.Run(context.Background(), &bytes.Buffer{}, nil, emitAll("a")); err == nil {
		t.Fatalf("second run on the same session should fail")
	}
}
