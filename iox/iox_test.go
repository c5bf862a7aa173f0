package iox

import (
	"errors"
	"io"
	"strings"
	"testing"
)

type spyCloser struct {
	closed bool
	err    error
}

func (s *spyCloser) Close() error { s.closed = true; return s.err }

type spyBody struct {
	io.Reader
	spyCloser
}

func TestDiscardClose(t *testing.T) {
	s := &spyCloser{err: errors.New("ignored")}
	DiscardClose(s)
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestDrainClose(t *testing.T) {
	r := strings.NewReader(strings.Repeat("x", 1024))
	b := &spyBody{Reader: r}
	DrainClose(b)
	if !b.closed {
		t.Fatal("Close was not called")
	}
	if r.Len() != 0 {
		t.Errorf("%d bytes left unread", r.Len())
	}
}

func TestCloseFunc(t *testing.T) {
	s := &spyCloser{}
	fn := CloseFunc(s)
	if s.closed {
		t.Fatal("Close called before invoking returned func")
	}
	fn()
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestDiscardErr(t *testing.T) {
	called := false
	DiscardErr(func() error {
		called = true
		return errors.New("ignored")
	})
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestCloseAll(t *testing.T) {
	errA := errors.New("a")
	a := &spyCloser{err: errA}
	b := &spyCloser{}

	err := CloseAll(a, nil, b)
	if !a.closed || !b.closed {
		t.Fatal("not every closer was closed")
	}
	if !errors.Is(err, errA) {
		t.Errorf("CloseAll error = %v, want %v", err, errA)
	}
	if err := CloseAll(b); err != nil {
		t.Errorf("CloseAll = %v, want nil", err)
	}
}
