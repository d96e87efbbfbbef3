package lifecycle

import (
	"errors"
	"testing"
)

type recordingCloser struct {
	name   string
	err    error
	closed *[]string
}

func (c recordingCloser) Close() error {
	*c.closed = append(*c.closed, c.name)
	return c.err
}

func TestManager_ClosesInReverseOrder(t *testing.T) {
	var closed []string
	m := NewManager()
	m.Register("first", recordingCloser{name: "first", closed: &closed})
	m.Register("second", recordingCloser{name: "second", closed: &closed})
	m.Register("third", recordingCloser{name: "third", closed: &closed})

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	want := []string{"third", "second", "first"}
	if len(closed) != len(want) {
		t.Fatalf("closed = %v, want %v", closed, want)
	}
	for i := range want {
		if closed[i] != want[i] {
			t.Fatalf("closed = %v, want %v", closed, want)
		}
	}
}

func TestManager_AggregatesFirstErrorButClosesEverything(t *testing.T) {
	var closed []string
	m := NewManager()
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	m.Register("a", recordingCloser{name: "a", err: errA, closed: &closed})
	m.Register("b", recordingCloser{name: "b", err: errB, closed: &closed})

	err := m.Close()
	if err != errB {
		t.Fatalf("Close() error = %v, want the first error encountered in close order (%v)", err, errB)
	}
	if len(closed) != 2 {
		t.Fatalf("closed = %v, want both resources closed despite the error", closed)
	}
}

func TestManager_RegisterFunc(t *testing.T) {
	called := false
	m := NewManager()
	m.RegisterFunc("fn", func() error {
		called = true
		return nil
	})
	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !called {
		t.Fatal("RegisterFunc's function should run on Close")
	}
}
