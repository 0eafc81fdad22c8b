package lifecycle

import (
	"errors"
	"testing"
)

func TestShutdownRunsLIFO(t *testing.T) {
	s := NewSystem()
	var order []int
	s.AddHandler(func() error { order = append(order, 1); return nil })
	s.AddHandler(func() error { order = append(order, 2); return nil })
	s.AddHandler(func() error { order = append(order, 3); return nil })

	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if len(order) != 3 || order[0] != 3 || order[2] != 1 {
		t.Errorf("Expected LIFO order [3 2 1], got %v", order)
	}
}

func TestShutdownOnce(t *testing.T) {
	s := NewSystem()
	calls := 0
	s.AddHandler(func() error { calls++; return nil })

	_ = s.Shutdown()
	_ = s.Shutdown()
	if calls != 1 {
		t.Errorf("Handler should run exactly once, ran %d times", calls)
	}
}

func TestShutdownCollectsAllErrors(t *testing.T) {
	s := NewSystem()
	ran := 0
	s.AddHandler(func() error { ran++; return errors.New("first") })
	s.AddHandler(func() error { ran++; return errors.New("second") })

	err := s.Shutdown()
	if err == nil {
		t.Fatal("Expected aggregated error")
	}
	if ran != 2 {
		t.Errorf("A failing handler must not stop the others, ran %d", ran)
	}
}
