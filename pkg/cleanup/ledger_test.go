package cleanup

import (
	"errors"
	"fmt"
	"testing"
)

func TestDrainReverseOrder(t *testing.T) {
	l := New(nil)

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		l.Register(fmt.Sprintf("action-%d", i), func() error {
			order = append(order, i)
			return nil
		})
	}

	l.Drain()

	want := []int{4, 3, 2, 1, 0}
	if len(order) != len(want) {
		t.Fatalf("drained %d actions, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("drain order = %v, want %v", order, want)
			break
		}
	}
}

func TestDrainIdempotent(t *testing.T) {
	l := New(nil)

	count := 0
	l.Register("counter", func() error {
		count++
		return nil
	})

	l.Drain()
	l.Drain()

	if count != 1 {
		t.Errorf("action ran %d times across two drains, want 1", count)
	}
}

func TestDrainContinuesPastFailures(t *testing.T) {
	l := New(t.Logf)

	var ran []string
	l.Register("first", func() error {
		ran = append(ran, "first")
		return nil
	})
	l.Register("failing", func() error {
		ran = append(ran, "failing")
		return errors.New("teardown broke")
	})
	l.Register("panicking", func() error {
		ran = append(ran, "panicking")
		panic("teardown panicked")
	})

	l.Drain()

	// Reverse order, all three despite the failures.
	want := []string{"panicking", "failing", "first"}
	if len(ran) != len(want) {
		t.Fatalf("ran %v, want %v", ran, want)
	}
	for i := range want {
		if ran[i] != want[i] {
			t.Fatalf("ran %v, want %v", ran, want)
		}
	}
}

func TestRemoveSkipsEntry(t *testing.T) {
	l := New(nil)

	var ran []string
	l.Register("keep", func() error {
		ran = append(ran, "keep")
		return nil
	})
	removed := l.Register("removed", func() error {
		ran = append(ran, "removed")
		return nil
	})

	l.Remove(removed)
	if l.Len() != 1 {
		t.Fatalf("Len() = %d after Remove, want 1", l.Len())
	}

	l.Drain()
	if len(ran) != 1 || ran[0] != "keep" {
		t.Errorf("ran %v, want [keep]", ran)
	}
}

func TestRemoveNilIsNoop(t *testing.T) {
	l := New(nil)
	l.Register("a", func() error { return nil })
	l.Remove(nil)
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}
}
