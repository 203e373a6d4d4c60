package poll

import (
	"context"
	"testing"
	"time"
)

func TestAwaitImmediateTrue(t *testing.T) {
	start := time.Now()
	ok := Await(context.Background(), time.Second, 100*time.Millisecond, func() bool { return true })
	if !ok {
		t.Fatal("Await() = false, want true")
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("immediate predicate took %v, want no interval wait", elapsed)
	}
}

func TestAwaitBecomesTrueOnNthCall(t *testing.T) {
	const n = 3
	interval := 20 * time.Millisecond

	calls := 0
	start := time.Now()
	ok := Await(context.Background(), time.Second, interval, func() bool {
		calls++
		return calls >= n
	})
	elapsed := time.Since(start)

	if !ok {
		t.Fatal("Await() = false, want true")
	}
	if calls != n {
		t.Errorf("predicate called %d times, want %d", calls, n)
	}

	// (N-1) intervals, with slack for scheduling.
	wantMin := time.Duration(n-1) * interval
	if elapsed < wantMin {
		t.Errorf("elapsed %v, want at least %v", elapsed, wantMin)
	}
	if elapsed > wantMin+200*time.Millisecond {
		t.Errorf("elapsed %v, want approximately %v", elapsed, wantMin)
	}
}

func TestAwaitTimesOut(t *testing.T) {
	timeout := 80 * time.Millisecond

	start := time.Now()
	ok := Await(context.Background(), timeout, 10*time.Millisecond, func() bool { return false })
	elapsed := time.Since(start)

	if ok {
		t.Fatal("Await() = true, want false on timeout")
	}
	if elapsed < timeout {
		t.Errorf("returned after %v, before the %v timeout", elapsed, timeout)
	}
	if elapsed > timeout+200*time.Millisecond {
		t.Errorf("returned after %v, want approximately %v", elapsed, timeout)
	}
}

func TestAwaitHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok := Await(ctx, time.Second, 10*time.Millisecond, func() bool { return false })
	if ok {
		t.Fatal("Await() = true with cancelled context, want false")
	}
}
