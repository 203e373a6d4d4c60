// Package poll provides the bounded fixed-interval wait primitive used for
// every readiness check. None of the systems this orchestrator talks to
// expose a push channel, so all waiting is wall-clock polling.
package poll

import (
	"context"
	"time"
)

// Await polls predicate at a fixed interval until it returns true or the
// timeout elapses, and reports whether the predicate ever became true. The
// first check runs immediately. There is no backoff: checks are cheap
// relative to the reconciliation they await, and a predictable total wait
// matters more than poll volume.
//
// The predicate is responsible for distinguishing "not ready yet" from
// "permanently broken"; Await has no notion of the difference and will
// exhaust its timeout on persistent failure.
func Await(ctx context.Context, timeout, interval time.Duration, predicate func() bool) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if predicate() {
		return true
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if predicate() {
				return true
			}
		}
	}
}
