// Package cleanup tracks teardown actions for every resource a run
// creates and drains them in reverse order exactly once at process exit.
package cleanup

import (
	"sync"
)

// Entry is a registered teardown action. Holders use it to remove an
// action they have already executed themselves.
type Entry struct {
	name string
	fn   func() error
}

// Ledger is an ordered, append-only list of teardown actions. It is
// constructed per run so concurrent runs in one process never share state.
// An action must be registered immediately after the resource it tears
// down is confirmed created, before any subsequent step that could fail.
type Ledger struct {
	mu      sync.Mutex
	entries []*Entry
	drain   sync.Once
	logf    func(format string, args ...any)
}

// New creates an empty Ledger. logf receives progress and failure lines
// during Drain; a nil logf discards them.
func New(logf func(format string, args ...any)) *Ledger {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Ledger{logf: logf}
}

// Register appends a teardown action. The returned Entry can be passed to
// Remove if the caller tears the resource down itself before drain time.
func (l *Ledger) Register(name string, fn func() error) *Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := &Entry{name: name, fn: fn}
	l.entries = append(l.entries, e)
	return e
}

// Remove unregisters an entry. Used when a resource is torn down early
// (e.g. a port-forward stopped right after a successful probe) to avoid a
// double-terminate at drain time.
func (l *Ledger) Remove(e *Entry) {
	if e == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, cur := range l.entries {
		if cur == e {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

// Len returns the number of currently registered actions.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Drain invokes every registered action in strict reverse-of-registration
// order, exactly once per Ledger lifetime. Individual failures (errors or
// panics) are logged and never re-raised, so one failing teardown cannot
// block the rest. A second call is a no-op.
func (l *Ledger) Drain() {
	l.drain.Do(func() {
		l.mu.Lock()
		entries := make([]*Entry, len(l.entries))
		copy(entries, l.entries)
		l.entries = nil
		l.mu.Unlock()

		for i := len(entries) - 1; i >= 0; i-- {
			l.runOne(entries[i])
		}
	})
}

func (l *Ledger) runOne(e *Entry) {
	defer func() {
		if r := recover(); r != nil {
			l.logf("cleanup %s panicked: %v", e.name, r)
		}
	}()

	l.logf("cleanup: %s", e.name)
	if err := e.fn(); err != nil {
		l.logf("cleanup %s failed: %v", e.name, err)
	}
}

// Logf writes through the ledger's logger. Teardown closures use it so
// their output lands alongside the drain log.
func (l *Ledger) Logf(format string, args ...any) {
	l.logf(format, args...)
}
