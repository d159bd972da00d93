// Package pool recycles the timers that bound every transport read.
package pool

import (
	"sync"
	"time"
)

var readTimers = sync.Pool{
	New: func() any {
		t := time.NewTimer(time.Hour)
		t.Stop()

		return t
	},
}

// AcquireTimer returns a stopped pooled timer restarted to fire after d.
//
// Return it with ReleaseTimer once the read is done.
func AcquireTimer(d time.Duration) *time.Timer {
	t, _ := readTimers.Get().(*time.Timer)
	t.Reset(d)

	return t
}

// ReleaseTimer stops t and returns it to the pool. t must not be used afterwards.
// Relies on Go 1.23 timer semantics: a stopped timer delivers no stale value.
func ReleaseTimer(t *time.Timer) {
	t.Stop()
	readTimers.Put(t)
}
