// Package globaltime is the process clock. Tests pin it with Freeze.
package globaltime

import (
	"sync/atomic"
	"time"
)

type clockFunc func() time.Time

var clock atomic.Pointer[clockFunc]

func init() {
	Reset()
}

func Now() time.Time {
	return (*clock.Load())()
}

func UTC() time.Time {
	return Now().UTC()
}

// Since is time.Since against the process clock.
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}

// Freeze pins the clock at t and returns a func restoring the previous one.
// Tests that freeze must not run in parallel with tests reading the clock.
func Freeze(t time.Time) (restore func()) {
	fixed := clockFunc(func() time.Time { return t })
	prev := clock.Swap(&fixed)
	return func() { clock.Store(prev) }
}

// Reset returns to the wall clock.
func Reset() {
	wall := clockFunc(time.Now)
	clock.Store(&wall)
}
