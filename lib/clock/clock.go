// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for the watcher's scheduling loop.
// Production code injects Real(); tests inject Fake() and advance
// time deterministically. Scan-time age computations take explicit
// time.Time arguments instead, so only code that actually waits on
// the wall clock depends on this package.
package clock

import "time"

// Clock provides the two time operations curator waits on. Any code
// that would call time.Now or time.After directly should take a Clock
// instead.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after
	// duration d elapses. If d <= 0, the channel receives
	// immediately.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
