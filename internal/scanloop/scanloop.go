package scanloop

import (
	"math/rand/v2"
	"time"
)

const (
	// DefaultMinInterval and DefaultJitterRange define the shared sweep cadence
	// for background cleaners (rate-limit purge and similar).
	DefaultMinInterval = 13 * time.Second
	DefaultJitterRange = 4 * time.Second
)

// Run executes fn at a jittered interval until stopCh is closed.
// The interval is: minInterval + random([0, jitterRange)). Jitter keeps
// independent sweeps from aligning.
func Run(stopCh <-chan struct{}, minInterval, jitterRange time.Duration, fn func()) {
	if jitterRange < 0 {
		jitterRange = 0
	}
	run(stopCh, func() time.Duration {
		interval := minInterval
		if jitterRange > 0 {
			interval += time.Duration(rand.Int64N(int64(jitterRange)))
		}
		return interval
	}, fn)
}

// RunFixed executes fn at an exact fixed period until stopCh is closed.
// The match tick loop runs on this: scoring windows are period-aligned, so
// the cadence must not drift.
func RunFixed(stopCh <-chan struct{}, period time.Duration, fn func()) {
	run(stopCh, func() time.Duration { return period }, fn)
}

// run is the shared loop body. The first fire waits one full interval;
// an in-flight fn completes even if stopCh closes during it.
func run(stopCh <-chan struct{}, next func() time.Duration, fn func()) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C // drain initial fire

	for {
		interval := next()
		if interval <= 0 {
			interval = time.Second
		}

		timer.Reset(interval)
		select {
		case <-stopCh:
			return
		case <-timer.C:
		}
		fn()
	}
}
