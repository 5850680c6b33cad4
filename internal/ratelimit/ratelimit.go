// Package ratelimit bounds flag submissions per (match, team) in rolling
// one-minute windows.
package ratelimit

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/zeebo/xxh3"

	"github.com/adarena/engine/internal/scanloop"
)

const windowLength = time.Minute

// Limiter counts submissions per (matchID, teamID) key. Windows are keyed by
// the xxh3 hash of the pair; stale windows are purged by a background sweep.
type Limiter struct {
	max     int
	windows *xsync.Map[uint64, *window]

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// now is a clock seam for tests.
	now func() time.Time
}

type window struct {
	mu    sync.Mutex
	start time.Time
	count int
}

// New creates a Limiter admitting at most max submissions per key per window.
func New(max int) *Limiter {
	return &Limiter{
		max:     max,
		windows: xsync.NewMap[uint64, *window](),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
}

func key(matchID, teamID string) uint64 {
	return xxh3.HashString(matchID + "|" + teamID)
}

// Allow reports whether a submission for (matchID, teamID) is admitted, and
// counts it if so. Exactly max submissions pass per window; the max+1-th is
// rejected.
func (l *Limiter) Allow(matchID, teamID string) bool {
	w, _ := l.windows.LoadOrCompute(key(matchID, teamID), func() (*window, bool) {
		return &window{}, false
	})

	now := l.now()
	w.mu.Lock()
	defer w.mu.Unlock()

	if now.Sub(w.start) >= windowLength {
		w.start = now
		w.count = 0
	}
	if w.count >= l.max {
		return false
	}
	w.count++
	return true
}

// Start launches the background purge of stale windows.
func (l *Limiter) Start() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		scanloop.Run(l.stopCh, scanloop.DefaultMinInterval, scanloop.DefaultJitterRange, l.sweep)
	}()
}

// Stop terminates the purge loop and waits for it to finish.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
}

func (l *Limiter) sweep() {
	cutoff := l.now().Add(-2 * windowLength)
	l.windows.Range(func(k uint64, w *window) bool {
		w.mu.Lock()
		stale := w.start.Before(cutoff)
		w.mu.Unlock()
		if stale {
			l.windows.Delete(k)
		}
		return true
	})
}
