package engine

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/adarena/engine/internal/model"
	"github.com/adarena/engine/internal/scanloop"
)

const captureBonus = 10

// startTicker launches the match's tick loop: one serialized producer of
// tick events with a fixed period, first firing one period after RUNNING
// entry. Starting an already-ticking match is a no-op.
func (e *Engine) startTicker(matchID string) {
	stopCh := make(chan struct{})
	if _, loaded := e.tickStops.LoadOrStore(matchID, stopCh); loaded {
		return
	}

	e.tickWG.Add(1)
	go func() {
		defer e.tickWG.Done()
		scanloop.RunFixed(stopCh, e.cfg.TickInterval, func() {
			e.runTick(matchID)
		})
	}()
}

// stopTicker stops the match's tick loop if one is alive. An in-flight tick
// body completes; no further tick fires.
func (e *Engine) stopTicker(matchID string) {
	if stopCh, ok := e.tickStops.LoadAndDelete(matchID); ok {
		close(stopCh)
	}
}

// runTick executes one tick: probe every service, update health records and
// up/down counters, accrue uptime score, grant capture bonuses for the
// pre-increment tick, then advance the tick and rotate flags. Probes and
// flag injection run outside the match lock; all state mutation is under it.
func (e *Engine) runTick(matchID string) {
	var (
		tick     int
		services []model.Container
		running  bool
	)
	e.store.WithMatch(matchID, func(m *model.Match) {
		running = m.State == model.StateRunning
		tick = m.CurrentTick
	})
	if !running {
		return
	}
	if inf, ok := e.store.Infrastructure(matchID); ok {
		services = inf.Services()
	}

	// Probe outside the lock: probes block for up to their deadline.
	results := make(map[string]bool, len(services))
	ctx := context.Background()
	for _, c := range services {
		results[c.ServiceID] = e.prober(ctx, c)
	}

	e.store.WithMatch(matchID, func(m *model.Match) {
		if m.State != model.StateRunning {
			return
		}
		now := time.Now().UTC()

		for _, c := range services {
			up := results[c.ServiceID]
			rec := m.Health[c.ServiceID]
			if rec == nil {
				rec = &model.HealthRecord{}
				m.Health[c.ServiceID] = rec
			}
			rec.LastProbe = now
			if up {
				rec.Status = model.HealthUp
				rec.ConsecutiveFailures = 0
			} else {
				rec.Status = model.HealthDown
				rec.ConsecutiveFailures++
			}

			team := m.TeamOf(c.TeamID)
			if team == nil {
				continue
			}
			if up {
				team.UptimeTicks++
				team.Score = model.SaturateScore(team.Score + 1)
			} else {
				team.DowntimeTicks++
				team.Score = model.SaturateScore(team.Score - 1)
			}
		}

		// Capture bonuses finalize scoring for this tick: the submission
		// window for (service, tick) has closed once we advance.
		suffix := "|" + strconv.Itoa(tick)
		for key, teamID := range m.Captures {
			if !strings.HasSuffix(key, suffix) {
				continue
			}
			if team := m.TeamOf(teamID); team != nil {
				team.Score = model.SaturateScore(team.Score + captureBonus)
			}
		}

		m.CurrentTick = tick + 1
	})

	// Rotate flags for the new tick. Individual injection failures are
	// logged and do not abort the tick.
	next := tick + 1
	for _, c := range services {
		flag := e.flags.Generate(matchID, c.ServiceID, next)
		if err := e.runtime.InjectFlag(ctx, c.ID, c.FlagPath, flag); err != nil {
			log.Printf("engine: match %s tick %d: rotate flag for %s: %v", matchID, next, c.ServiceID, err)
		}
	}
}
