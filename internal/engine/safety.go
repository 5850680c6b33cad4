package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/adarena/engine/internal/model"
)

// SafetyCron periodically reclaims resources that escaped normal cleanup:
// over-age labeled containers, empty engine networks, and matches running
// past the maximum duration.
type SafetyCron struct {
	engine *Engine
	cron   *cron.Cron
}

// NewSafetyCron schedules the sweep at the configured interval.
func NewSafetyCron(e *Engine, interval time.Duration) (*SafetyCron, error) {
	c := cron.New()
	spec := fmt.Sprintf("@every %s", interval)
	if _, err := c.AddFunc(spec, e.safetySweep); err != nil {
		return nil, fmt.Errorf("engine: schedule safety cron: %w", err)
	}
	return &SafetyCron{engine: e, cron: c}, nil
}

// Start begins the schedule.
func (s *SafetyCron) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *SafetyCron) Stop() {
	<-s.cron.Stop().Done()
}

// safetySweep is one pass of the cron: (1) remove labeled containers older
// than the age threshold, (2) remove engine networks with no attached
// containers, (3) force-end matches past the duration threshold, counted
// from admission, or from registration for matches that never reached
// RUNNING. Every step is best-effort.
func (e *Engine) safetySweep() {
	ctx := context.Background()
	now := time.Now().UTC()

	containers, err := e.runtime.ListMatchContainers(ctx)
	if err != nil {
		log.Printf("engine: safety cron: %v", err)
	}
	for _, c := range containers {
		if now.Sub(c.Created) < e.cfg.MaxContainerAge {
			continue
		}
		log.Printf("engine: safety cron: removing over-age container %s (match %s)", c.ID, c.MatchID)
		if err := e.runtime.StopAndRemoveContainer(ctx, c.ID); err != nil {
			log.Printf("engine: safety cron: %v", err)
		}
	}

	networks, err := e.runtime.ListMatchNetworks(ctx)
	if err != nil {
		log.Printf("engine: safety cron: %v", err)
	}
	for _, n := range networks {
		if n.Containers > 0 {
			continue
		}
		// Keep networks of matches that are still live in memory.
		if st, known := e.store.State(n.MatchID); known && st != model.StateEnded {
			continue
		}
		log.Printf("engine: safety cron: removing idle network %s", n.Name)
		if err := e.runtime.RemoveNetworkByID(ctx, n); err != nil {
			log.Printf("engine: safety cron: %v", err)
		}
	}

	for _, id := range e.store.MatchIDs() {
		var overdue bool
		e.store.WithMatch(id, func(m *model.Match) {
			var since time.Time
			switch m.State {
			case model.StateRunning, model.StateInitializing:
				since = m.AdmittedAt
				if since.IsZero() {
					since = m.RegisteredAt
				}
			case model.StateCreated:
				// Provisioned but never started: the cap slot and any
				// infrastructure must not be held forever.
				since = m.RegisteredAt
			default:
				return
			}
			if since.IsZero() {
				return
			}
			overdue = now.Sub(since) > e.cfg.MaxMatchDuration
		})
		if overdue {
			log.Printf("engine: safety cron: force-ending over-duration match %s", id)
			if err := e.StopMatch(id); err != nil {
				log.Printf("engine: safety cron: %v", err)
			}
		}
	}
}
