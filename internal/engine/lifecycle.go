package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/adarena/engine/internal/model"
	"github.com/adarena/engine/internal/state"
)

// StartParams carries the Start RPC payload.
type StartParams struct {
	MatchID    string
	Difficulty string
	TeamSize   int
	TeamA      []string
	TeamB      []string
}

// legal transitions; everything else is a logged no-op.
var legalTransitions = map[model.MatchState][]model.MatchState{
	model.StateCreated:      {model.StateInitializing},
	model.StateInitializing: {model.StateRunning, model.StateEnded},
	model.StateRunning:      {model.StateEnding, model.StateEnded},
	model.StateEnding:       {model.StateEnded},
	model.StateEnded:        {},
}

// transition moves m to next if legal. Must be called under the match lock.
func transition(m *model.Match, next model.MatchState) bool {
	for _, allowed := range legalTransitions[m.State] {
		if allowed == next {
			m.State = next
			return true
		}
	}
	log.Printf("engine: match %s: illegal transition %s -> %s ignored", m.ID, m.State, next)
	return false
}

// StartMatch admits a match and drives it CREATED → INITIALIZING → RUNNING.
// A match previously registered by Provision is started in place; an unknown
// id is registered fresh (legacy mode, no infrastructure). Initialization
// failures always reach ENDED.
func (e *Engine) StartMatch(p StartParams) error {
	if _, known := e.store.State(p.MatchID); !known {
		m := &model.Match{
			ID:         p.MatchID,
			State:      model.StateCreated,
			Difficulty: p.Difficulty,
			TeamA:      model.Team{ID: "teamA"},
			TeamB:      model.Team{ID: "teamB"},
			Health:     make(map[string]*model.HealthRecord),
			Captures:   make(map[string]string),
		}
		if err := e.store.Register(m); err != nil {
			return err
		}
	}

	var startErr error
	e.store.WithMatch(p.MatchID, func(m *model.Match) {
		if m.State != model.StateCreated {
			startErr = state.ErrMatchExists
			return
		}
		if !transition(m, model.StateInitializing) {
			startErr = fmt.Errorf("engine: match %s not startable in state %s", m.ID, m.State)
			return
		}

		m.Difficulty = p.Difficulty
		m.TeamSize = p.TeamSize
		m.TeamA.Players = append([]string(nil), p.TeamA...)
		m.TeamB.Players = append([]string(nil), p.TeamB...)

		if inf, ok := e.store.Infrastructure(m.ID); ok {
			now := time.Now().UTC()
			for _, c := range inf.Services() {
				m.Health[c.ServiceID] = &model.HealthRecord{Status: model.HealthUp, LastProbe: now}
			}
		}

		m.CurrentTick = 0
		if !transition(m, model.StateRunning) {
			startErr = fmt.Errorf("engine: match %s failed to enter RUNNING", m.ID)
			return
		}
		m.AdmittedAt = time.Now().UTC()
	})
	if startErr != nil {
		if startErr != state.ErrMatchExists {
			e.abort(p.MatchID)
		}
		return startErr
	}

	e.startTicker(p.MatchID)
	log.Printf("engine: match %s running (difficulty=%s teamSize=%d)", p.MatchID, p.Difficulty, p.TeamSize)
	return nil
}

// StopMatch drives a match to ENDED. Repeat Stop on an ENDED match is a
// no-op. Scores are frozen and the winner computed at RUNNING→ENDING; every
// cleanup step afterwards is best-effort.
func (e *Engine) StopMatch(matchID string) error {
	known := e.store.WithMatch(matchID, func(m *model.Match) {
		switch m.State {
		case model.StateEnded:
			return
		case model.StateRunning:
			m.Result = computeResult(m)
			transition(m, model.StateEnding)
		case model.StateEnding:
			// cleanup already in flight
		default:
			// CREATED / INITIALIZING: nothing scored yet
			m.State = model.StateEnding
		}
	})
	if !known {
		return ErrUnknownMatch
	}

	e.stopTicker(matchID)
	e.cleanup(matchID)
	return nil
}

// abort forces a match to ENDED after an initialization failure or a
// recovery decision. No scores are recorded.
func (e *Engine) abort(matchID string) {
	e.store.WithMatch(matchID, func(m *model.Match) {
		if m.State != model.StateEnded {
			m.State = model.StateEnding
		}
	})
	e.stopTicker(matchID)
	e.cleanup(matchID)
}

// cleanup stops and removes the match's containers, removes its network, and
// deletes the infrastructure record. Each step tolerates failure of the
// others; the match always reaches ENDED.
func (e *Engine) cleanup(matchID string) {
	ctx := context.Background()

	if inf, ok := e.store.Infrastructure(matchID); ok {
		for _, c := range inf.Services() {
			if err := e.runtime.StopAndRemoveContainer(ctx, c.ID); err != nil {
				log.Printf("engine: cleanup match %s: %v", matchID, err)
			}
		}
	}
	if err := e.runtime.RemoveNetwork(ctx, matchID); err != nil {
		log.Printf("engine: cleanup match %s: %v", matchID, err)
	}
	e.store.DeleteInfrastructure(matchID)

	e.store.WithMatch(matchID, func(m *model.Match) {
		if m.State != model.StateEnded {
			m.State = model.StateEnded
		}
	})
	e.store.MarkEnded(matchID)
	log.Printf("engine: match %s ended", matchID)
}

// CleanupInfrastructure is the explicit Cleanup RPC: best-effort teardown of
// whatever infrastructure remains. Safe to repeat; the second call is a no-op.
func (e *Engine) CleanupInfrastructure(matchID string) error {
	if _, known := e.store.State(matchID); !known {
		return ErrUnknownMatch
	}
	e.cleanup(matchID)
	return nil
}

// computeResult freezes the final result. Strictly greater score wins;
// equality records a draw.
func computeResult(m *model.Match) *model.FinalResult {
	winner := model.WinnerDraw
	switch {
	case m.TeamA.Score > m.TeamB.Score:
		winner = model.WinnerTeamA
	case m.TeamB.Score > m.TeamA.Score:
		winner = model.WinnerTeamB
	}
	return &model.FinalResult{
		MatchID:    m.ID,
		Difficulty: m.Difficulty,
		TeamA: model.FinalTeam{
			Players: m.TeamA.Players,
			Score:   m.TeamA.Score,
			Stats: model.TeamStats{
				FlagsCaptured: m.TeamA.FlagsCaptured,
				UptimeTicks:   m.TeamA.UptimeTicks,
				DowntimeTicks: m.TeamA.DowntimeTicks,
			},
		},
		TeamB: model.FinalTeam{
			Players: m.TeamB.Players,
			Score:   m.TeamB.Score,
			Stats: model.TeamStats{
				FlagsCaptured: m.TeamB.FlagsCaptured,
				UptimeTicks:   m.TeamB.UptimeTicks,
				DowntimeTicks: m.TeamB.DowntimeTicks,
			},
		},
		Winner: winner,
	}
}

// Shutdown stops every tick loop and makes a bounded best-effort cleanup of
// all non-ENDED matches. Partial cleanup is acceptable: recovery reconciles
// on the next boot.
func (e *Engine) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, id := range e.store.MatchIDs() {
			if st, ok := e.store.State(id); ok && st != model.StateEnded {
				if err := e.StopMatch(id); err != nil {
					log.Printf("engine: shutdown of match %s: %v", id, err)
				}
			}
		}
		e.tickWG.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("engine: shutdown deadline reached with cleanup incomplete")
	}
}
