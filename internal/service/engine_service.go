package service

import (
	"context"
	"errors"

	"github.com/adarena/engine/internal/engine"
	"github.com/adarena/engine/internal/model"
	"github.com/adarena/engine/internal/ratelimit"
	"github.com/adarena/engine/internal/state"
)

// EngineService is the façade the HTTP surface dispatches into.
type EngineService struct {
	engine  *engine.Engine
	limiter *ratelimit.Limiter
}

// NewEngineService wires the service layer.
func NewEngineService(e *engine.Engine, limiter *ratelimit.Limiter) *EngineService {
	return &EngineService{engine: e, limiter: limiter}
}

// --- Provision ---

// TeamRequest is one side of a provision request.
type TeamRequest struct {
	TeamID  string   `json:"teamId"`
	Players []string `json:"players"`
}

// ProvisionRequest is the Provision RPC body.
type ProvisionRequest struct {
	MatchID    string      `json:"matchId"`
	Difficulty string      `json:"difficulty"`
	TeamA      TeamRequest `json:"teamA"`
	TeamB      TeamRequest `json:"teamB"`
}

// Provision validates the request and runs the provisioner.
func (s *EngineService) Provision(ctx context.Context, req ProvisionRequest) (*model.Infrastructure, error) {
	if req.MatchID == "" {
		return nil, invalidArgument("matchId is required")
	}
	if req.Difficulty == "" {
		return nil, invalidArgument("difficulty is required")
	}
	if req.TeamA.TeamID == "" || req.TeamB.TeamID == "" {
		return nil, invalidArgument("teamA.teamId and teamB.teamId are required")
	}
	if req.TeamA.TeamID == req.TeamB.TeamID {
		return nil, invalidArgument("teams must have distinct ids")
	}

	inf, err := s.engine.Provision(ctx, engine.ProvisionParams{
		MatchID:    req.MatchID,
		Difficulty: req.Difficulty,
		TeamA:      engine.TeamSpec{TeamID: req.TeamA.TeamID, Players: req.TeamA.Players},
		TeamB:      engine.TeamSpec{TeamID: req.TeamB.TeamID, Players: req.TeamB.Players},
	})
	switch {
	case err == nil:
		return inf, nil
	case errors.Is(err, engine.ErrAlreadyProvisioned):
		return nil, conflict("match already provisioned")
	case errors.Is(err, state.ErrCapacity):
		return nil, exhausted("engine at match capacity")
	case errors.Is(err, state.ErrMatchExists):
		return nil, conflict("match already registered")
	default:
		return nil, unavailable("provisioning failed")
	}
}

// --- Start ---

// StartRequest is the Start RPC body.
type StartRequest struct {
	MatchID    string   `json:"matchId"`
	Difficulty string   `json:"difficulty"`
	TeamSize   int      `json:"teamSize"`
	TeamA      []string `json:"teamA"`
	TeamB      []string `json:"teamB"`
}

// Start admits a match and drives it to RUNNING.
func (s *EngineService) Start(req StartRequest) error {
	if req.MatchID == "" {
		return invalidArgument("matchId is required")
	}
	if req.TeamSize <= 0 {
		return invalidArgument("teamSize must be a positive integer")
	}

	err := s.engine.StartMatch(engine.StartParams{
		MatchID:    req.MatchID,
		Difficulty: req.Difficulty,
		TeamSize:   req.TeamSize,
		TeamA:      req.TeamA,
		TeamB:      req.TeamB,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, state.ErrCapacity):
		return exhausted("engine at match capacity")
	case errors.Is(err, state.ErrMatchExists):
		return conflict("match already started")
	default:
		return unavailable("match start failed")
	}
}

// --- Reads ---

// Status returns the match's lifecycle state.
func (s *EngineService) Status(matchID string) (model.MatchState, error) {
	st, ok := s.engine.Store().State(matchID)
	if !ok {
		return "", notFound("match not found")
	}
	return st, nil
}

// Infrastructure returns the match's infrastructure record.
func (s *EngineService) Infrastructure(matchID string) (*model.Infrastructure, error) {
	inf, ok := s.engine.Store().Infrastructure(matchID)
	if !ok {
		return nil, notFound("infrastructure not found")
	}
	return inf, nil
}

// Result returns the frozen final result of an ended match.
func (s *EngineService) Result(matchID string) (*model.FinalResult, error) {
	var result *model.FinalResult
	known := s.engine.Store().WithMatch(matchID, func(m *model.Match) {
		result = m.Result
	})
	if !known {
		return nil, notFound("match not found")
	}
	if result == nil {
		return nil, conflict("match has no final result yet")
	}
	return result, nil
}

// --- Stop / Cleanup ---

// Stop drives the match to ENDED. Idempotent.
func (s *EngineService) Stop(matchID string) error {
	if err := s.engine.StopMatch(matchID); err != nil {
		if errors.Is(err, engine.ErrUnknownMatch) {
			return notFound("match not found")
		}
		return unavailable("stop failed")
	}
	return nil
}

// Cleanup tears down whatever infrastructure remains. Idempotent.
func (s *EngineService) Cleanup(matchID string) error {
	if err := s.engine.CleanupInfrastructure(matchID); err != nil {
		if errors.Is(err, engine.ErrUnknownMatch) {
			return notFound("match not found")
		}
		return unavailable("cleanup failed")
	}
	return nil
}
