package service

import (
	"github.com/adarena/engine/internal/model"
)

// Submission rejection reasons. Generic on purpose: a submitter learns
// nothing about why a flag failed beyond these strings, and the flag value
// itself is never logged or echoed.
const (
	ReasonUnknownMatch = "unknown match"
	ReasonNotRunning   = "match is not running"
	ReasonUnknownTeam  = "unknown team"
	ReasonMalformed    = "malformed flag"
	ReasonInvalid      = "invalid or expired flag"
	ReasonDuplicate    = "flag already captured for this tick"
	ReasonOwnFlag      = "cannot submit own team flag"
)

// SubmitRequest is the flag submission body.
type SubmitRequest struct {
	MatchID string `json:"matchId"`
	TeamID  string `json:"teamId"`
	Flag    string `json:"flag"`
}

// SubmitResult is the submission outcome. Accepted and Reason are mutually
// exclusive.
type SubmitResult struct {
	Accepted bool
	Reason   string
}

func rejected(reason string) SubmitResult {
	return SubmitResult{Reason: reason}
}

// SubmitFlag rate-limits, validates, and records one flag submission.
// A rate-limit refusal is the only rejection surfaced as an error (it maps
// to 429); every other rejection is a normal result with a reason.
func (s *EngineService) SubmitFlag(req SubmitRequest) (SubmitResult, error) {
	if req.MatchID == "" || req.TeamID == "" || req.Flag == "" {
		return SubmitResult{}, invalidArgument("matchId, teamId and flag are required")
	}

	if !s.limiter.Allow(req.MatchID, req.TeamID) {
		return SubmitResult{}, rateLimited("flag submission rate exceeded")
	}

	store := s.engine.Store()

	st, known := store.State(req.MatchID)
	if !known {
		return rejected(ReasonUnknownMatch), nil
	}
	if st != model.StateRunning {
		return rejected(ReasonNotRunning), nil
	}

	var submitterSide model.Side
	var validTeam bool
	store.WithMatch(req.MatchID, func(m *model.Match) {
		switch req.TeamID {
		case m.TeamA.ID:
			submitterSide, validTeam = model.SideTeamA, true
		case m.TeamB.ID:
			submitterSide, validTeam = model.SideTeamB, true
		}
	})
	if !validTeam {
		return rejected(ReasonUnknownTeam), nil
	}

	tick, _ := store.CurrentTick(req.MatchID)
	candidates := store.ServiceIDs(req.MatchID)

	v, ok := s.engine.Flags().Validate(req.MatchID, req.Flag, tick, candidates)
	if !ok {
		if !looksLikeFlag(req.Flag) {
			return rejected(ReasonMalformed), nil
		}
		return rejected(ReasonInvalid), nil
	}

	var ownerSide model.Side
	var ownerKnown bool
	store.WithMatch(req.MatchID, func(m *model.Match) {
		ownerSide, ownerKnown = model.ServiceOwnerSide(m, v.ServiceID)
	})
	if ownerKnown && ownerSide == submitterSide {
		return rejected(ReasonOwnFlag), nil
	}

	if !store.RecordFlagCapture(req.MatchID, v.ServiceID, v.Tick, req.TeamID) {
		return rejected(ReasonDuplicate), nil
	}

	store.WithMatch(req.MatchID, func(m *model.Match) {
		if team := m.TeamOf(req.TeamID); team != nil {
			team.FlagsCaptured++
		}
	})

	return SubmitResult{Accepted: true}, nil
}

// looksLikeFlag distinguishes shape errors from valid-looking-but-wrong
// flags for the rejection reason only; validation itself already failed.
func looksLikeFlag(s string) bool {
	return len(s) > len("FLAG{}") && s[:5] == "FLAG{" && s[len(s)-1] == '}'
}
