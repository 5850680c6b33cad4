// Package state holds the engine's only mutable shared store: the match
// registry, the infrastructure map, and the per-match lock discipline.
package state

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/adarena/engine/internal/model"
)

// Store is the in-memory match registry. Every mutator runs under the
// target match's exclusive lock; mutations of distinct matches proceed in
// parallel. Read helpers return snapshots without blocking writers of other
// matches.
type Store struct {
	matches *xsync.Map[string, *entry]
	infra   *xsync.Map[string, *model.Infrastructure]

	// capMu serializes registration against the non-ENDED cap check.
	capMu    sync.Mutex
	maxLive  int
	liveEnds map[string]struct{} // match ids counted against the cap
}

type entry struct {
	mu    sync.Mutex
	match *model.Match
}

// NewStore creates a Store enforcing the given concurrent-match cap.
func NewStore(maxConcurrentMatches int) *Store {
	return &Store{
		matches:  xsync.NewMap[string, *entry](),
		infra:    xsync.NewMap[string, *model.Infrastructure](),
		maxLive:  maxConcurrentMatches,
		liveEnds: make(map[string]struct{}),
	}
}

// Register atomically admits a new match against the cap. It returns
// ErrMatchExists when the id is already registered and ErrCapacity when the
// count of non-ENDED matches has reached the cap. No partial registration
// occurs on either failure.
func (s *Store) Register(m *model.Match) error {
	s.capMu.Lock()
	defer s.capMu.Unlock()

	if _, ok := s.matches.Load(m.ID); ok {
		return ErrMatchExists
	}
	if len(s.liveEnds) >= s.maxLive {
		return ErrCapacity
	}
	if m.RegisteredAt.IsZero() {
		m.RegisteredAt = time.Now().UTC()
	}
	s.matches.Store(m.ID, &entry{match: m})
	s.liveEnds[m.ID] = struct{}{}
	return nil
}

// MarkEnded releases the match's slot in the cap accounting. Idempotent.
func (s *Store) MarkEnded(matchID string) {
	s.capMu.Lock()
	delete(s.liveEnds, matchID)
	s.capMu.Unlock()
}

// Remove deletes a match and its infrastructure from the store entirely.
func (s *Store) Remove(matchID string) {
	s.MarkEnded(matchID)
	s.matches.Delete(matchID)
	s.infra.Delete(matchID)
}

// ActiveCount returns the number of matches counted against the cap.
func (s *Store) ActiveCount() int {
	s.capMu.Lock()
	defer s.capMu.Unlock()
	return len(s.liveEnds)
}

// WithMatch runs fn with the match's exclusive lock held. It returns false
// if the match is unknown.
func (s *Store) WithMatch(matchID string, fn func(m *model.Match)) bool {
	e, ok := s.matches.Load(matchID)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.match)
	return true
}

// MatchIDs returns a snapshot of all registered match ids.
func (s *Store) MatchIDs() []string {
	var ids []string
	s.matches.Range(func(id string, _ *entry) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// State returns the current lifecycle state of a match.
func (s *Store) State(matchID string) (model.MatchState, bool) {
	var st model.MatchState
	ok := s.WithMatch(matchID, func(m *model.Match) { st = m.State })
	return st, ok
}

// --- Infrastructure map ---

// PutInfrastructure installs the provisioned infrastructure of a match.
func (s *Store) PutInfrastructure(matchID string, inf *model.Infrastructure) {
	s.infra.Store(matchID, inf)
}

// Infrastructure returns the match's infrastructure, if provisioned.
func (s *Store) Infrastructure(matchID string) (*model.Infrastructure, bool) {
	return s.infra.Load(matchID)
}

// DeleteInfrastructure removes the infrastructure record. Idempotent.
func (s *Store) DeleteInfrastructure(matchID string) {
	s.infra.Delete(matchID)
}

// --- Derived reads ---

// CurrentTick returns the match's tick counter.
func (s *Store) CurrentTick(matchID string) (int, bool) {
	var tick int
	ok := s.WithMatch(matchID, func(m *model.Match) { tick = m.CurrentTick })
	return tick, ok
}

// IsFlagCaptured reports whether (service, tick) already has a capture.
func (s *Store) IsFlagCaptured(matchID, serviceID string, tick int) bool {
	captured := false
	s.WithMatch(matchID, func(m *model.Match) {
		_, captured = m.Captures[model.CaptureKey(serviceID, tick)]
	})
	return captured
}

// RecordFlagCapture atomically records a capture for (service, tick).
// Returns false if the pair was already captured; the dedup map never holds
// more than one team per pair.
func (s *Store) RecordFlagCapture(matchID, serviceID string, tick int, teamID string) bool {
	recorded := false
	s.WithMatch(matchID, func(m *model.Match) {
		key := model.CaptureKey(serviceID, tick)
		if _, taken := m.Captures[key]; taken {
			return
		}
		m.Captures[key] = teamID
		recorded = true
	})
	return recorded
}

// Scores returns the current per-side scores.
func (s *Store) Scores(matchID string) (teamA, teamB int, ok bool) {
	ok = s.WithMatch(matchID, func(m *model.Match) {
		teamA = m.TeamA.Score
		teamB = m.TeamB.Score
	})
	return teamA, teamB, ok
}

// UptimeStats returns the per-side up/down tick counters.
func (s *Store) UptimeStats(matchID string) (teamA, teamB model.TeamStats, ok bool) {
	ok = s.WithMatch(matchID, func(m *model.Match) {
		teamA = model.TeamStats{
			FlagsCaptured: m.TeamA.FlagsCaptured,
			UptimeTicks:   m.TeamA.UptimeTicks,
			DowntimeTicks: m.TeamA.DowntimeTicks,
		}
		teamB = model.TeamStats{
			FlagsCaptured: m.TeamB.FlagsCaptured,
			UptimeTicks:   m.TeamB.UptimeTicks,
			DowntimeTicks: m.TeamB.DowntimeTicks,
		}
	})
	return teamA, teamB, ok
}

// ServiceIDs returns the candidate service identifiers used by flag
// validation: the composite ids from infrastructure when the match was
// provisioned, otherwise the two legacy identifiers.
func (s *Store) ServiceIDs(matchID string) []string {
	if inf, ok := s.infra.Load(matchID); ok {
		services := inf.Services()
		ids := make([]string, 0, len(services))
		for _, c := range services {
			ids = append(ids, c.ServiceID)
		}
		return ids
	}
	return model.LegacyServiceIDs(matchID)
}
