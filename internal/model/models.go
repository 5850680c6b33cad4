// Package model defines the domain structs shared across the engine.
package model

import (
	"strconv"
	"time"
)

// MatchState is the lifecycle state of a match. Transitions are owned
// exclusively by the engine's lifecycle machine.
type MatchState string

const (
	StateCreated      MatchState = "CREATED"
	StateInitializing MatchState = "INITIALIZING"
	StateRunning      MatchState = "RUNNING"
	StateEnding       MatchState = "ENDING"
	StateEnded        MatchState = "ENDED"
)

// ServiceType classifies a vulnerable service template.
type ServiceType string

const (
	ServiceWeb      ServiceType = "web"
	ServiceSSH      ServiceType = "ssh"
	ServiceDatabase ServiceType = "database"
	ServiceAPI      ServiceType = "api"
	ServiceOther    ServiceType = "other"
)

// Side identifies one of the two competing teams of a match.
type Side string

const (
	SideTeamA Side = "teamA"
	SideTeamB Side = "teamB"
)

// Winner values for a final result. Draw is recorded on score equality.
const (
	WinnerTeamA = "teamA"
	WinnerTeamB = "teamB"
	WinnerDraw  = "draw"
)

// Score bounds. Scores saturate at the bounds instead of wrapping.
const (
	ScoreMin = -1_000_000
	ScoreMax = 1_000_000
)

// HealthCheckKind selects the probe performed against a service.
type HealthCheckKind string

const (
	HealthCheckHTTP HealthCheckKind = "http"
	HealthCheckTCP  HealthCheckKind = "tcp"
)

// HealthCheck describes how a service is probed each tick.
type HealthCheck struct {
	Kind           HealthCheckKind `json:"kind"`
	Path           string          `json:"path,omitempty"`
	ExpectedStatus int             `json:"expectedStatus,omitempty"`
}

// ServiceTemplate is the logical specification of one vulnerable service,
// fetched as a collection per difficulty from the control plane.
type ServiceTemplate struct {
	ID             string            `json:"templateId"`
	Name           string            `json:"name"`
	Type           ServiceType       `json:"type"`
	Difficulty     string            `json:"difficulty,omitempty"`
	DockerImage    string            `json:"dockerImage"`
	Port           int               `json:"port"`
	EnvironmentVars map[string]string `json:"environmentVars,omitempty"`
	FlagPath       string            `json:"flagPath"`
	HealthCheck    HealthCheck       `json:"healthCheck"`
}

// Container is one provisioned service container belonging to one team.
type Container struct {
	ID          string      `json:"containerId"`
	Address     string      `json:"address"`
	Port        int         `json:"port"`
	Type        ServiceType `json:"serviceType"`
	TemplateID  string      `json:"templateId"`
	TeamID      string      `json:"teamId"`
	ServiceID   string      `json:"serviceId"` // teamId_templateId
	FlagPath    string      `json:"flagPath"`
	HealthCheck HealthCheck `json:"healthCheck"`
}

// Infrastructure is the sandbox footprint of one match: its isolated network
// and the ordered container lists of both teams.
type Infrastructure struct {
	NetworkID   string      `json:"networkId"`
	NetworkName string      `json:"networkName"`
	Subnet      string      `json:"subnet"`
	TeamA       []Container `json:"teamA"`
	TeamB       []Container `json:"teamB"`
}

// Services returns both teams' containers, team A first.
func (inf *Infrastructure) Services() []Container {
	out := make([]Container, 0, len(inf.TeamA)+len(inf.TeamB))
	out = append(out, inf.TeamA...)
	out = append(out, inf.TeamB...)
	return out
}

// HealthStatus is the last observed probe outcome for a service.
type HealthStatus string

const (
	HealthUp   HealthStatus = "UP"
	HealthDown HealthStatus = "DOWN"
)

// HealthRecord tracks probe outcomes per (match, service).
// DOWN increments ConsecutiveFailures; UP resets it to zero.
type HealthRecord struct {
	Status              HealthStatus `json:"status"`
	LastProbe           time.Time    `json:"lastProbe"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
}

// Team is one side of a match: roster plus accumulated counters.
type Team struct {
	ID            string   `json:"teamId"`
	Players       []string `json:"players"`
	Score         int      `json:"score"`
	FlagsCaptured int      `json:"flagsCaptured"`
	UptimeTicks   int      `json:"uptimeTicks"`
	DowntimeTicks int      `json:"downtimeTicks"`
}

// TeamStats is the frozen per-team statistics block of a final result.
type TeamStats struct {
	FlagsCaptured int `json:"flagsCaptured"`
	UptimeTicks   int `json:"uptimeTicks"`
	DowntimeTicks int `json:"downtimeTicks"`
}

// FinalTeam is one side of a frozen final result.
type FinalTeam struct {
	Players []string  `json:"players"`
	Score   int       `json:"score"`
	Stats   TeamStats `json:"stats"`
}

// FinalResult is computed once at RUNNING→ENDING and never changes afterwards.
type FinalResult struct {
	MatchID    string    `json:"matchId"`
	Difficulty string    `json:"difficulty"`
	TeamA      FinalTeam `json:"teamA"`
	TeamB      FinalTeam `json:"teamB"`
	Winner     string    `json:"winner"`
}

// Match is the full in-memory record of one match. It is owned by the state
// store and mutated only under the match's exclusive lock.
type Match struct {
	ID         string
	State      MatchState
	Difficulty string
	TeamSize   int
	TeamA      Team
	TeamB      Team

	// RegisteredAt is set when the match enters the store. It bounds the life
	// of matches that were provisioned but never started.
	RegisteredAt time.Time

	// AdmittedAt is set on RUNNING entry and drives max-duration enforcement.
	AdmittedAt time.Time

	CurrentTick int

	// Health keyed by service id.
	Health map[string]*HealthRecord

	// Captures maps "serviceId|tick" to the capturing team id. At most one
	// entry per (service, tick) pair ever exists.
	Captures map[string]string

	Result *FinalResult
}

// TeamOf returns the side owning teamID, or nil. Legacy side labels
// ("teamA"/"teamB") resolve to the corresponding side as well.
func (m *Match) TeamOf(teamID string) *Team {
	switch teamID {
	case m.TeamA.ID, string(SideTeamA):
		return &m.TeamA
	case m.TeamB.ID, string(SideTeamB):
		return &m.TeamB
	}
	return nil
}

// SaturateScore clamps s to the [ScoreMin, ScoreMax] interval.
func SaturateScore(s int) int {
	if s > ScoreMax {
		return ScoreMax
	}
	if s < ScoreMin {
		return ScoreMin
	}
	return s
}

// CaptureKey builds the dedup map key for a (service, tick) pair.
func CaptureKey(serviceID string, tick int) string {
	return serviceID + "|" + strconv.Itoa(tick)
}

// LegacyServiceIDs returns the two service identifiers used for flag
// validation when a match was never provisioned.
func LegacyServiceIDs(matchID string) []string {
	return []string{"teamA_" + matchID, "teamB_" + matchID}
}

// ServiceOwnerSide resolves which side owns a service identifier. Composite
// ids carry the owning team id as prefix; legacy ids carry the side label.
func ServiceOwnerSide(m *Match, serviceID string) (Side, bool) {
	switch {
	case hasIDPrefix(serviceID, m.TeamA.ID):
		return SideTeamA, true
	case hasIDPrefix(serviceID, m.TeamB.ID):
		return SideTeamB, true
	case hasIDPrefix(serviceID, "teamA"):
		return SideTeamA, true
	case hasIDPrefix(serviceID, "teamB"):
		return SideTeamB, true
	}
	return "", false
}

func hasIDPrefix(serviceID, teamID string) bool {
	if teamID == "" {
		return false
	}
	return len(serviceID) > len(teamID)+1 &&
		serviceID[:len(teamID)] == teamID &&
		serviceID[len(teamID)] == '_'
}
