package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/adarena/engine/internal/model"
)

// TeamSpec identifies one side at provision time.
type TeamSpec struct {
	TeamID  string
	Players []string
}

// ProvisionParams carries the Provision RPC payload.
type ProvisionParams struct {
	MatchID    string
	Difficulty string
	TeamA      TeamSpec
	TeamB      TeamSpec
}

// Provision stands up a match's infrastructure: template collection fetch,
// isolated network, both teams' containers, tick-0 flags. Atomic in effect:
// on any failure every resource created so far is rolled back (team B first,
// then team A, network last) and no infrastructure is stored.
func (e *Engine) Provision(ctx context.Context, p ProvisionParams) (*model.Infrastructure, error) {
	if _, ok := e.store.Infrastructure(p.MatchID); ok {
		return nil, ErrAlreadyProvisioned
	}

	registered := false
	if _, known := e.store.State(p.MatchID); !known {
		m := &model.Match{
			ID:         p.MatchID,
			State:      model.StateCreated,
			Difficulty: p.Difficulty,
			TeamA:      model.Team{ID: p.TeamA.TeamID, Players: p.TeamA.Players},
			TeamB:      model.Team{ID: p.TeamB.TeamID, Players: p.TeamB.Players},
			Health:     make(map[string]*model.HealthRecord),
			Captures:   make(map[string]string),
		}
		if err := e.store.Register(m); err != nil {
			return nil, err
		}
		registered = true
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ProvisionDeadline)
	defer cancel()

	inf, err := e.provision(ctx, p)
	if err != nil {
		if registered {
			e.store.Remove(p.MatchID)
		}
		return nil, err
	}

	e.store.PutInfrastructure(p.MatchID, inf)

	// Fire-and-forget: the backend learning about the infrastructure is not
	// part of the provisioning contract.
	go func() {
		pushCtx, cancelPush := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelPush()
		e.backend.PushInfrastructure(pushCtx, p.MatchID, inf)
	}()

	log.Printf("engine: match %s provisioned (%d + %d containers, subnet %s)",
		p.MatchID, len(inf.TeamA), len(inf.TeamB), inf.Subnet)
	return inf, nil
}

func (e *Engine) provision(ctx context.Context, p ProvisionParams) (*model.Infrastructure, error) {
	templates, err := e.backend.FetchCollection(ctx, p.Difficulty)
	if err != nil {
		return nil, err
	}

	netRef, err := e.runtime.CreateNetwork(ctx, p.MatchID)
	if err != nil {
		return nil, err
	}

	teamA, err := e.runtime.ProvisionTeamServices(ctx, p.MatchID, p.TeamA.TeamID, netRef.Name, templates)
	if err != nil {
		e.rollback(p.MatchID, nil, nil)
		return nil, err
	}

	teamB, err := e.runtime.ProvisionTeamServices(ctx, p.MatchID, p.TeamB.TeamID, netRef.Name, templates)
	if err != nil {
		e.rollback(p.MatchID, nil, teamA)
		return nil, err
	}

	inf := &model.Infrastructure{
		NetworkID:   netRef.ID,
		NetworkName: netRef.Name,
		Subnet:      netRef.Subnet,
		TeamA:       teamA,
		TeamB:       teamB,
	}

	for _, c := range inf.Services() {
		flag := e.flags.Generate(p.MatchID, c.ServiceID, 0)
		if err := e.runtime.InjectFlag(ctx, c.ID, c.FlagPath, flag); err != nil {
			e.rollback(p.MatchID, teamB, teamA)
			return nil, fmt.Errorf("engine: initial flag injection for %s: %w", c.ServiceID, err)
		}
	}

	return inf, nil
}

// rollback tears down partially provisioned resources: team B containers
// first, then team A, then the network.
func (e *Engine) rollback(matchID string, teamB, teamA []model.Container) {
	ctx := context.Background()
	for _, c := range teamB {
		if err := e.runtime.StopAndRemoveContainer(ctx, c.ID); err != nil {
			log.Printf("engine: rollback match %s: %v", matchID, err)
		}
	}
	for _, c := range teamA {
		if err := e.runtime.StopAndRemoveContainer(ctx, c.ID); err != nil {
			log.Printf("engine: rollback match %s: %v", matchID, err)
		}
	}
	if err := e.runtime.RemoveNetwork(ctx, matchID); err != nil {
		log.Printf("engine: rollback match %s: %v", matchID, err)
	}
}
