package engine

import (
	"context"
	"log"

	"github.com/adarena/engine/internal/model"
	"github.com/adarena/engine/internal/sandbox"
)

// Recover reconciles the sandbox runtime with in-memory state. It runs once
// at boot, before the RPC port opens: labeled containers and engine-named
// networks with no known match are orphans and are force-removed; known
// matches that are not ENDED are aborted. Individual failures are logged and
// never abort startup.
func (e *Engine) Recover(ctx context.Context) {
	containers, err := e.runtime.ListMatchContainers(ctx)
	if err != nil {
		log.Printf("engine: recovery: %v", err)
		containers = nil
	}
	networks, err := e.runtime.ListMatchNetworks(ctx)
	if err != nil {
		log.Printf("engine: recovery: %v", err)
		networks = nil
	}

	// Derive the set of match ids present in the runtime.
	matchIDs := make(map[string]struct{})
	for _, c := range containers {
		if c.MatchID != "" {
			matchIDs[c.MatchID] = struct{}{}
		}
	}
	for _, n := range networks {
		matchIDs[n.MatchID] = struct{}{}
	}

	for matchID := range matchIDs {
		st, known := e.store.State(matchID)
		switch {
		case !known:
			log.Printf("engine: recovery: orphan resources for match %s, removing", matchID)
			e.removeMatchResources(ctx, matchID, containers, networks)
		case st != model.StateEnded:
			log.Printf("engine: recovery: aborting non-ended match %s", matchID)
			e.abort(matchID)
		}
	}

	if len(matchIDs) > 0 {
		log.Printf("engine: recovery reconciled %d match(es)", len(matchIDs))
	}
}

// removeMatchResources force-removes every observed container and network of
// one match. Best-effort.
func (e *Engine) removeMatchResources(
	ctx context.Context,
	matchID string,
	containers []sandbox.RuntimeContainer,
	networks []sandbox.RuntimeNetwork,
) {
	for _, c := range containers {
		if c.MatchID != matchID {
			continue
		}
		if err := e.runtime.StopAndRemoveContainer(ctx, c.ID); err != nil {
			log.Printf("engine: recovery: %v", err)
		}
	}
	for _, n := range networks {
		if n.MatchID != matchID {
			continue
		}
		if err := e.runtime.RemoveNetworkByID(ctx, n); err != nil {
			log.Printf("engine: recovery: %v", err)
		}
	}
}
