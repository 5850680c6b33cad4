// Package engine owns the match lifecycle: state transitions, provisioning,
// the per-match tick loop, boot recovery, and the safety cron. No other
// component writes match state.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/adarena/engine/internal/flagcrypt"
	"github.com/adarena/engine/internal/model"
	"github.com/adarena/engine/internal/probe"
	"github.com/adarena/engine/internal/sandbox"
	"github.com/adarena/engine/internal/state"
)

// Runtime is the sandbox driver surface the engine depends on.
type Runtime interface {
	CreateNetwork(ctx context.Context, matchID string) (sandbox.NetworkRef, error)
	ProvisionTeamServices(ctx context.Context, matchID, teamID, networkName string, templates []model.ServiceTemplate) ([]model.Container, error)
	InjectFlag(ctx context.Context, containerID, path, value string) error
	StopAndRemoveContainer(ctx context.Context, containerID string) error
	RemoveNetwork(ctx context.Context, matchID string) error
	ListMatchContainers(ctx context.Context) ([]sandbox.RuntimeContainer, error)
	ListMatchNetworks(ctx context.Context) ([]sandbox.RuntimeNetwork, error)
	RemoveNetworkByID(ctx context.Context, n sandbox.RuntimeNetwork) error
}

// Backend is the control-plane surface the engine depends on.
type Backend interface {
	FetchCollection(ctx context.Context, difficulty string) ([]model.ServiceTemplate, error)
	PushInfrastructure(ctx context.Context, matchID string, inf *model.Infrastructure)
}

// Config tunes the engine's timers and deadlines.
type Config struct {
	TickInterval      time.Duration
	ProvisionDeadline time.Duration
	MaxContainerAge   time.Duration
	MaxMatchDuration  time.Duration
}

// Engine coordinates the store, the sandbox runtime, and the control plane.
type Engine struct {
	store   *state.Store
	runtime Runtime
	backend Backend
	flags   *flagcrypt.Manager
	prober  probe.Prober
	cfg     Config

	// tickStops holds the stop channel of each live ticker, keyed by match id.
	tickStops *xsync.Map[string, chan struct{}]
	tickWG    sync.WaitGroup
}

// New wires an Engine.
func New(
	store *state.Store,
	runtime Runtime,
	backend Backend,
	flags *flagcrypt.Manager,
	prober probe.Prober,
	cfg Config,
) *Engine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.ProvisionDeadline <= 0 {
		cfg.ProvisionDeadline = 5 * time.Minute
	}
	return &Engine{
		store:     store,
		runtime:   runtime,
		backend:   backend,
		flags:     flags,
		prober:    prober,
		cfg:       cfg,
		tickStops: xsync.NewMap[string, chan struct{}](),
	}
}

// Store exposes the state store for read paths (service layer).
func (e *Engine) Store() *state.Store {
	return e.store
}

// Flags exposes the flag manager for validation in the service layer.
func (e *Engine) Flags() *flagcrypt.Manager {
	return e.flags
}
