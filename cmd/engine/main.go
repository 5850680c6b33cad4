package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adarena/engine/internal/api"
	"github.com/adarena/engine/internal/buildinfo"
	"github.com/adarena/engine/internal/config"
	"github.com/adarena/engine/internal/controlplane"
	"github.com/adarena/engine/internal/engine"
	"github.com/adarena/engine/internal/flagcrypt"
	"github.com/adarena/engine/internal/probe"
	"github.com/adarena/engine/internal/ratelimit"
	"github.com/adarena/engine/internal/sandbox"
	"github.com/adarena/engine/internal/service"
	"github.com/adarena/engine/internal/state"
)

func main() {
	// 1. Load and validate environment config
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	// 2. Wire the core components
	flags, err := flagcrypt.NewManager(envCfg.FlagSecret, config.MinFlagSecretBytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	driver, err := sandbox.NewDriver()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: docker runtime unavailable: %v\n", err)
		os.Exit(1)
	}

	store := state.NewStore(envCfg.MaxConcurrentMatches)
	backend := controlplane.New(envCfg.BackendURL, envCfg.RequestTimeout)
	prober := probe.New(envCfg.ProbeTimeout)

	eng := engine.New(store, driver, backend, flags, prober, engine.Config{
		TickInterval:      envCfg.TickInterval,
		ProvisionDeadline: envCfg.ProvisionDeadline,
		MaxContainerAge:   envCfg.MaxContainerAge,
		MaxMatchDuration:  envCfg.MaxMatchDuration,
	})

	// 3. Reconcile leftover Docker resources before accepting traffic
	recoverCtx, cancelRecover := context.WithTimeout(context.Background(), 2*time.Minute)
	eng.Recover(recoverCtx)
	cancelRecover()

	// 4. Background workers
	safety, err := engine.NewSafetyCron(eng, envCfg.SafetyCronInterval)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	safety.Start()

	limiter := ratelimit.New(envCfg.FlagSubmitRateMax)
	limiter.Start()

	// 5. Create and start API server
	svc := service.NewEngineService(eng, limiter)
	srv := api.NewServer(
		envCfg.Port,
		envCfg.EngineSecret,
		envCfg.AllowedBackendIPs,
		int64(envCfg.APIMaxBodyBytes),
		svc,
	)

	go func() {
		log.Printf("match engine %s starting on :%d", buildinfo.Version, envCfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server error: %v", err)
		}
	}()

	// 6. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("Received signal %s, shutting down...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	safety.Stop()
	limiter.Stop()
	eng.Shutdown(ctx)
	log.Println("Engine stopped")
}
