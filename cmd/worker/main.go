package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"crucible/internal/agent"
	"crucible/internal/config"
	"crucible/internal/language"
	"crucible/internal/logger"
	"crucible/internal/sandbox/docker"
	"crucible/internal/tracing"
)

func main() {
	godotenv.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.GetConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	workerCfg, err := config.GetWorkerConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger.Init(cfg.SERVICE_NAME)

	if cfg.TRACE_URL != "" {
		tp, err := tracing.Init(ctx, cfg.SERVICE_NAME, cfg.TRACE_URL)
		if err != nil {
			log.Fatalf("error initialising trace: %v", err)
		}
		defer tp.Shutdown(ctx)
	}

	runner, err := docker.NewDockerRunner(&logger.Log)
	if err != nil {
		log.Fatalf("docker runner initialization error: %v", err)
	}

	a := agent.NewAgent(workerCfg, runner, language.NewRegistry())

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		logger.Log.Info().Msg("trying to shutdown worker gracefully...")
		cancel()
	}()

	if err := a.Run(ctx); err != nil {
		log.Fatalf("worker error: %v", err)
	}
	logger.Log.Info().Msg("worker shutdown gracefully.")
}
