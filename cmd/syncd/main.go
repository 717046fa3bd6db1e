package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"coursesync/internal/config"
	"coursesync/internal/engine"
	"coursesync/internal/logger"
)

var (
	buildVersion string
	buildDate    string
	buildCommit  string
)

func main() {
	printBuildInfo()

	log := logger.NewLogger("coursesync")
	cfg, err := config.GetStructuredConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("error getting configs")
	}

	eng, err := engine.New(context.Background(), cfg, nil, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init sync engine error")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng.Run(ctx)
	log.Info().Str("remote", cfg.Sync.RemoteBaseURL).Msg("sync engine running")

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	if err = eng.Close(); err != nil {
		log.Error().Err(err).Msg("engine shutdown error")
	}
}

func printBuildInfo() {
	if buildVersion == "" {
		buildVersion = "N/A"
	}
	if buildDate == "" {
		buildDate = "N/A"
	}
	if buildCommit == "" {
		buildCommit = "N/A"
	}

	fmt.Printf("Build version: %s\n", buildVersion)
	fmt.Printf("Build date: %s\n", buildDate)
	fmt.Printf("Build commit: %s\n", buildCommit)
}
