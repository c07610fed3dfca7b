package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kratos2377/rally-matchmaker/app/bootstrap"
	"github.com/kratos2377/rally-matchmaker/app/config"
)

func main() {
	flags := config.Flags("matchmaking", "./app/matchmaking")
	flags.Parse(os.Args[1:])
	configDir, _ := flags.GetString("config")

	cfg, err := config.LoadConfig(configDir, flags)
	if err != nil {
		log.Fatal(err)
	}
	logger := config.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("memory store is process local; run the api with ENGINE_EMBEDDED=true instead")
	}

	engine, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("engine setup failed", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	s, err := engine.NewScheduler()
	if err != nil {
		logger.Error("scheduler setup failed", "error", err)
		os.Exit(1)
	}

	if err := engine.ScheduleMatching(ctx, s); err != nil {
		logger.Error("matching job not scheduled", "error", err)
		os.Exit(1)
	}

	s.Start()
	<-ctx.Done()

	if err := s.Shutdown(); err != nil {
		logger.Warn("error while shutting down matchmaking scheduler", "error", err)
	}
}
