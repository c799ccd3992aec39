package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/Milad-Afdasta/ratewindow/internal/config"
	"github.com/Milad-Afdasta/ratewindow/internal/orchestrator"
	"github.com/Milad-Afdasta/ratewindow/internal/version"
	log "github.com/sirupsen/logrus"
)

func main() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(log.InfoLevel)

	cfg, err := config.Load(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, config.ErrHelp) {
			os.Exit(0)
		}
		log.WithError(err).Fatal("Invalid configuration")
	}
	log.SetLevel(cfg.Level())
	log.WithField("version", version.Version).Info("Starting rate window simulator")

	// SIGINT/SIGTERM stop the load; the run still reports and shuts down
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := orchestrator.Run(ctx, cfg); err != nil {
		var stageErr *orchestrator.StageError
		if errors.As(err, &stageErr) {
			log.WithField("stage", stageErr.Stage).WithError(stageErr.Err).Error("Simulation failed")
		} else {
			log.WithError(err).Error("Simulation failed")
		}
		stop()
		os.Exit(1)
	}

	log.Info("Simulation complete")
}
