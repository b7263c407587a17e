package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/symptom-expert-server/internal/api"
	"github.com/symptom-expert-server/internal/app"
)

func main() {
	configFile := flag.String("config", "", "path to config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, app.Options{ConfigFile: *configFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	logger := application.Logger
	cfg := application.Config.GetServerConfig()
	logger.Infof("Starting symptom expert server on %s:%d", cfg.Host, cfg.Port)

	application.StartBackground(ctx)

	server := api.NewServer(application.Config, application.Service, logger)
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("Server stopped with error")
		application.Close()
		os.Exit(1)
	}

	logger.Info("Server stopped")
}
