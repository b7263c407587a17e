package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/symptom-expert-server/internal/app"
	"github.com/symptom-expert-server/internal/mcp"
)

func main() {
	configFile := flag.String("config", "", "path to config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// stdout carries MCP frames, so logs go to stderr
	application, err := app.New(ctx, app.Options{ConfigFile: *configFile, LogToStderr: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	application.StartBackground(ctx)

	server := mcp.NewServer(application.Config.GetConfig().MCP, application.Service, application.Logger)
	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		application.Logger.WithError(err).Error("MCP server stopped with error")
		application.Close()
		os.Exit(1)
	}

	application.Logger.Info("MCP server stopped")
}
