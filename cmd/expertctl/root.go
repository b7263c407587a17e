package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/symptom-expert-server/internal/config"
	"github.com/symptom-expert-server/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configFile string
	verbose    bool
}

var rootCmd = &cobra.Command{
	Use:   "expertctl",
	Short: "Query and administer the symptom expert system",
	Long: "expertctl runs diagnoses against the configured knowledge base and\n" +
		"manages knowledge-base snapshots in SQLite or PostgreSQL.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.configFile, "config", "", "path to config file")
	pf.BoolVarP(&rootFlags.verbose, "verbose", "v", false, "log at info level instead of warn")

	rootCmd.AddCommand(diagnoseCmd)
	rootCmd.AddCommand(kbCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.Version = version
}

// loadEnv reads configuration and builds a stderr logger for CLI use.
func loadEnv() (*config.Manager, *logrus.Logger, error) {
	cm, err := config.NewManager(rootFlags.configFile)
	if err != nil {
		return nil, nil, err
	}
	if err := cm.Validate(); err != nil {
		return nil, nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	logCfg := cm.GetConfig().Logging
	logCfg.Output = "stderr"
	logCfg.Format = logging.FormatText
	logCfg.Level = "warn"
	if rootFlags.verbose {
		logCfg.Level = "info"
	}

	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, nil, err
	}
	return cm, logger, nil
}
