package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"designdesk/api/internal/config"
	"designdesk/api/internal/logging"
)

func main() {
	var envFile string

	rootCmd := &cobra.Command{
		Use:   "designdesk-api",
		Short: "DesignDesk task workflow and realtime collaboration API",
		Long: `DesignDesk API serves the design request workflow: task status, treasurer
approval gate, emergency and deadline negotiation, comments, notifications
and the realtime socket hub.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "optional dotenv file loaded before the environment")

	rootCmd.AddCommand(serveCmd(&envFile))
	rootCmd.AddCommand(migrateCmd(&envFile))
	rootCmd.AddCommand(tokenCmd(&envFile))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(envFile string) (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	log := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	return cfg, log, nil
}
