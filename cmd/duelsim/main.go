package main

import (
	"os"

	"github.com/spf13/cobra"

	"duel_ai/internal/config"
	"duel_ai/internal/logger"
)

func main() {
	logger.Init()

	root := &cobra.Command{
		Use:          "duelsim",
		Short:        "Arena harness for the duel decision engine",
		SilenceUsage: true,
	}
	root.AddCommand(runCmd())
	root.AddCommand(networksCmd())
	root.AddCommand(scoresCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies its log section.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if _, set := os.LookupEnv("LOG_LEVEL"); !set {
		logger.Configure(cfg.Log.Level, cfg.Log.Format)
	}
	return cfg, nil
}
