package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"docrag/internal/app"
	"docrag/internal/config"
	"docrag/internal/logger"
)

var version = "dev"

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "docrag",
	Short: "Chat with your documents",
	Long: `docrag answers questions about the files and web pages you load,
using retrieval-augmented generation over a per-session vector partition.

Configuration is read from --config, ./config.yaml or
~/.config/docrag/config.yaml; secrets come from the environment or a .env file.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file")
}

func loadConfig() (*config.AppConfig, error) {
	if cfgPath != "" {
		return config.Load(cfgPath)
	}
	cfg, _, err := config.LoadDefault()
	return cfg, err
}

// setup loads configuration, builds the logger and wires the responder.
func setup(ctx context.Context) (*config.AppConfig, *logrus.Logger, *app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("configuring logger: %w", err)
	}
	a, err := app.Build(ctx, cfg, log, app.Options{})
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, log, a, nil
}
