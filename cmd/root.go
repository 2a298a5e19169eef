package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/luxmed-hunter/internal/config"
	"github.com/example/luxmed-hunter/internal/logs"
	"github.com/example/luxmed-hunter/internal/store"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

var configPath string

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "luxmedhunter",
		Short: "Hunts for open LuxMed appointment slots and reserves the first match",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "configuration file path")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newHuntCmd())
	root.AddCommand(newCredsCmd())

	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads config, builds the logger and opens the record store. Every
// subcommand goes through here.
func setup(ctx context.Context) (*config.Config, *slog.Logger, *store.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	log := logs.New(cfg.Logging)
	st, err := store.Open(ctx, cfg.DatabaseFile)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, log, st, nil
}
