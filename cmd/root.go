package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	// errUsage marks bad command-line usage (exit code 2).
	errUsage = errors.New("usage error")
	// errBadSystem marks a physically invalid system setup, e.g. an atom
	// count the stoichiometry cannot realize (exit code 3).
	errBadSystem = errors.New("invalid system")
)

var (
	logLevel string
	logger   *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "clusterfit",
	Short: "Global optimization of atomic cluster geometries",
	Long: `ClusterFit searches for the lowest-energy arrangement of a fixed set
of atoms by steering candidate structures through stochastic meta-heuristics
(genetic algorithm or basin hopping) and relaxing them with an external
physics engine.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Setup logger
		var level slog.Level
		switch logLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		opts := &slog.HandlerOptions{Level: level}
		handler := slog.NewJSONHandler(os.Stdout, opts)
		logger = slog.New(handler)
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	// Unknown flags and malformed values are usage errors.
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})
}
