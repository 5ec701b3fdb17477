package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cwbudde/clusterfit/internal/server"
	"github.com/cwbudde/clusterfit/internal/store"
)

var (
	serveAddr    string
	serveDataDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Starts an HTTP server that launches search jobs, streams progress over
SSE, and serves best structures and checkpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		checkpointStore, err := store.NewFSStore(serveDataDir)
		if err != nil {
			return fmt.Errorf("failed to create checkpoint store: %w", err)
		}

		srv := server.NewServer(serveAddr, checkpointStore)
		return srv.Start()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "./data", "Base directory for checkpoint storage")
	rootCmd.AddCommand(serveCmd)
}
