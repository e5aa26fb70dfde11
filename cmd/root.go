package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/labelstack/runner/models"
)

var (
	topologyFile string
	projectName  string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "labelstack",
	Short: "Run a declarative service topology on Docker",
	Long: `labelstack reads a YAML topology of services (build source, ports,
environment, restart policy, dependencies) and drives their
build -> start -> wait lifecycle in dependency order on the local
Docker engine.`,
	// Errors are reported by us; no usage dump on failure.
	SilenceUsage: true,
}

// Execute runs the root command under the given signal context.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&topologyFile, "file", "f", "topology.yaml", "topology file to load")
	rootCmd.PersistentFlags().StringVarP(&projectName, "project", "p", "", "project name (default: taken from the topology file)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	rootCmd.AddCommand(newUpCmd())
	rootCmd.AddCommand(newDownCmd())
	rootCmd.AddCommand(newOrderCmd())
	rootCmd.AddCommand(newConfigCmd())
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadTopology() (*models.Topology, error) {
	t, err := models.Load(topologyFile)
	if err != nil {
		return nil, err
	}
	if projectName != "" {
		t.Project = projectName
	}
	if t.Project == "" {
		t.Project = "labelstack"
	}
	return t, nil
}
