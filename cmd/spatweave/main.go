package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/spatweave/spatweave/internal/config"
)

const (
	appName = "spatweave"
	version = "v0.3.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Spatially informed feature augmentation for omics datasets",
		Version: version,
		Long: `spatweave builds a k-nearest neighbor graph over spatial observations,
averages each observation's neighborhood, and assembles a lambda weighted
matrix of own, neighbor and azimuthal gradient features for downstream
clustering of cell types and tissue domains.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level, _ := cmd.Flags().GetString("log-level")
			setupLogging(level)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug|info|warn|error)")

	augmentCmd := &cobra.Command{
		Use:   "augment",
		Short: "Augment a dataset file and write the weighted matrix",
		Long:  "Loads an observations table, builds the neighbor graph and writes the assembled own|neighbor|gradient matrix as CSV",
		RunE:  runAugment,
	}

	augmentCmd.Flags().String("input", "", "Input CSV/TSV path (.zst supported)")
	augmentCmd.Flags().String("output", "", "Output CSV path (.zst supported)")
	augmentCmd.Flags().Float64("lambda", config.UnsetLambda, "Neighborhood mixing weight in [0,1]")
	augmentCmd.Flags().Int("k", 0, "Neighbors per observation")
	augmentCmd.Flags().String("group", "", "Metadata column isolating neighbor search per group")
	augmentCmd.Flags().Bool("split-scale", false, "Z-score within each group instead of globally")
	augmentCmd.Flags().Bool("gradient", false, "Add the azimuthal gradient block")
	augmentCmd.Flags().Int("harmonic", 0, "Azimuthal harmonic order (default 2)")
	augmentCmd.Flags().Bool("stagger", false, "Offset group coordinates for side by side plotting")
	augmentCmd.Flags().String("backend", "", "Neighbor search backend (auto|flat|kdtree)")
	augmentCmd.Flags().Int("workers", 0, "Parallel group searches (0 = all CPUs)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the augmentation HTTP service",
		Long:  "Starts the HTTP server with /augment, /runs, /health, /metrics and /ws/stages endpoints",
		RunE:  runServe,
	}

	serveCmd.Flags().String("host", "", "Bind address (overrides config)")
	serveCmd.Flags().Int("port", 0, "Listen port (overrides config)")

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download a dataset with rate limiting and retry protection",
		Long:  "Downloads a remote dataset file to a local path through the rate limited, circuit breaking fetcher",
		RunE:  runFetch,
	}

	fetchCmd.Flags().String("url", "", "Remote dataset URL")
	fetchCmd.Flags().String("out", "", "Local destination path")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s (%s)\n", appName, version, runtime.Version())
		},
	}

	rootCmd.AddCommand(augmentCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setupLogging configures zerolog: console output on a terminal, JSON
// otherwise.
func setupLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	if parsed, err := zerolog.ParseLevel(level); err == nil {
		zerolog.SetGlobalLevel(parsed)
	}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
