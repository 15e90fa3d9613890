package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/spatweave/spatweave/internal/application/pipeline"
	"github.com/spatweave/spatweave/internal/config"
	"github.com/spatweave/spatweave/internal/infrastructure/cache"
	"github.com/spatweave/spatweave/internal/persistence/postgres"
)

func runAugment(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyAugmentFlags(cmd.Flags(), cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, closeDeps, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDeps()

	res, err := pipeline.New(cfg, deps).Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s complete\n", res.RunID)
	fmt.Printf("  observations: %d\n", res.Observations)
	fmt.Printf("  columns:      %d\n", res.Augmented.Cols())
	if res.CacheHit {
		fmt.Printf("  graph:        cached\n")
	}
	for _, st := range res.Stages {
		fmt.Printf("  %-10s %dms\n", st.Name, st.DurationMS)
	}
	if res.OutputPath != "" {
		fmt.Printf("  wrote %s\n", res.OutputPath)
	}
	return nil
}

// loadConfig reads the --config file over the defaults, leaving validation to
// the caller so flags can still override.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil || path == "" {
		return config.Default(), nil
	}
	return config.Read(path)
}

// applyAugmentFlags layers explicitly set flags over the configuration.
func applyAugmentFlags(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("input") {
		cfg.Input.Path, _ = flags.GetString("input")
	}
	if flags.Changed("output") {
		cfg.Output.Path, _ = flags.GetString("output")
	}
	if flags.Changed("lambda") {
		cfg.Lambda, _ = flags.GetFloat64("lambda")
	}
	if flags.Changed("k") {
		cfg.K, _ = flags.GetInt("k")
	}
	if flags.Changed("group") {
		cfg.Group.Column, _ = flags.GetString("group")
	}
	if flags.Changed("split-scale") {
		cfg.Group.SplitScale, _ = flags.GetBool("split-scale")
	}
	if flags.Changed("gradient") {
		cfg.Gradient.Enabled, _ = flags.GetBool("gradient")
	}
	if flags.Changed("harmonic") {
		cfg.Gradient.Harmonic, _ = flags.GetInt("harmonic")
		cfg.Gradient.Enabled = true
	}
	if flags.Changed("stagger") {
		cfg.Stagger.Enabled, _ = flags.GetBool("stagger")
	}
	if flags.Changed("backend") {
		cfg.Backend, _ = flags.GetString("backend")
	}
	if flags.Changed("workers") {
		cfg.Workers, _ = flags.GetInt("workers")
	}
}

// buildDeps connects the optional cache and run registry. The returned
// closer releases whatever was opened.
func buildDeps(ctx context.Context, cfg *config.Config) (pipeline.Deps, func(), error) {
	var deps pipeline.Deps
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Cache.Enabled {
		graphCache, err := cache.NewRedis(cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB, cfg.Cache.TTL())
		if err != nil {
			return deps, closeAll, fmt.Errorf("connecting graph cache: %w", err)
		}
		deps.Cache = graphCache
		closers = append(closers, func() {
			if err := graphCache.Close(); err != nil {
				log.Warn().Err(err).Msg("closing graph cache failed")
			}
		})
	}

	if cfg.Database.Enabled {
		db, err := postgres.Connect(ctx, cfg.Database.DSN)
		if err != nil {
			closeAll()
			return deps, func() {}, fmt.Errorf("connecting run registry: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			db.Close()
			closeAll()
			return deps, func() {}, fmt.Errorf("preparing run registry schema: %w", err)
		}
		deps.Store = postgres.NewRunRepo(db, cfg.Database.Timeout())
		closers = append(closers, func() {
			if err := db.Close(); err != nil {
				log.Warn().Err(err).Msg("closing database failed")
			}
		})
	}

	return deps, closeAll, nil
}
