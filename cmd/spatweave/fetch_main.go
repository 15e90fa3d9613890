package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spatweave/spatweave/internal/infrastructure/fetch"
)

func runFetch(cmd *cobra.Command, args []string) error {
	url, _ := cmd.Flags().GetString("url")
	dest, _ := cmd.Flags().GetString("out")
	if url == "" || dest == "" {
		return fmt.Errorf("both --url and --out are required")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher := fetch.New(fetch.Options{
		RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
		Burst:             cfg.Fetch.Burst,
		Timeout:           cfg.Fetch.Timeout(),
		MaxFailures:       uint32(cfg.Fetch.MaxFailures),
	})

	n, err := fetcher.Download(ctx, url, dest)
	if err != nil {
		return err
	}
	fmt.Printf("Downloaded %s (%d bytes)\n", dest, n)
	return nil
}
