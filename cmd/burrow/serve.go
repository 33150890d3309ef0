package main

import (
	"fmt"
	"path/filepath"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/coordinator"
	"github.com/cuemby/burrow/pkg/frontend"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/momclient"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/spf13/cobra"
)

var momCmd = &cobra.Command{
	Use:   "mom",
	Short: "Run the coordinator",
	Long: `Run mom, the coordinator.

Mom opens every configured tenant, recovers its current revision and
serves the coordinator API and event channel until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		cfg, err := config.LoadMomConfig(path)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("address"); addr != "" {
			cfg.Address = addr
		}

		ctx, cancel := signalContext()
		defer cancel()
		defer initTracing(ctx, "mom", string(cfg.Env), cfg.TracingEndpoint)()
		metrics.SetVersion(Version)

		svc, err := coordinator.New(cfg, coordinator.Options{})
		if err != nil {
			return fmt.Errorf("failed to create coordinator: %w", err)
		}
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("coordinator failed: %w", err)
		}
		log.Info("Coordinator stopped")
		return nil
	},
}

var cubCmd = &cobra.Command{
	Use:   "cub",
	Short: "Run a front-end",
	Long: `Run cub, a front-end.

Cub connects to mom, mirrors the tenants its key can see and serves
their assets. Without --config it uses development defaults.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		cfg, err := config.LoadCubConfig(path)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("address"); addr != "" {
			cfg.Address = addr
		}
		if mom, _ := cmd.Flags().GetString("mom"); mom != "" {
			cfg.MomBaseURL = mom
		}

		ctx, cancel := signalContext()
		defer cancel()
		defer initTracing(ctx, "cub", string(cfg.Env), cfg.TracingEndpoint)()
		metrics.SetVersion(Version)

		client, err := momclient.New(momclient.Config{BaseURL: cfg.MomBaseURL, APIKey: cfg.MomAPIKey})
		if err != nil {
			return err
		}

		opts := frontend.Options{Client: client}
		if cfg.Cache.Dir != "" {
			size, maxObject, err := cfg.Cache.Bytes()
			if err != nil {
				return err
			}
			cache, err := storage.NewBoltCache(filepath.Clean(cfg.Cache.Dir), int64(size), int64(maxObject))
			if err != nil {
				return err
			}
			defer cache.Close()
			opts.Cache = cache
		}

		srv, err := frontend.New(cfg, opts)
		if err != nil {
			return fmt.Errorf("failed to create front-end: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("front-end failed: %w", err)
		}
		log.Info("Front-end stopped")
		return nil
	},
}

func init() {
	momCmd.Flags().String("config", "mom.yaml", "Coordinator config file")
	momCmd.Flags().String("address", "", "Listen address (overrides config)")

	cubCmd.Flags().String("config", "", "Front-end config file")
	cubCmd.Flags().String("address", "", "Listen address (overrides config)")
	cubCmd.Flags().String("mom", "", "Coordinator base URL (overrides config)")
}
