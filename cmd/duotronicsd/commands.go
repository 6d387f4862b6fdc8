package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"duotronics/internal/api"
	"duotronics/internal/config"
	"duotronics/internal/hemisphere"
	"duotronics/internal/observability/metrics"
	"duotronics/internal/pipeline"
	"duotronics/internal/probe"
	"duotronics/pkg/logger"
)

// envAPIKey 在 probe 子命令未提供 --api-key 时使用。
const envAPIKey = "DUOTRONICS_API_KEY"

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "duotronicsd",
		Short:         "Duotronics dual-hemisphere chat daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "",
		"daemon config file (default $"+config.EnvConfigPath+" or "+config.DefaultPath+")")

	root.AddCommand(
		newServeCommand(&configPath),
		newProbeCommand(&configPath),
		newConfigCommand(&configPath),
	)
	return root
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func newProbeCommand(configPath *string) *cobra.Command {
	var req probe.Request

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check that a provider credential and model are usable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if req.APIKey == "" {
				req.APIKey = strings.TrimSpace(os.Getenv(envAPIKey))
			}

			result := probe.New(buildRegistry(cfg)).Probe(cmd.Context(), req)
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.Success {
				return errors.New(result.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Provider, "provider", "", "provider name (anthropic|openai)")
	cmd.Flags().StringVar(&req.Model, "model", "", "model name (defaults to the provider's default model)")
	cmd.Flags().StringVar(&req.APIKey, "api-key", "", "API key (defaults to $"+envAPIKey+")")
	_ = cmd.MarkFlagRequired("provider")
	return cmd
}

func newConfigCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the stored hemisphere configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored hemispheres without credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			store, closeStore, err := buildStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()
			return printJSON(cmd.OutOrStdout(), publicView(cmd.Context(), store))
		},
	})
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(config.ResolvePath(path))
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, nil
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Named("duotronicsd")

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, err := buildPublisher(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn("关闭事件发布器失败", "error", err)
		}
	}()

	registry := buildRegistry(cfg)
	orchestrator := pipeline.New(store, registry, pipeline.WithPublisher(publisher))
	server := api.NewServer(cfg.Server.Address, api.Dependencies{
		Pipeline: orchestrator,
		Store:    store,
		Prober:   probe.New(registry),
	}, api.WithShutdownTimeout(cfg.Server.ShutdownTimeout()))

	log.Info("duotronicsd starting",
		"addr", cfg.Server.Address,
		"store", cfg.Store.Driver,
		"secrets", cfg.Secrets.Driver,
		"events", cfg.Events.Driver,
		"configured", hemisphere.IsConfigured(ctx, store),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.Start(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if cfg.Server.MetricsAddress != "" {
		group.Go(func() error {
			return metrics.StartServer(groupCtx, cfg.Server.MetricsAddress)
		})
	}
	return group.Wait()
}

func publicView(ctx context.Context, store hemisphere.Store) api.ConfigView {
	settings, err := hemisphere.Load(ctx, store)
	if err != nil || !settings.Credentialed() {
		return api.ConfigView{}
	}
	logic, artist := settings.Logic.Public(), settings.Artist.Public()
	return api.ConfigView{Configured: true, Logic: &logic, Artist: &artist}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
