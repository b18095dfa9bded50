// Package main implements apnea-engine, the gRPC apnea analysis service and its offline CLI.
package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-apnea/internal/cache"
	"github.com/miradorstack/mirador-apnea/internal/clustering"
	"github.com/miradorstack/mirador-apnea/internal/config"
	"github.com/miradorstack/mirador-apnea/internal/engine"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "apnea-engine",
		Short: "Cluster CPAP apnea events and flag unscored flow limitation",
		Long: `apnea-engine groups scored apnea events from a therapy session into clusters,
scores their severity and reports windows of sustained flow limitation that the
device did not score.

Run "serve" for the gRPC service or "analyze" to process a session file offline.`,
		Version:      version,
		SilenceUsage: true,
	}
	cmd.PersistentPreRunE = func(*cobra.Command, []string) error {
		return loadEnvFile(opts.envFile)
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to configuration file (or MIRADOR_APNEA_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before configuration; missing files are ignored")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newAnalyzeCmd(opts))
	return cmd
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// buildPipeline wires the analysis pipeline from configuration.
func buildPipeline(cfg *config.Config, logger *slog.Logger) (*engine.Pipeline, error) {
	presets, err := engine.LoadPresetPack(cfg.Presets.Path, logger)
	if err != nil {
		return nil, err
	}
	algorithm, err := clustering.ParseAlgorithm(cfg.Analysis.Algorithm)
	if err != nil {
		return nil, err
	}
	return engine.NewPipeline(logger, presets, engine.Settings{
		Algorithm:  algorithm,
		Params:     cfg.Analysis.Params,
		Thresholds: cfg.Analysis.Thresholds,
		Preset:     cfg.Analysis.Preset,
	}), nil
}

// buildCache returns the configured result cache. An unreachable Valkey degrades to no caching.
func buildCache(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) cache.Provider {
	switch cfg.Backend {
	case config.CacheMemory:
		provider, err := cache.NewMemoryProvider(cache.MemoryConfig{
			MaxCostBytes: cfg.Memory.MaxCostBytes,
			NumCounters:  cfg.Memory.NumCounters,
		})
		if err != nil {
			logger.Warn("memory cache unavailable", slog.Any("error", err))
			return cache.NoopProvider{}
		}
		return provider
	case config.CacheValkey:
		provider, err := cache.NewValkeyProvider(ctx, cache.ValkeyConfig{
			Addr:         cfg.Valkey.Addr,
			Username:     cfg.Valkey.Username,
			Password:     cfg.Valkey.Password,
			DB:           cfg.Valkey.DB,
			KeyPrefix:    cfg.Valkey.KeyPrefix,
			DialTimeout:  cfg.Valkey.DialTimeout,
			ReadTimeout:  cfg.Valkey.ReadTimeout,
			WriteTimeout: cfg.Valkey.WriteTimeout,
			MaxRetries:   cfg.Valkey.MaxRetries,
			MaxIdle:      cfg.Valkey.MaxIdle,
			TLS:          cfg.Valkey.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable", slog.Any("error", err))
			return cache.NoopProvider{}
		}
		return provider
	default:
		return cache.NoopProvider{}
	}
}
