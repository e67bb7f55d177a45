package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/singerep/censaurus/internal/cache"
	"github.com/singerep/censaurus/internal/config"
	"github.com/singerep/censaurus/internal/resilience"
	"github.com/singerep/censaurus/pkg/census"
	"github.com/singerep/censaurus/pkg/tigerweb"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "censaurus",
	Short: "Census Bureau data and geography toolkit",
	Long:  "Queries the Census Data API and TIGERWeb, with variable search, geography matching, and tabular export.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func retryConfig() resilience.RetryConfig {
	return resilience.FromRetryConfig(
		cfg.Retry.MaxAttempts,
		cfg.Retry.InitialBackoffMs,
		cfg.Retry.MaxBackoffMs,
		cfg.Retry.Multiplier,
		cfg.Retry.JitterFraction,
	)
}

// datasetOptions assembles the client, TIGERWeb, and cache options every
// dataset constructor shares.
func datasetOptions() ([]census.DatasetOption, func()) {
	clientOpts := []census.ClientOption{
		census.WithRateLimit(cfg.Census.RateLimit),
		census.WithConcurrency(cfg.Census.Concurrency),
		census.WithRetry(retryConfig()),
	}
	if cfg.Census.APIKey != "" {
		clientOpts = append(clientOpts, census.WithAPIKey(cfg.Census.APIKey))
	}

	opts := []census.DatasetOption{
		census.WithClientOptions(clientOpts...),
		census.WithTIGERWebOptions(
			tigerweb.WithRateLimit(cfg.TIGERWeb.RateLimit),
			tigerweb.WithRetry(retryConfig()),
		),
	}

	cleanup := func() {}
	if !cfg.Cache.Disabled {
		path := cfg.Cache.Path
		if path == "" {
			path = config.DefaultCachePath()
		}
		store, err := cache.Open(path)
		if err != nil {
			// A broken cache should not block queries.
			zap.L().Warn("metadata cache unavailable", zap.String("path", path), zap.Error(err))
		} else {
			if cfg.Cache.TTLHours > 0 {
				store.SetTTL(time.Duration(cfg.Cache.TTLHours) * time.Hour)
			}
			opts = append(opts, census.WithMetadataCache(store))
			cleanup = func() { _ = store.Close() }
		}
	}

	return opts, cleanup
}

// openDataset builds a Dataset for a product shorthand like "acs5" or
// "dec/pl".
func openDataset(ctx context.Context, product string, year int, opts ...census.DatasetOption) (*census.Dataset, error) {
	switch strings.ToLower(product) {
	case "acs1":
		return census.NewACS1(ctx, year, opts...)
	case "acs3":
		return census.NewACS3(ctx, year, opts...)
	case "acs5":
		return census.NewACS5(ctx, year, opts...)
	case "acsse":
		return census.NewACSSupplemental(ctx, year, opts...)
	case "acsflows", "flows":
		return census.NewACSFlows(ctx, year, opts...)
	case "acslanguage", "language":
		return census.NewACSLanguage(ctx, year, opts...)
	case "pums1":
		return census.NewPUMS(ctx, year, 1, opts...)
	case "pums5":
		return census.NewPUMS(ctx, year, 5, opts...)
	case "dec/pl", "pl":
		return census.NewDecennialPL(ctx, year, opts...)
	case "dec/sf1", "sf1":
		return census.NewDecennialSF1(ctx, year, opts...)
	case "dec/sf2", "sf2":
		return census.NewDecennialSF2(ctx, year, opts...)
	case "economic", "ewks", "ecnbasic":
		return census.NewEconomicKeyStatistics(ctx, year, opts...)
	case "estimates", "pep":
		return census.NewEstimates(ctx, year, false, opts...)
	case "estimates/monthly":
		return census.NewEstimates(ctx, year, true, opts...)
	case "projections", "popproj":
		return census.NewProjections(ctx, year, "", opts...)
	default:
		return nil, eris.Errorf("cmd: unknown product %q (try acs1, acs5, acsse, pums5, dec/pl, estimates, ...)", product)
	}
}
