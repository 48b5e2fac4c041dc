package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/caltechlibrary/documentarist/internal/cache"
	"github.com/caltechlibrary/documentarist/internal/config"
	"github.com/caltechlibrary/documentarist/internal/logger"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the service call cache",
	Long: `The service call cache keeps one stored response per unique request to
the paid recognition services, so re-analyzing a document reuses earlier
answers instead of paying for them again. These commands work against the
cache database at CACHE_PATH.`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how many service responses are cached",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached service response",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func openCacheStore(log zerolog.Logger) (*cache.SQLite, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	store, err := cache.OpenSQLite(cfg.CachePath)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.CachePath).Msg("Failed to open cache database")
		return nil, nil, err
	}
	return store, cfg, nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("cache")

	store, cfg, err := openCacheStore(log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close cache store")
		}
	}()

	services, err := store.Services(context.Background())
	if err != nil {
		return fmt.Errorf("read cache stats: %w", err)
	}

	fmt.Printf("Cache: %s\n", cfg.CachePath)
	if len(services) == 0 {
		fmt.Println("No cached service responses.")
		return nil
	}

	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)

	var total int64
	for _, name := range names {
		fmt.Printf("  %-24s %d\n", name, services[name])
		total += services[name]
	}
	fmt.Printf("Total: %d cached responses\n", total)
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("cache")

	store, cfg, err := openCacheStore(log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close cache store")
		}
	}()

	removed, err := store.Clear(context.Background())
	if err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}

	log.Info().
		Int64("removed", removed).
		Str("path", cfg.CachePath).
		Msg("Cache cleared")
	fmt.Printf("Removed %d cached service responses from %s.\n", removed, cfg.CachePath)
	return nil
}
