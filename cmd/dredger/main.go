package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"dredger/internal/config"
	"dredger/internal/dredge"
	"dredger/internal/store"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "Path to dredger configuration file")
	dryRun := flag.Bool("dry-run", false, "Scan and verify without importing (overrides config)")
	limit := flag.Int("limit", 0, "Recipes to import per site (overrides config)")
	depth := flag.Int("depth", 0, "Sitemap entries to scan per site (overrides config)")
	sitesPath := flag.String("sites", "", "Path to a JSON file with the site list (overrides config)")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("dredger %s\n", config.Version)
		return
	}

	// Local .env files supply the library credential in dev setups.
	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *dryRun {
		cfg.Run.DryRun = true
	}
	if *limit > 0 {
		cfg.Run.TargetPerSite = *limit
	}
	if *depth > 0 {
		cfg.Run.ScanDepth = *depth
	}
	if *sitesPath != "" {
		sites, err := config.LoadSites(*sitesPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load sites: %v\n", err)
			os.Exit(1)
		}
		cfg.Sites = sites
	}

	logger, err := dredge.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}

	if !cfg.Run.DryRun && cfg.Library.Token == "" {
		logger.Warn("library token is empty; imports will likely be rejected")
	}

	st, err := newStore(*cfg, logger)
	if err != nil {
		// An unusable store location is the one fatal configuration
		// problem: without durable memory every run would re-import.
		fmt.Fprintf(os.Stderr, "failed to open persistent store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	engine, err := dredge.NewEngine(*cfg, st, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise engine: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !cfg.Run.DryRun {
		if err := engine.Ping(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "library connectivity check failed: %v\n", err)
			os.Exit(1)
		}
	}

	_, err = engine.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("stopped by signal, state flushed")
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "dredge run failed: %v\n", err)
		os.Exit(1)
	}
}

func newStore(cfg config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.Store.Backend == "sql" {
		return store.NewSQLStore(cfg.Store, logger)
	}
	return store.NewFileStore(cfg.Store.Dir, logger)
}
