// Command review-scraper signs in and collects reviews, one star rating at
// a time, for every product already stored by the listing crawler.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hugoheadquarter/amazon-insights-scraper/internal/browser"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/config"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/crawl"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/extract"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/identity"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/logger"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/metrics"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/pacing"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/session"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Auth.Email == "" || cfg.Auth.Password == "" {
		log.Error("review collection requires AMAZON_EMAIL and AMAZON_PASSWORD")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := store.New(ctx, store.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	st := store.NewStore(db)

	b, err := browser.New(&browser.Options{
		Headless:       cfg.Browser.Headless,
		Timeout:        cfg.Scraper.WaitTimeout,
		AcceptLanguage: cfg.Browser.AcceptLanguage,
		TimezoneID:     cfg.Browser.TimezoneID,
		Locale:         cfg.Browser.Locale,
		ProxyServer:    cfg.Browser.ProxyServer,
	})
	if err != nil {
		log.Error("failed to start browser", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	identities := identity.NewProvider(cfg.Scraper.UserAgents)
	page, err := b.NewPage(identities.Next())
	if err != nil {
		log.Error("failed to open page", "error", err)
		os.Exit(1)
	}
	defer page.Close()

	var solver session.Solver
	if cfg.Auth.CaptchaSolverURL != "" {
		solver = session.NewHTTPSolver(cfg.Auth.CaptchaSolverURL)
	}
	mgr := session.NewManager(cfg.Scraper.BaseURL, session.Credentials{
		Email:    cfg.Auth.Email,
		Password: cfg.Auth.Password,
	}, solver)
	if _, err := mgr.Authenticate(ctx, page); err != nil {
		log.Error("authentication failed", "error", err)
		os.Exit(1)
	}

	extractor, err := extract.New(cfg.Scraper.BaseURL)
	if err != nil {
		log.Error("failed to build extractor", "error", err)
		os.Exit(1)
	}

	pacer := pacing.New(
		cfg.Scraper.BaseDelayMin, cfg.Scraper.BaseDelayMax,
		cfg.Scraper.OuterDelayMin, cfg.Scraper.OuterDelayMax)

	crawler := crawl.NewReviewCrawler(page, extractor, st, pacer, metrics.New(), crawl.ReviewConfig{
		MaxRetries: cfg.Scraper.MaxRetries,
	})

	stats, err := crawler.Run(ctx)
	if err != nil {
		log.Error("review collection aborted",
			"stored", stats.Stored,
			"error", err)
		os.Exit(1)
	}

	log.Info("review collection complete",
		"products", stats.Products,
		"reviews_stored", stats.Stored,
		"skipped", stats.Skipped,
		"failed_stars", stats.FailedStars,
		"failed_products", stats.FailedProducts)
}
