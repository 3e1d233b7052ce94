// Command product-scraper interactively crawls search result listings and
// stores the extracted products. It prompts for a category, then reads
// search terms until "q".
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hugoheadquarter/amazon-insights-scraper/internal/browser"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/config"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/crawl"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/extract"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/identity"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/logger"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/metrics"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/pacing"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/scrapeerr"
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

	if cfg.Auth.Email != "" {
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
	}

	extractor, err := extract.New(cfg.Scraper.BaseURL)
	if err != nil {
		log.Error("failed to build extractor", "error", err)
		os.Exit(1)
	}

	pacer := pacing.New(
		cfg.Scraper.BaseDelayMin, cfg.Scraper.BaseDelayMax,
		cfg.Scraper.OuterDelayMin, cfg.Scraper.OuterDelayMax)

	m := metrics.New()

	crawler := crawl.NewListingCrawler(page, extractor, st, pacer, m, crawl.ListingConfig{
		BaseURL:             cfg.Scraper.BaseURL,
		PageSize:            cfg.Scraper.PageSize,
		MaxRetries:          cfg.Scraper.MaxRetries,
		ThinResultThreshold: cfg.Scraper.ThinResultThreshold,
		OuterRetries:        cfg.Scraper.OuterRetries,
	})

	scanner := bufio.NewScanner(os.Stdin)

	fmt.Print("Category: ")
	if !scanner.Scan() {
		return
	}
	category := strings.TrimSpace(scanner.Text())
	if category == "" {
		fmt.Fprintln(os.Stderr, "category is required")
		os.Exit(1)
	}

	for {
		fmt.Print("Search term (q to quit): ")
		if !scanner.Scan() {
			break
		}
		term := strings.TrimSpace(scanner.Text())
		if term == "" {
			continue
		}
		if strings.EqualFold(term, "q") {
			break
		}

		res := crawler.CrawlTermWithRetry(ctx, category, term)
		if res.State == crawl.StateFailed {
			if scrapeerr.IsFatal(res.Err) || scrapeerr.KindOf(res.Err) == scrapeerr.Cancelled {
				log.Error("run aborted", "term", term, "error", res.Err)
				os.Exit(1)
			}
			fmt.Printf("term %q failed after %d pages (%d stored): %v\n",
				term, res.Pages, res.Stored, res.Err)
			continue
		}

		fmt.Printf("term %q done: %d pages, %d stored, %d skipped\n",
			term, res.Pages, res.Stored, res.Skipped)
	}

	log.Info("scrape session finished")
}
