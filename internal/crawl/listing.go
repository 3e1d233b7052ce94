// Package crawl implements the listing and review crawlers that walk
// paginated result sets and hand extracted records to the store.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/hugoheadquarter/amazon-insights-scraper/internal/browser"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/extract"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/metrics"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/models"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/pacing"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/scrapeerr"
)

// State is the listing crawler's position in its page loop.
type State string

const (
	StateNavigating        State = "navigating"
	StateWaitingForResults State = "waiting_for_results"
	StateExtracting        State = "extracting"
	StateCheckingNextPage  State = "checking_next_page"
	StateDone              State = "done"
	StateFailed            State = "failed"
)

const (
	resultTileSelector = `div[data-component-type="s-search-result"]`
	nextPageSelector   = `a.s-pagination-next:not(.s-pagination-disabled)`
)

// Pacer supplies the delays between retries and between whole-term retries.
type Pacer interface {
	Delay(attempt int) time.Duration
	OuterDelay() time.Duration
}

// ProductStore is the persistence surface the listing crawler needs.
type ProductStore interface {
	UpsertProduct(ctx context.Context, rec *models.ListingRecord, category, term string) (int64, error)
	CountProductsForTerm(ctx context.Context, term string) (int, error)
}

// TermResult reports how the crawl of one search term ended. State is
// always Done or Failed; a failed term leaves already-stored records in
// place.
type TermResult struct {
	Term      string
	State     State
	Pages     int
	Extracted int
	Skipped   int
	Stored    int
	Err       error
}

// ListingConfig tunes one crawler instance.
type ListingConfig struct {
	BaseURL    string
	PageSize   int
	MaxRetries int

	// ThinResultThreshold triggers a whole-term retry when a finished term
	// has stored at most this many products. Zero disables it.
	ThinResultThreshold int
	OuterRetries        int
}

// ListingCrawler walks the paginated search results for one term at a time,
// storing every extractable product immediately. Page-load timeouts are
// retried in place with exponential backoff; any other failure abandons the
// term without touching records already stored.
type ListingCrawler struct {
	page      browser.Page
	extractor *extract.Extractor
	store     ProductStore
	pacer     Pacer
	metrics   *metrics.Metrics
	cfg       ListingConfig
	logger    *slog.Logger
}

func NewListingCrawler(page browser.Page, extractor *extract.Extractor, store ProductStore, pacer Pacer, m *metrics.Metrics, cfg ListingConfig) *ListingCrawler {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 60
	}
	return &ListingCrawler{
		page:      page,
		extractor: extractor,
		store:     store,
		pacer:     pacer,
		metrics:   m,
		cfg:       cfg,
		logger:    slog.Default().With("component", "listing_crawler"),
	}
}

// searchURL builds the result page URL for a term.
func (c *ListingCrawler) searchURL(term string, page int) string {
	q := url.Values{}
	q.Set("k", term)
	q.Set("page", strconv.Itoa(page))
	q.Set("page-size", strconv.Itoa(c.cfg.PageSize))
	return c.cfg.BaseURL + "/s?" + q.Encode()
}

// CrawlTerm runs the page loop for one term until the pagination control
// disappears or the term fails.
func (c *ListingCrawler) CrawlTerm(ctx context.Context, category, term string) TermResult {
	res := TermResult{Term: term}
	log := c.logger.With("term", term, "category", category)

	for pageNum := 1; ; pageNum++ {
		if err := ctx.Err(); err != nil {
			return c.fail(res, scrapeerr.Categorize(err, term, "crawl term"))
		}

		if err := c.loadPage(ctx, log, term, pageNum); err != nil {
			return c.fail(res, err)
		}
		res.Pages++
		c.metrics.IncPage("listing")

		tiles, err := c.page.QueryAll(resultTileSelector)
		if err != nil {
			return c.fail(res, scrapeerr.Categorize(err, term, "query result tiles"))
		}

		log.Info("extracting page", "page", pageNum, "tiles", len(tiles))

		for _, html := range tiles {
			rec, err := c.extractor.ListingItem(html)
			if errors.Is(err, extract.ErrSkip) {
				res.Skipped++
				c.metrics.IncRecord("skipped")
				continue
			}
			if err != nil {
				res.Skipped++
				c.metrics.IncRecord("skipped")
				log.Debug("tile extraction failed", "error", err)
				continue
			}
			res.Extracted++

			if _, err := c.store.UpsertProduct(ctx, rec, category, term); err != nil {
				// Persistence failures are never retried; stop the run.
				return c.fail(res, err)
			}
			res.Stored++
			c.metrics.IncRecord("stored")
			c.metrics.IncProduct()
		}

		more, err := c.hasNextPage()
		if err != nil {
			return c.fail(res, scrapeerr.Categorize(err, term, "check next page"))
		}
		if !more {
			break
		}

		// Base delay between successive pages.
		if err := pacing.Sleep(ctx, c.pacer.Delay(0)); err != nil {
			return c.fail(res, scrapeerr.Categorize(err, term, "page delay"))
		}
	}

	res.State = StateDone
	log.Info("term finished",
		"pages", res.Pages,
		"extracted", res.Extracted,
		"skipped", res.Skipped,
		"stored", res.Stored)
	return res
}

// CrawlTermWithRetry wraps CrawlTerm with the thin-result heuristic: a term
// that ends with too few stored products is re-crawled after a long pause,
// up to OuterRetries attempts. A term whose crawl failed is re-crawled the
// same way, since a blocked surface looks exactly like a thin one. Fatal
// errors and cancellation return immediately.
func (c *ListingCrawler) CrawlTermWithRetry(ctx context.Context, category, term string) TermResult {
	attempts := c.cfg.OuterRetries
	if attempts <= 0 || c.cfg.ThinResultThreshold <= 0 {
		attempts = 1
	}

	var res TermResult
	for attempt := 1; attempt <= attempts; attempt++ {
		res = c.CrawlTerm(ctx, category, term)
		if res.State == StateFailed &&
			(scrapeerr.IsFatal(res.Err) || scrapeerr.KindOf(res.Err) == scrapeerr.Cancelled) {
			return res
		}
		if c.cfg.ThinResultThreshold <= 0 {
			return res
		}

		count, err := c.store.CountProductsForTerm(ctx, term)
		if err != nil {
			return c.fail(res, err)
		}
		if count > c.cfg.ThinResultThreshold {
			return res
		}
		if attempt == attempts {
			c.logger.Warn("term stayed thin after all retries",
				"term", term, "stored_total", count)
			return res
		}

		c.logger.Warn("thin result set, retrying term",
			"term", term,
			"stored_total", count,
			"attempt", attempt)
		if err := pacing.Sleep(ctx, c.pacer.OuterDelay()); err != nil {
			return c.fail(res, scrapeerr.Categorize(err, term, "outer retry wait"))
		}
	}
	return res
}

// loadPage navigates to one result page and waits for tiles, retrying
// timeouts up to MaxRetries with increasing delays. Any other error is
// returned as-is and ends the term.
func (c *ListingCrawler) loadPage(ctx context.Context, log *slog.Logger, term string, pageNum int) error {
	target := c.searchURL(term, pageNum)

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return scrapeerr.Categorize(err, term, "load page")
		}

		err := c.navigateAndWait(target)
		if err == nil {
			return nil
		}
		if !scrapeerr.IsTimeout(err) {
			return err
		}

		lastErr = err
		c.metrics.IncRetry()
		delay := c.pacer.Delay(attempt + 1)
		log.Warn("page timed out, backing off",
			"page", pageNum,
			"attempt", attempt+1,
			"max_retries", c.cfg.MaxRetries,
			"delay", delay)
		if err := pacing.Sleep(ctx, delay); err != nil {
			return scrapeerr.Categorize(err, term, "retry wait")
		}
	}

	return scrapeerr.New(scrapeerr.Term, term,
		fmt.Sprintf("load page %d", pageNum),
		fmt.Errorf("timed out %d times: %w", c.cfg.MaxRetries, lastErr))
}

func (c *ListingCrawler) navigateAndWait(target string) error {
	if err := c.page.Navigate(target); err != nil {
		return scrapeerr.Categorize(err, target, "navigate")
	}
	if err := c.page.WaitFor(resultTileSelector); err != nil {
		return scrapeerr.Categorize(err, target, "wait for results")
	}
	return nil
}

func (c *ListingCrawler) hasNextPage() (bool, error) {
	controls, err := c.page.QueryAll(nextPageSelector)
	if err != nil {
		return false, err
	}
	return len(controls) > 0, nil
}

func (c *ListingCrawler) fail(res TermResult, err error) TermResult {
	res.State = StateFailed
	res.Err = err
	c.metrics.IncUnitFailure("term")
	c.logger.Error("term failed",
		"term", res.Term,
		"pages", res.Pages,
		"stored", res.Stored,
		"error", err)
	return res
}
