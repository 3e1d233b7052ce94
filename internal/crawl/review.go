package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/hugoheadquarter/amazon-insights-scraper/internal/browser"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/extract"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/metrics"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/models"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/pacing"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/scrapeerr"
)

const (
	productPageSelector = `body`
	reviewCardSelector  = `div[data-hook="review"]`
	reviewNextSelector  = `ul.a-pagination li.a-last:not(.a-disabled) a`
)

// seeAllReviewsSelectors covers both variants of the link product pages use.
var seeAllReviewsSelectors = []string{
	`a[data-hook="see-all-reviews-link-foot"]`,
	`a[data-hook="see-all-reviews-link"]`,
}

// starRatings is the order the star passes run in.
var starRatings = []int{1, 2, 3, 4, 5}

// ReviewStore is the persistence surface the review crawler needs.
type ReviewStore interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
	InsertReview(ctx context.Context, productID int64, rec *models.ReviewRecord) (int64, error)
}

// ReviewStats totals one review collection run.
type ReviewStats struct {
	Products       int
	StarPasses     int
	Pages          int
	Stored         int
	Skipped        int
	FailedStars    int
	FailedProducts int
}

// ReviewConfig tunes one review crawler instance.
type ReviewConfig struct {
	MaxRetries int
}

// ReviewCrawler collects reviews for every stored product, one star rating
// at a time. Each product and each star pass is an isolation boundary; a
// failure there is logged and the run moves on. Store and auth failures are
// the exception and abort the whole run.
type ReviewCrawler struct {
	page      browser.Page
	extractor *extract.Extractor
	store     ReviewStore
	pacer     Pacer
	metrics   *metrics.Metrics
	cfg       ReviewConfig
	logger    *slog.Logger
}

func NewReviewCrawler(page browser.Page, extractor *extract.Extractor, store ReviewStore, pacer Pacer, m *metrics.Metrics, cfg ReviewConfig) *ReviewCrawler {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	return &ReviewCrawler{
		page:      page,
		extractor: extractor,
		store:     store,
		pacer:     pacer,
		metrics:   m,
		cfg:       cfg,
		logger:    slog.Default().With("component", "review_crawler"),
	}
}

// Run collects reviews for every stored product.
func (c *ReviewCrawler) Run(ctx context.Context) (*ReviewStats, error) {
	stats := &ReviewStats{}

	products, err := c.store.ListProducts(ctx)
	if err != nil {
		return stats, err
	}

	c.logger.Info("starting review collection", "products", len(products))

	for i, product := range products {
		if err := ctx.Err(); err != nil {
			return stats, scrapeerr.Categorize(err, "review run", "collect")
		}

		c.logger.Info("processing product",
			"index", i+1,
			"total", len(products),
			"product_id", product.ID)

		if err := c.CollectProduct(ctx, product, stats); err != nil {
			if scrapeerr.IsFatal(err) || scrapeerr.KindOf(err) == scrapeerr.Cancelled {
				return stats, err
			}
			stats.FailedProducts++
			c.metrics.IncUnitFailure("product")
			c.logger.Error("product abandoned",
				"product_id", product.ID,
				"error", err)
			continue
		}
		stats.Products++
	}

	c.logger.Info("review collection finished",
		"products", stats.Products,
		"stored", stats.Stored,
		"skipped", stats.Skipped,
		"failed_stars", stats.FailedStars,
		"failed_products", stats.FailedProducts)
	return stats, nil
}

// CollectProduct opens a product's review section and runs the five star
// passes. A star pass failure does not stop the remaining passes.
func (c *ReviewCrawler) CollectProduct(ctx context.Context, product models.Product, stats *ReviewStats) error {
	log := c.logger.With("product_id", product.ID)

	if err := c.openReviewSection(ctx, product); err != nil {
		return err
	}

	// Base review URL with no star filter; each pass starts from here.
	baseReviewURL := stripStarFilter(c.page.URL())

	for _, star := range starRatings {
		if err := ctx.Err(); err != nil {
			return scrapeerr.Categorize(err, product.URL, "star passes")
		}

		if err := c.collectStar(ctx, baseReviewURL, product, star, stats); err != nil {
			if scrapeerr.IsFatal(err) || scrapeerr.KindOf(err) == scrapeerr.Cancelled {
				return err
			}
			stats.FailedStars++
			c.metrics.IncUnitFailure("star")
			log.Warn("star pass abandoned", "star", star, "error", err)
			continue
		}
		stats.StarPasses++
	}

	return nil
}

// openReviewSection navigates to the product page and follows the
// see-all-reviews link when one exists. Pages without the link keep their
// inline review list, so a missing link is not a failure; the star passes
// run against the product page itself.
func (c *ReviewCrawler) openReviewSection(ctx context.Context, product models.Product) error {
	if err := c.loadWithRetry(ctx, product.URL, productPageSelector); err != nil {
		return err
	}

	var href string
	var found bool
	for _, selector := range seeAllReviewsSelectors {
		var err error
		href, found, err = c.page.Attribute(selector, "href")
		if err != nil {
			return scrapeerr.Categorize(err, product.URL, "locate reviews link")
		}
		if found {
			break
		}
	}
	if !found {
		c.logger.Debug("no see-all-reviews link, staying on the product page",
			"product_id", product.ID)
		return nil
	}

	target, err := c.resolve(href)
	if err != nil {
		return scrapeerr.Categorize(err, product.URL, "resolve reviews link")
	}

	return c.loadWithRetry(ctx, target, reviewCardSelector)
}

// collectStar runs one star pass: apply the filter, then walk its pages.
func (c *ReviewCrawler) collectStar(ctx context.Context, baseReviewURL string, product models.Product, star int, stats *ReviewStats) error {
	unit := fmt.Sprintf("%s star=%d", product.URL, star)
	log := c.logger.With("product_id", product.ID, "star", star)

	// Reset to the unfiltered review list so one pass's filter never
	// leaks into the next.
	if err := c.loadWithRetry(ctx, baseReviewURL, reviewCardSelector); err != nil {
		return err
	}

	filterSelector := fmt.Sprintf(`a.a-link-normal[class*="%dstar"]`, star)
	href, found, err := c.page.Attribute(filterSelector, "href")
	if err != nil {
		return scrapeerr.Categorize(err, unit, "locate star filter")
	}
	if !found {
		// No filter link means no reviews at this rating.
		log.Debug("no star filter present, skipping")
		return nil
	}

	target, err := c.resolve(href)
	if err != nil {
		return scrapeerr.Categorize(err, unit, "resolve star filter")
	}

	for pageNum := 1; ; pageNum++ {
		if err := ctx.Err(); err != nil {
			return scrapeerr.Categorize(err, unit, "star pass")
		}

		if err := c.loadWithRetry(ctx, target, reviewCardSelector); err != nil {
			return err
		}
		stats.Pages++
		c.metrics.IncPage("review")

		cards, err := c.page.QueryAll(reviewCardSelector)
		if err != nil {
			return scrapeerr.Categorize(err, unit, "query review cards")
		}

		for _, html := range cards {
			rec, err := c.extractor.ReviewItem(html, star)
			if errors.Is(err, extract.ErrSkip) {
				stats.Skipped++
				c.metrics.IncRecord("skipped")
				continue
			}
			if err != nil {
				stats.Skipped++
				c.metrics.IncRecord("skipped")
				log.Debug("review extraction failed", "error", err)
				continue
			}

			if _, err := c.store.InsertReview(ctx, product.ID, rec); err != nil {
				return err
			}
			stats.Stored++
			c.metrics.IncReview()
		}

		nextHref, hasNext, err := c.page.Attribute(reviewNextSelector, "href")
		if err != nil {
			return scrapeerr.Categorize(err, unit, "check next page")
		}
		if !hasNext {
			log.Info("star pass finished", "pages", pageNum)
			return nil
		}

		target, err = c.resolve(nextHref)
		if err != nil {
			return scrapeerr.Categorize(err, unit, "resolve next page")
		}

		// Base delay between successive review pages.
		if err := pacing.Sleep(ctx, c.pacer.Delay(0)); err != nil {
			return scrapeerr.Categorize(err, unit, "page delay")
		}
	}
}

// loadWithRetry navigates and waits for a selector, retrying timeouts with
// increasing delays the same way the listing crawler does.
func (c *ReviewCrawler) loadWithRetry(ctx context.Context, target, selector string) error {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return scrapeerr.Categorize(err, target, "load page")
		}

		err := c.navigateAndWait(target, selector)
		if err == nil {
			return nil
		}
		if !scrapeerr.IsTimeout(err) {
			return err
		}

		lastErr = err
		c.metrics.IncRetry()
		delay := c.pacer.Delay(attempt + 1)
		c.logger.Warn("review page timed out, backing off",
			"url", target,
			"attempt", attempt+1,
			"delay", delay)
		if err := pacing.Sleep(ctx, delay); err != nil {
			return scrapeerr.Categorize(err, target, "retry wait")
		}
	}

	return scrapeerr.New(scrapeerr.ProductReview, target, "load page",
		fmt.Errorf("timed out %d times: %w", c.cfg.MaxRetries, lastErr))
}

func (c *ReviewCrawler) navigateAndWait(target, selector string) error {
	if err := c.page.Navigate(target); err != nil {
		return scrapeerr.Categorize(err, target, "navigate")
	}
	if err := c.page.WaitFor(selector); err != nil {
		return scrapeerr.Categorize(err, target, "wait for content")
	}
	return nil
}

func (c *ReviewCrawler) resolve(href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("bad href %q: %w", href, err)
	}
	base, err := url.Parse(c.page.URL())
	if err != nil {
		return "", fmt.Errorf("bad page url: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

// stripStarFilter removes the star filter and page position from a review
// URL so it addresses the unfiltered first page.
func stripStarFilter(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Del("filterByStar")
	q.Del("pageNumber")
	u.RawQuery = q.Encode()
	return u.String()
}
