package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugoheadquarter/amazon-insights-scraper/internal/extract"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/metrics"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/models"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/scrapeerr"
)

const testBaseURL = "https://www.example.test"

// fakePacer returns tiny fixed delays and records every Delay call.
type fakePacer struct {
	mu       sync.Mutex
	attempts []int
}

func (p *fakePacer) Delay(attempt int) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts = append(p.attempts, attempt)
	return time.Duration(attempt+1) * time.Millisecond
}

func (p *fakePacer) OuterDelay() time.Duration { return time.Millisecond }

// fakeStore records upserts and reviews in memory.
type fakeStore struct {
	mu         sync.Mutex
	products   []models.ListingRecord
	reviews    map[int64][]models.ReviewRecord
	termCounts []int
	upsertErr  error
	listing    []models.Product
}

func newFakeStore() *fakeStore {
	return &fakeStore{reviews: map[int64][]models.ReviewRecord{}}
}

func (s *fakeStore) UpsertProduct(ctx context.Context, rec *models.ListingRecord, category, term string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return 0, s.upsertErr
	}
	s.products = append(s.products, *rec)
	return int64(len(s.products)), nil
}

func (s *fakeStore) CountProductsForTerm(ctx context.Context, term string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.termCounts) > 0 {
		n := s.termCounts[0]
		s.termCounts = s.termCounts[1:]
		return n, nil
	}
	return len(s.products), nil
}

func (s *fakeStore) ListProducts(ctx context.Context) ([]models.Product, error) {
	return s.listing, nil
}

func (s *fakeStore) InsertReview(ctx context.Context, productID int64, rec *models.ReviewRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews[productID] = append(s.reviews[productID], *rec)
	return int64(len(s.reviews[productID])), nil
}

// searchPage is the scripted content behind one result page URL.
type searchPage struct {
	tiles   []string
	hasNext bool
}

// fakeSearchPage scripts a sequence of result pages keyed by URL.
type fakeSearchPage struct {
	pages    map[string]searchPage
	timeouts map[string]int // navigation timeouts remaining per URL
	navErr   map[string]error
	current  string
	visits   []string
}

func newFakeSearchPage() *fakeSearchPage {
	return &fakeSearchPage{
		pages:    map[string]searchPage{},
		timeouts: map[string]int{},
		navErr:   map[string]error{},
	}
}

func (p *fakeSearchPage) Navigate(target string) error {
	p.visits = append(p.visits, target)
	if err, ok := p.navErr[target]; ok {
		return err
	}
	if p.timeouts[target] != 0 {
		if p.timeouts[target] > 0 {
			p.timeouts[target]--
		}
		return fmt.Errorf("Timeout 30000ms exceeded waiting for %s", target)
	}
	p.current = target
	return nil
}

func (p *fakeSearchPage) WaitFor(selector string) error { return nil }

func (p *fakeSearchPage) QueryAll(selector string) ([]string, error) {
	page := p.pages[p.current]
	switch selector {
	case resultTileSelector:
		return page.tiles, nil
	case nextPageSelector:
		if page.hasNext {
			return []string{`<a class="s-pagination-next" href="#">Next</a>`}, nil
		}
		return nil, nil
	}
	return nil, nil
}

func (p *fakeSearchPage) Click(selector string) error       { return nil }
func (p *fakeSearchPage) Fill(selector, value string) error { return nil }

func (p *fakeSearchPage) Attribute(selector, name string) (string, bool, error) {
	return "", false, nil
}
func (p *fakeSearchPage) URL() string { return p.current }
func (p *fakeSearchPage) Close() error { return nil }

func searchURLFor(term string, page, pageSize int) string {
	q := url.Values{}
	q.Set("k", term)
	q.Set("page", strconv.Itoa(page))
	q.Set("page-size", strconv.Itoa(pageSize))
	return testBaseURL + "/s?" + q.Encode()
}

func listingTile(asin string) string {
	return fmt.Sprintf(`
	<div data-component-type="s-search-result">
		<a class="a-link-normal s-no-outline" href="/dp/%s"></a>
		<span class="a-text-normal">Product %s</span>
		<span class="a-offscreen">$19.99</span>
		<span class="a-icon-alt">4.2 out of 5 stars</span>
		<span class="a-size-base s-underline-text">120</span>
	</div>`, asin, asin)
}

func sponsoredTile() string {
	return `
	<div data-component-type="s-search-result">
		<a class="a-link-normal s-no-outline" href="/dp/SPONSORED"></a>
		<span class="a-text-normal">Sponsored Thing</span>
		<span class="a-offscreen">Click to see price</span>
		<span class="a-icon-alt">4.0 out of 5 stars</span>
		<span class="a-size-base s-underline-text">10</span>
	</div>`
}

func newTestListingCrawler(t *testing.T, page *fakeSearchPage, st *fakeStore, cfg ListingConfig) (*ListingCrawler, *fakePacer) {
	t.Helper()
	extractor, err := extract.New(testBaseURL)
	require.NoError(t, err)

	if cfg.BaseURL == "" {
		cfg.BaseURL = testBaseURL
	}
	pacer := &fakePacer{}
	return NewListingCrawler(page, extractor, st, pacer, metrics.New(), cfg), pacer
}

func TestListingCrawler_CrawlTerm(t *testing.T) {
	ctx := context.Background()

	t.Run("walks all pages and finishes done", func(t *testing.T) {
		page := newFakeSearchPage()
		page.pages[searchURLFor("widgets", 1, 60)] = searchPage{
			tiles:   []string{listingTile("B001"), listingTile("B002")},
			hasNext: true,
		}
		page.pages[searchURLFor("widgets", 2, 60)] = searchPage{
			tiles:   []string{listingTile("B003"), sponsoredTile()},
			hasNext: true,
		}
		page.pages[searchURLFor("widgets", 3, 60)] = searchPage{
			tiles: []string{listingTile("B004")},
		}

		st := newFakeStore()
		crawler, pacer := newTestListingCrawler(t, page, st, ListingConfig{})

		res := crawler.CrawlTerm(ctx, "electronics", "widgets")

		assert.Equal(t, StateDone, res.State)
		assert.NoError(t, res.Err)
		assert.Equal(t, 3, res.Pages)
		// One base delay between each pair of successive pages.
		assert.Equal(t, []int{0, 0}, pacer.attempts)
		assert.Equal(t, 4, res.Extracted)
		assert.Equal(t, 1, res.Skipped)
		assert.Equal(t, 4, res.Stored)
		assert.Len(t, st.products, 4)
		assert.Equal(t, testBaseURL+"/dp/B001", st.products[0].URL)
	})

	t.Run("absent pagination control ends the term without failing", func(t *testing.T) {
		page := newFakeSearchPage()
		page.pages[searchURLFor("widgets", 1, 60)] = searchPage{
			tiles: []string{listingTile("B001")},
		}

		st := newFakeStore()
		crawler, _ := newTestListingCrawler(t, page, st, ListingConfig{})

		res := crawler.CrawlTerm(ctx, "electronics", "widgets")

		assert.Equal(t, StateDone, res.State)
		assert.Equal(t, 1, res.Pages)
	})

	t.Run("transient timeout is retried then succeeds", func(t *testing.T) {
		page := newFakeSearchPage()
		first := searchURLFor("widgets", 1, 60)
		page.pages[first] = searchPage{tiles: []string{listingTile("B001")}}
		page.timeouts[first] = 2

		st := newFakeStore()
		crawler, pacer := newTestListingCrawler(t, page, st, ListingConfig{})

		res := crawler.CrawlTerm(ctx, "electronics", "widgets")

		assert.Equal(t, StateDone, res.State)
		assert.Equal(t, 1, res.Stored)
		assert.Equal(t, []int{1, 2}, pacer.attempts)
	})

	t.Run("timeout exhaustion fails the term after max retries", func(t *testing.T) {
		page := newFakeSearchPage()
		first := searchURLFor("widgets", 1, 60)
		page.timeouts[first] = -1 // always times out

		st := newFakeStore()
		crawler, pacer := newTestListingCrawler(t, page, st, ListingConfig{MaxRetries: 5})

		res := crawler.CrawlTerm(ctx, "electronics", "widgets")

		assert.Equal(t, StateFailed, res.State)
		require.Error(t, res.Err)
		assert.Equal(t, scrapeerr.Term, scrapeerr.KindOf(res.Err))
		// Exactly MaxRetries attempts with increasing backoff exponents.
		assert.Equal(t, []int{1, 2, 3, 4, 5}, pacer.attempts)
		assert.Len(t, page.visits, 5)
		assert.Empty(t, st.products)
	})

	t.Run("non-timeout navigation error fails immediately", func(t *testing.T) {
		page := newFakeSearchPage()
		first := searchURLFor("widgets", 1, 60)
		page.navErr[first] = errors.New("net::ERR_CONNECTION_REFUSED")

		st := newFakeStore()
		crawler, pacer := newTestListingCrawler(t, page, st, ListingConfig{})

		res := crawler.CrawlTerm(ctx, "electronics", "widgets")

		assert.Equal(t, StateFailed, res.State)
		assert.Empty(t, pacer.attempts)
		assert.Len(t, page.visits, 1)
	})

	t.Run("store failure aborts the term", func(t *testing.T) {
		page := newFakeSearchPage()
		page.pages[searchURLFor("widgets", 1, 60)] = searchPage{
			tiles: []string{listingTile("B001")},
		}

		st := newFakeStore()
		st.upsertErr = scrapeerr.NewStore("B001", "upsert_product", errors.New("connection reset"))
		crawler, _ := newTestListingCrawler(t, page, st, ListingConfig{})

		res := crawler.CrawlTerm(ctx, "electronics", "widgets")

		assert.Equal(t, StateFailed, res.State)
		assert.True(t, scrapeerr.IsFatal(res.Err))
	})

	t.Run("already stored records survive a later page failure", func(t *testing.T) {
		page := newFakeSearchPage()
		page.pages[searchURLFor("widgets", 1, 60)] = searchPage{
			tiles:   []string{listingTile("B001"), listingTile("B002")},
			hasNext: true,
		}
		second := searchURLFor("widgets", 2, 60)
		page.navErr[second] = errors.New("net::ERR_ABORTED")

		st := newFakeStore()
		crawler, _ := newTestListingCrawler(t, page, st, ListingConfig{})

		res := crawler.CrawlTerm(ctx, "electronics", "widgets")

		assert.Equal(t, StateFailed, res.State)
		assert.Equal(t, 2, res.Stored)
		assert.Len(t, st.products, 2)
	})

	t.Run("cancellation stops between pages", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()

		page := newFakeSearchPage()
		st := newFakeStore()
		crawler, _ := newTestListingCrawler(t, page, st, ListingConfig{})

		res := crawler.CrawlTerm(cancelled, "electronics", "widgets")

		assert.Equal(t, StateFailed, res.State)
		assert.Equal(t, scrapeerr.Cancelled, scrapeerr.KindOf(res.Err))
		assert.Empty(t, page.visits)
	})
}

func TestListingCrawler_CrawlTermWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("thin result set re-crawls the term", func(t *testing.T) {
		page := newFakeSearchPage()
		page.pages[searchURLFor("widgets", 1, 60)] = searchPage{
			tiles: []string{listingTile("B001")},
		}

		st := newFakeStore()
		st.termCounts = []int{5, 30} // thin on the first pass only

		crawler, _ := newTestListingCrawler(t, page, st, ListingConfig{
			ThinResultThreshold: 20,
			OuterRetries:        5,
		})

		res := crawler.CrawlTermWithRetry(ctx, "electronics", "widgets")

		assert.Equal(t, StateDone, res.State)
		// Two full passes over page one.
		assert.Len(t, page.visits, 2)
	})

	t.Run("gives up after outer retries", func(t *testing.T) {
		page := newFakeSearchPage()
		page.pages[searchURLFor("widgets", 1, 60)] = searchPage{
			tiles: []string{listingTile("B001")},
		}

		st := newFakeStore()
		st.termCounts = []int{1, 1, 1} // always thin

		crawler, _ := newTestListingCrawler(t, page, st, ListingConfig{
			ThinResultThreshold: 20,
			OuterRetries:        3,
		})

		res := crawler.CrawlTermWithRetry(ctx, "electronics", "widgets")

		assert.Equal(t, StateDone, res.State)
		assert.Len(t, page.visits, 3)
	})

	t.Run("threshold zero disables the heuristic", func(t *testing.T) {
		page := newFakeSearchPage()
		page.pages[searchURLFor("widgets", 1, 60)] = searchPage{
			tiles: []string{listingTile("B001")},
		}

		st := newFakeStore()
		crawler, _ := newTestListingCrawler(t, page, st, ListingConfig{
			OuterRetries: 5,
		})

		res := crawler.CrawlTermWithRetry(ctx, "electronics", "widgets")

		assert.Equal(t, StateDone, res.State)
		assert.Len(t, page.visits, 1)
	})

	t.Run("timeout-blocked thin term is re-crawled", func(t *testing.T) {
		page := newFakeSearchPage()
		first := searchURLFor("widgets", 1, 60)
		page.timeouts[first] = -1 // always times out

		st := newFakeStore()
		crawler, _ := newTestListingCrawler(t, page, st, ListingConfig{
			MaxRetries:          2,
			ThinResultThreshold: 20,
			OuterRetries:        3,
		})

		res := crawler.CrawlTermWithRetry(ctx, "electronics", "widgets")

		assert.Equal(t, StateFailed, res.State)
		assert.Equal(t, scrapeerr.Term, scrapeerr.KindOf(res.Err))
		// Three outer passes, each exhausting two inner attempts.
		assert.Len(t, page.visits, 6)
	})

	t.Run("navigation-failed thin term is re-crawled", func(t *testing.T) {
		page := newFakeSearchPage()
		first := searchURLFor("widgets", 1, 60)
		page.navErr[first] = errors.New("net::ERR_CONNECTION_REFUSED")

		st := newFakeStore()
		crawler, _ := newTestListingCrawler(t, page, st, ListingConfig{
			ThinResultThreshold: 20,
			OuterRetries:        5,
		})

		res := crawler.CrawlTermWithRetry(ctx, "electronics", "widgets")

		assert.Equal(t, StateFailed, res.State)
		assert.Len(t, page.visits, 5)
	})

	t.Run("fatal store failure is not re-crawled", func(t *testing.T) {
		page := newFakeSearchPage()
		page.pages[searchURLFor("widgets", 1, 60)] = searchPage{
			tiles: []string{listingTile("B001")},
		}

		st := newFakeStore()
		st.upsertErr = scrapeerr.NewStore("B001", "upsert_product", errors.New("connection reset"))
		crawler, _ := newTestListingCrawler(t, page, st, ListingConfig{
			ThinResultThreshold: 20,
			OuterRetries:        5,
		})

		res := crawler.CrawlTermWithRetry(ctx, "electronics", "widgets")

		assert.Equal(t, StateFailed, res.State)
		assert.True(t, scrapeerr.IsFatal(res.Err))
		assert.Len(t, page.visits, 1)
	})
}
