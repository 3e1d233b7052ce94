package browser

import (
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/hugoheadquarter/amazon-insights-scraper/internal/scrapeerr"
)

// Page is the driver contract a single browser-controlled page fulfils.
// Navigate and WaitFor block up to the configured timeout; a timeout
// surfaces as a scrapeerr.Timeout so callers can decide to retry. QueryAll
// returns the outer HTML of every match, which keeps extraction independent
// of the browser.
type Page interface {
	Navigate(url string) error
	WaitFor(selector string) error
	QueryAll(selector string) ([]string, error)
	Click(selector string) error
	Fill(selector, value string) error
	Attribute(selector, name string) (string, bool, error)
	URL() string
	Close() error
}

type pwPage struct {
	page    playwright.Page
	context playwright.BrowserContext
	timeout time.Duration
}

func (p *pwPage) Navigate(url string) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(p.timeout.Milliseconds())),
	})
	if err != nil {
		return scrapeerr.Categorize(err, url, "navigate")
	}
	return nil
}

func (p *pwPage) WaitFor(selector string) error {
	_, err := p.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(float64(p.timeout.Milliseconds())),
	})
	if err != nil {
		return scrapeerr.Categorize(err, p.page.URL(), "wait_for "+selector)
	}
	return nil
}

func (p *pwPage) QueryAll(selector string) ([]string, error) {
	locator := p.page.Locator(selector)
	count, err := locator.Count()
	if err != nil {
		return nil, fmt.Errorf("failed to count %q: %w", selector, err)
	}

	items := make([]string, 0, count)
	for i := 0; i < count; i++ {
		raw, err := locator.Nth(i).Evaluate("el => el.outerHTML", nil)
		if err != nil {
			return nil, fmt.Errorf("failed to read element %d of %q: %w", i, selector, err)
		}
		html, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected evaluate result for %q: %T", selector, raw)
		}
		items = append(items, html)
	}

	return items, nil
}

func (p *pwPage) Click(selector string) error {
	if err := p.page.Locator(selector).First().Click(); err != nil {
		return scrapeerr.Categorize(err, p.page.URL(), "click "+selector)
	}
	return nil
}

func (p *pwPage) Fill(selector, value string) error {
	if err := p.page.Locator(selector).First().Fill(value); err != nil {
		return scrapeerr.Categorize(err, p.page.URL(), "fill "+selector)
	}
	return nil
}

func (p *pwPage) Attribute(selector, name string) (string, bool, error) {
	locator := p.page.Locator(selector).First()

	count, err := locator.Count()
	if err != nil {
		return "", false, fmt.Errorf("failed to count %q: %w", selector, err)
	}
	if count == 0 {
		return "", false, nil
	}

	value, err := locator.GetAttribute(name)
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s of %q: %w", name, selector, err)
	}

	return value, true, nil
}

func (p *pwPage) URL() string {
	return p.page.URL()
}

func (p *pwPage) Close() error {
	if err := p.context.Close(); err != nil {
		return fmt.Errorf("failed to close context: %w", err)
	}
	return nil
}
