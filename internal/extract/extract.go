// Package extract parses raw result-item and review-item HTML into typed
// records. It operates on element outer-HTML handed over by the page driver,
// so parsing needs no browser and is testable against fixtures.
package extract

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hugoheadquarter/amazon-insights-scraper/internal/models"
)

// ErrSkip marks a record rejected by policy rather than by a parse failure.
// Callers drop the record and continue; it is not an error condition.
var ErrSkip = errors.New("record skipped")

// Placeholder values the listing surface uses where a real price, rating or
// review count should be. A listing record matching any of these is unusable
// for downstream analysis and is rejected outright.
var sentinelValues = map[string]struct{}{
	"":                   {},
	"N/A":                {},
	"$0.00":              {},
	"$0":                 {},
	"0":                  {},
	"0.00":               {},
	"0.0":                {},
	"None":               {},
	"none":               {},
	"Click to see price": {},
}

const reviewDateLayout = "January 2, 2006"

// Extractor parses listing items and review items.
type Extractor struct {
	base *url.URL
}

// New creates an extractor resolving relative product links against baseURL.
func New(baseURL string) (*Extractor, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	return &Extractor{base: base}, nil
}

// ListingItem parses one search-result item. It returns ErrSkip (wrapped)
// when the item has no usable product link or its price, rating or review
// count is a placeholder.
func (e *Extractor) ListingItem(html string) (*models.ListingRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing item: %w", err)
	}

	title := strings.TrimSpace(doc.Find("span.a-text-normal").First().Text())

	href, ok := doc.Find("a.a-link-normal.s-no-outline").First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return nil, fmt.Errorf("no product link: %w", ErrSkip)
	}
	productURL, err := e.resolve(href)
	if err != nil {
		return nil, fmt.Errorf("bad product link %q: %w", href, ErrSkip)
	}

	priceText := strings.TrimSpace(doc.Find("span.a-offscreen").First().Text())

	ratingText := strings.TrimSpace(doc.Find("span.a-icon-alt").First().Text())
	// "4.5 out of 5 stars" -> "4.5"
	if fields := strings.Fields(ratingText); len(fields) > 0 {
		ratingText = fields[0]
	}

	reviewsText := strings.TrimSpace(doc.Find("span.a-size-base.s-underline-text").First().Text())

	for _, raw := range []string{priceText, ratingText, reviewsText} {
		if _, bad := sentinelValues[raw]; bad {
			return nil, fmt.Errorf("placeholder field %q in %q: %w", raw, title, ErrSkip)
		}
	}

	rec := &models.ListingRecord{
		Title:  title,
		URL:    productURL,
		Price:  ParsePrice(priceText),
		Rating: parseDecimal(ratingText),
	}
	if n, err := strconv.Atoi(strings.ReplaceAll(reviewsText, ",", "")); err == nil && n > 0 {
		rec.ReviewCount = n
	}
	return rec, nil
}

// ReviewItem parses one review element. Records whose star badge does not
// encode expectedStar are skipped: after a filtered page transition the DOM
// can briefly hold reviews from the previous filter.
func (e *Extractor) ReviewItem(html string, expectedStar int) (*models.ReviewRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse review item: %w", err)
	}

	badge := doc.Find(`i[data-hook="review-star-rating"]`).First()
	if badge.Length() == 0 {
		badge = doc.Find(`i[class*="a-star"]`).First()
	}
	class, _ := badge.Attr("class")
	if !strings.Contains(class, fmt.Sprintf("a-star-%d", expectedStar)) {
		return nil, fmt.Errorf("star badge %q does not match %d-star pass: %w", class, expectedStar, ErrSkip)
	}

	rec := &models.ReviewRecord{
		Rating:   expectedStar,
		Title:    strings.TrimSpace(doc.Find(`a[data-hook="review-title"]`).First().Text()),
		Reviewer: strings.TrimSpace(doc.Find("span.a-profile-name").First().Text()),
		Verified: doc.Find(`span[data-hook="avp-badge"]`).Length() > 0,
		Text:     strings.TrimSpace(doc.Find(`span[data-hook="review-body"]`).First().Text()),
	}

	rec.Date = ParseReviewDate(doc.Find(`span[data-hook="review-date"]`).First().Text())

	rec.HelpfulCount = ParseHelpfulCount(doc.Find(`span[data-hook="helpful-vote-statement"]`).First().Text())

	return rec, nil
}

func (e *Extractor) resolve(href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	return e.base.ResolveReference(ref).String(), nil
}

// ParsePrice normalizes a price string by stripping currency symbols and
// thousands separators, then parses it. Unparsable prices yield nil, not zero.
func ParsePrice(s string) *float64 {
	cleaned := strings.TrimSpace(s)
	for _, sym := range []string{"$", "€", "£", ","} {
		cleaned = strings.ReplaceAll(cleaned, sym, "")
	}
	return parseDecimal(cleaned)
}

// ParseReviewDate extracts the calendar date from a review-date phrase such
// as "Reviewed in the United States on January 5, 2023". Any parse failure
// yields nil; consumers must tolerate missing dates.
func ParseReviewDate(phrase string) *time.Time {
	phrase = strings.TrimSpace(phrase)
	idx := strings.LastIndex(phrase, " on ")
	if idx < 0 {
		return nil
	}
	datePart := strings.TrimSpace(phrase[idx+len(" on "):])
	t, err := time.Parse(reviewDateLayout, datePart)
	if err != nil {
		return nil
	}
	return &t
}

// ParseHelpfulCount parses a helpful-vote phrase ("1,234 people found this
// helpful", "One person found this helpful") into a count. Anything else is 0.
func ParseHelpfulCount(phrase string) int {
	fields := strings.Fields(strings.TrimSpace(phrase))
	if len(fields) == 0 {
		return 0
	}
	first := fields[0]
	if strings.EqualFold(first, "one") {
		return 1
	}
	n, err := strconv.Atoi(strings.ReplaceAll(first, ",", ""))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func parseDecimal(s string) *float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &v
}
