// Package models holds the typed records flowing between the extractor,
// the crawlers and the store.
package models

import "time"

// ListingRecord is one product as scraped from a search-results page.
// Price and Rating are nil when present on the page but unparsable; a record
// whose price/rating/review-count hit the sentinel set never becomes a
// ListingRecord at all (the extractor skips it).
type ListingRecord struct {
	Title       string
	URL         string
	Price       *float64
	Rating      *float64
	ReviewCount int
}

// ReviewRecord is one customer review scraped from a star-filtered review page.
// Date is nil when the review-date phrase could not be parsed.
type ReviewRecord struct {
	Rating       int
	Title        string
	Date         *time.Time
	Reviewer     string
	Verified     bool
	Text         string
	HelpfulCount int
}

// Product is a stored product row.
type Product struct {
	ID          int64
	Title       string
	URL         string
	Price       *float64
	Rating      *float64
	ReviewCount int
	DateScraped time.Time
}
