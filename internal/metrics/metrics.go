// Package metrics bundles Prometheus collectors for the crawl pipeline.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the pipeline's collectors on a dedicated registry.
type Metrics struct {
	Registry        *prometheus.Registry
	PagesTotal      *prometheus.CounterVec
	RecordsTotal    *prometheus.CounterVec
	RetriesTotal    prometheus.Counter
	UnitFailures    *prometheus.CounterVec
	ReviewsStored   prometheus.Counter
	ProductsStored  prometheus.Counter
}

// New constructs and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_pages_total",
			Help: "Pages processed, by crawl phase (listing or review).",
		},
		[]string{"phase"},
	)
	records := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_records_total",
			Help: "Extraction outcomes, by result (stored or skipped).",
		},
		[]string{"result"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_page_retries_total",
			Help: "Per-page retry attempts after a timeout.",
		},
	)
	failures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_unit_failures_total",
			Help: "Abandoned crawl units, by unit kind (term, product, star).",
		},
		[]string{"unit"},
	)
	reviews := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_reviews_stored_total",
			Help: "Review rows appended to the store.",
		},
	)
	products := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_products_upserted_total",
			Help: "Product upserts executed against the store.",
		},
	)

	registry.MustRegister(pages, records, retries, failures, reviews, products)

	return &Metrics{
		Registry:       registry,
		PagesTotal:     pages,
		RecordsTotal:   records,
		RetriesTotal:   retries,
		UnitFailures:   failures,
		ReviewsStored:  reviews,
		ProductsStored: products,
	}
}

// IncPage counts one processed page for a phase.
func (m *Metrics) IncPage(phase string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(phase).Inc()
}

// IncRecord counts one extraction outcome.
func (m *Metrics) IncRecord(result string) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(result).Inc()
}

// IncRetry counts one per-page retry.
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncUnitFailure counts one abandoned crawl unit.
func (m *Metrics) IncUnitFailure(unit string) {
	if m == nil {
		return
	}
	m.UnitFailures.WithLabelValues(unit).Inc()
}

// IncReview counts one stored review.
func (m *Metrics) IncReview() {
	if m == nil {
		return
	}
	m.ReviewsStored.Inc()
}

// IncProduct counts one product upsert.
func (m *Metrics) IncProduct() {
	if m == nil {
		return
	}
	m.ProductsStored.Inc()
}
