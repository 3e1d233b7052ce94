package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hugoheadquarter/amazon-insights-scraper/internal/models"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/scrapeerr"
)

// Verified-flag values kept compatible with what the dashboard reads.
const (
	verifiedText    = "Verified Purchase"
	notVerifiedText = "Not Verified"
)

const storedDateLayout = "2006-01-02"

// Store is the deduplicating persistence layer. Products are upserted keyed
// by URL; category and search-term associations are insert-or-ignore;
// reviews are append-only.
type Store struct {
	db     *DB
	outbox *OutboxRepository
	logger *slog.Logger
}

func NewStore(db *DB) *Store {
	return &Store{
		db:     db,
		outbox: NewOutboxRepository(db),
		logger: slog.Default().With("component", "store"),
	}
}

// UpsertProduct stores a listing record together with its category and
// search-term associations as one atomic unit. Re-scraping an existing URL
// overwrites the mutable fields instead of creating a duplicate row. A
// product.upserted outbox event is enqueued in the same transaction.
func (s *Store) UpsertProduct(ctx context.Context, rec *models.ListingRecord, category, term string) (int64, error) {
	var productID int64

	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		categoryID, err := upsertName(ctx, tx, "categories", "name", category)
		if err != nil {
			return fmt.Errorf("failed to upsert category: %w", err)
		}

		termID, err := upsertName(ctx, tx, "search_terms", "term", term)
		if err != nil {
			return fmt.Errorf("failed to upsert search term: %w", err)
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO products (title, url, price, rating, review_count, date_scraped)
			VALUES ($1, $2, $3, $4, $5, CURRENT_DATE)
			ON CONFLICT (url) DO UPDATE SET
				title = EXCLUDED.title,
				price = EXCLUDED.price,
				rating = EXCLUDED.rating,
				review_count = EXCLUDED.review_count,
				date_scraped = EXCLUDED.date_scraped
			RETURNING id`,
			rec.Title, rec.URL, rec.Price, rec.Rating, rec.ReviewCount,
		).Scan(&productID)
		if err != nil {
			return fmt.Errorf("failed to upsert product: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO product_categories (product_id, category_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`,
			productID, categoryID)
		if err != nil {
			return fmt.Errorf("failed to associate category: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO product_search_terms (product_id, search_term_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`,
			productID, termID)
		if err != nil {
			return fmt.Errorf("failed to associate search term: %w", err)
		}

		payload, err := json.Marshal(map[string]any{
			"product_id":   productID,
			"url":          rec.URL,
			"title":        rec.Title,
			"price":        rec.Price,
			"rating":       rec.Rating,
			"review_count": rec.ReviewCount,
			"category":     category,
			"search_term":  term,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}

		return s.outbox.InsertWithTx(ctx, tx, &OutboxEvent{
			AggregateType: "product",
			AggregateID:   rec.URL,
			EventType:     "product.upserted",
			Payload:       payload,
		})
	})
	if err != nil {
		return 0, scrapeerr.NewStore(rec.URL, "upsert_product", err)
	}

	return productID, nil
}

// upsertName inserts a unique name row and returns its id whether or not it
// already existed.
func upsertName(ctx context.Context, tx pgx.Tx, table, column, value string) (int64, error) {
	var id int64
	query := fmt.Sprintf(`
		INSERT INTO %s (%s) VALUES ($1)
		ON CONFLICT (%s) DO UPDATE SET %s = EXCLUDED.%s
		RETURNING id`, table, column, column, column, column)
	if err := tx.QueryRow(ctx, query, value).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// InsertReview appends one review row. Reviews have no natural key on the
// source, so re-running collection on a product appends again; see DESIGN.md.
func (s *Store) InsertReview(ctx context.Context, productID int64, rec *models.ReviewRecord) (int64, error) {
	verified := notVerifiedText
	if rec.Verified {
		verified = verifiedText
	}

	var date string
	if rec.Date != nil {
		date = rec.Date.Format(storedDateLayout)
	}

	var reviewID int64
	err := s.db.pool.QueryRow(ctx, `
		INSERT INTO reviews (product_id, rating, title, date, reviewer, verified, text, helpful)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		productID, rec.Rating, rec.Title, date, rec.Reviewer,
		verified, rec.Text, strconv.Itoa(rec.HelpfulCount),
	).Scan(&reviewID)
	if err != nil {
		return 0, scrapeerr.NewStore(strconv.FormatInt(productID, 10), "insert_review", err)
	}

	return reviewID, nil
}

// ListProducts returns every stored product in insertion order; the review
// crawler iterates this set.
func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	rows, err := s.db.pool.Query(ctx, `
		SELECT id, title, url, price, rating, review_count, date_scraped
		FROM products
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var p models.Product
		var scraped time.Time
		if err := rows.Scan(&p.ID, &p.Title, &p.URL, &p.Price, &p.Rating, &p.ReviewCount, &scraped); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		p.DateScraped = scraped
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}

	return products, nil
}

// CountProductsForTerm returns how many distinct products are associated
// with a search term. The listing crawler's outer-retry heuristic reads this.
func (s *Store) CountProductsForTerm(ctx context.Context, term string) (int, error) {
	var count int
	err := s.db.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM products p
		JOIN product_search_terms pst ON p.id = pst.product_id
		JOIN search_terms st ON pst.search_term_id = st.id
		WHERE st.term = $1`, term).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count products for term: %w", err)
	}
	return count, nil
}

// Stats summarizes stored row counts for the operational API.
type Stats struct {
	Categories    int64 `json:"categories"`
	SearchTerms   int64 `json:"search_terms"`
	Products      int64 `json:"products"`
	Reviews       int64 `json:"reviews"`
	OutboxPending int64 `json:"outbox_pending"`
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := s.db.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM categories),
			(SELECT COUNT(*) FROM search_terms),
			(SELECT COUNT(*) FROM products),
			(SELECT COUNT(*) FROM reviews),
			(SELECT COUNT(*) FROM outbox_event WHERE status IN ($1, $2))`,
		OutboxStatusPending, OutboxStatusFailed,
	).Scan(&stats.Categories, &stats.SearchTerms, &stats.Products, &stats.Reviews, &stats.OutboxPending)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	return stats, nil
}
